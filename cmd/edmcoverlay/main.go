package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/gOOvER/EDMCOverlay/client"
	"github.com/gOOvER/EDMCOverlay/config"
	"github.com/gOOvER/EDMCOverlay/host"
	"github.com/gOOvER/EDMCOverlay/message"
	"github.com/gOOvER/EDMCOverlay/metrics"
	"github.com/gOOvER/EDMCOverlay/overlay"
	"github.com/gOOvER/EDMCOverlay/overlaytest"
	"github.com/gOOvER/EDMCOverlay/supervisor"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// stack is everything a subcommand needs, wired from flags and config.
type stack struct {
	logger  *zap.Logger
	cfg     *config.Store
	client  *client.Client
	sup     *supervisor.Supervisor
	overlay *overlay.Overlay
	summary *metrics.Summary
	stats   *metrics.Server
}

func (s *stack) close() {
	if s.stats != nil {
		if err := s.stats.Stop(); err != nil {
			s.logger.Sugar().Debugw("stopping stats server", "err", err)
		}
	}
}

func buildLogger(verbose bool, level string) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	return logger.WithOptions(zap.IncreaseLevel(lvl)), nil
}

func buildStack(c *cli.Context) (*stack, error) {
	cfg, cfgErr := config.Load(c.String("config"))

	logger, err := buildLogger(c.Bool("verbose"), cfg.LogLevel())
	if err != nil {
		return nil, err
	}
	if cfgErr != nil {
		logger.Sugar().Warnw("config file unusable, continuing on defaults", "err", cfgErr)
	}

	addr := c.String("addr")
	if addr == "" {
		addr = cfg.ServerAddr()
	}

	summary := metrics.NewSummary()
	var collector metrics.Collector = summary

	var stats *metrics.Server
	if statsAddr := c.String("stats-addr"); statsAddr != "" {
		prom := metrics.NewProm("edmcoverlay")
		collector = metrics.Tee{summary, prom}
		stats = metrics.NewServer(summary, prom,
			metrics.WithServerLogger(logger),
			metrics.WithListenAddr(statsAddr),
		)
		if err := stats.Start(); err != nil {
			return nil, fmt.Errorf("starting stats server: %w", err)
		}
		logger.Sugar().Infow("stats server listening", "addr", stats.Addr())
	}

	cl := client.New(addr,
		client.WithLogger(logger),
		client.WithAttempts(cfg.ConnectAttempts()),
		client.WithDialTimeout(cfg.ConnectTimeout()),
		client.WithRetryDelay(cfg.ConnectDelay()),
		client.WithMetrics(collector),
	)

	sup := supervisor.New(addr,
		supervisor.WithLogger(logger),
		supervisor.WithProgram(cfg.Program()),
		supervisor.WithSearchDirs(cfg.SearchPaths()),
		supervisor.WithGracePeriod(cfg.GracePeriod()),
		supervisor.WithStopTimeout(cfg.StopTimeout()),
		supervisor.WithMetrics(collector),
	)

	ov := overlay.New(cl, sup,
		overlay.WithLogger(logger),
		overlay.WithDefaultTTL(cfg.DefaultTTL()),
		overlay.WithDefaultSize(cfg.DefaultSize()),
		overlay.WithDefaultColor(cfg.DefaultColor()),
		overlay.WithAllowedCommands(cfg.AllowedCommands()),
	)

	return &stack{
		logger:  logger,
		cfg:     cfg,
		client:  cl,
		sup:     sup,
		overlay: ov,
		summary: summary,
		stats:   stats,
	}, nil
}

func messageOpts(c *cli.Context) []overlay.MessageOption {
	var opts []overlay.MessageOption
	if c.IsSet("ttl") {
		opts = append(opts, overlay.WithTTL(c.Int("ttl")))
	}
	if c.IsSet("size") {
		opts = append(opts, overlay.WithSize(c.String("size")))
	}
	return opts
}

func main() {
	app := &cli.App{
		Name:  "edmcoverlay",
		Usage: "drive the EDMCOverlay renderer over its loopback control channel",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Renderer control address (host:port). Overrides the config file.",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to the config file.",
			},
			&cli.StringFlag{
				Name:  "stats-addr",
				Usage: "Serve /healthz, /stats and /metrics on this address.",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log at debug level.",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "send",
				Usage:     "display a text message on the overlay",
				ArgsUsage: "<text>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Value: "cli", Usage: "Message id; resending an id replaces it."},
					&cli.StringFlag{Name: "color", Usage: "Text color. Empty uses the configured default."},
					&cli.StringFlag{Name: "size", Usage: "Text size (normal or large)."},
					&cli.IntFlag{Name: "x", Value: 100},
					&cli.IntFlag{Name: "y", Value: 100},
					&cli.IntFlag{Name: "ttl", Usage: "Seconds the message stays visible."},
				},
				Action: func(c *cli.Context) error {
					text := strings.Join(c.Args().Slice(), " ")
					if text == "" {
						return fmt.Errorf("message text required")
					}
					st, err := buildStack(c)
					if err != nil {
						return err
					}
					defer st.close()
					defer st.client.Disconnect()
					return st.overlay.SendMessage(c.Context, c.String("id"), text, c.String("color"),
						c.Int("x"), c.Int("y"), messageOpts(c)...)
				},
			},
			{
				Name:  "shape",
				Usage: "display a shape on the overlay",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Value: "cli-shape"},
					&cli.StringFlag{Name: "shape", Value: "rect", Usage: "Shape kind, e.g. rect or vect."},
					&cli.StringFlag{Name: "color", Usage: "Outline color. Empty uses the configured default."},
					&cli.StringFlag{Name: "fill", Usage: "Fill color. Empty leaves the shape unfilled."},
					&cli.IntFlag{Name: "x", Value: 100},
					&cli.IntFlag{Name: "y", Value: 100},
					&cli.IntFlag{Name: "w", Value: 100},
					&cli.IntFlag{Name: "h", Value: 40},
					&cli.IntFlag{Name: "ttl", Usage: "Seconds the shape stays visible."},
				},
				Action: func(c *cli.Context) error {
					st, err := buildStack(c)
					if err != nil {
						return err
					}
					defer st.close()
					defer st.client.Disconnect()
					return st.overlay.SendShape(c.Context, c.String("id"), c.String("shape"),
						c.String("color"), c.String("fill"),
						c.Int("x"), c.Int("y"), c.Int("w"), c.Int("h"), messageOpts(c)...)
				},
			},
			{
				Name:      "command",
				Usage:     "send an allow-listed control command to the renderer",
				ArgsUsage: "<command>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("exactly one command required")
					}
					st, err := buildStack(c)
					if err != nil {
						return err
					}
					defer st.close()
					defer st.client.Disconnect()
					return st.overlay.SendCommand(c.Context, c.Args().First())
				},
			},
			{
				Name:  "status",
				Usage: "report renderer liveness and client statistics",
				Action: func(c *cli.Context) error {
					st, err := buildStack(c)
					if err != nil {
						return err
					}
					defer st.close()
					return runStatus(c, st)
				},
			},
			{
				Name:      "up",
				Usage:     "launch the renderer if it is not already serving",
				ArgsUsage: "[service args...]",
				Action: func(c *cli.Context) error {
					st, err := buildStack(c)
					if err != nil {
						return err
					}
					defer st.close()
					if err := st.sup.EnsureRunning(c.Context, c.Args().Slice()...); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "service %s, alive=%v\n",
						st.sup.State(), st.sup.IsAlive(c.Context))
					return nil
				},
			},
			{
				Name:  "down",
				Usage: "ask the renderer to exit and stop any supervised process",
				Action: func(c *cli.Context) error {
					st, err := buildStack(c)
					if err != nil {
						return err
					}
					defer st.close()
					ctx := c.Context
					if st.sup.IsAlive(ctx) {
						if err := st.overlay.SendCommand(ctx, "exit"); err != nil {
							st.logger.Sugar().Warnw("exit command failed", "err", err)
						}
						st.client.Disconnect()
					}
					if err := st.sup.Stop(); err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, "service stopped")
					return nil
				},
			},
			{
				Name:  "console",
				Usage: "interactive console: plain text, key=value pairs, or raw JSON per line",
				Action: func(c *cli.Context) error {
					st, err := buildStack(c)
					if err != nil {
						return err
					}
					defer st.close()
					return runConsole(c, st)
				},
			},
			{
				Name:  "serve",
				Usage: "run a stub renderer that records messages instead of drawing them",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen",
						Value: "127.0.0.1:5010",
						Usage: "Address to listen on.",
					},
				},
				Action: func(c *cli.Context) error {
					logger, err := buildLogger(c.Bool("verbose"), "info")
					if err != nil {
						return err
					}
					server, err := overlaytest.Start(c.String("listen"), overlaytest.WithLogger(logger))
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "stub renderer listening on %s\n", server.Addr())

					ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
					defer stop()
					<-ctx.Done()
					return server.Close()
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runStatus(c *cli.Context, st *stack) error {
	ctx := c.Context

	exe, _ := st.sup.FindExecutable()
	out := struct {
		Addr         string        `json:"addr"`
		Alive        bool          `json:"alive"`
		ClientState  string        `json:"client_state"`
		ServiceState string        `json:"service_state"`
		Executable   string        `json:"executable,omitempty"`
		Stats        metrics.Stats `json:"stats"`
	}{
		Addr:         st.client.Addr(),
		Alive:        st.sup.IsAlive(ctx),
		ClientState:  st.client.State().String(),
		ServiceState: st.sup.State().String(),
		Executable:   exe,
		Stats:        st.summary.Snapshot(),
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runConsole(c *cli.Context, st *stack) error {
	ctx := c.Context

	adapter := host.New(st.overlay, st.sup, host.WithLogger(st.logger))
	if err := adapter.Start(ctx); err != nil {
		// the console is also for poking at a renderer that is not up yet
		fmt.Fprintf(c.App.ErrWriter, "overlay not ready: %s\n", err)
	}

	fmt.Fprintln(c.App.Writer, `type text, key=value pairs, or raw JSON; "quit" to leave`)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(c.App.Writer, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}
		if err := consoleSend(ctx, st, line); err != nil {
			fmt.Fprintf(c.App.ErrWriter, "error: %s\n", err)
		}
	}
	return st.client.Disconnect()
}

func consoleSend(ctx context.Context, st *stack, line string) error {
	switch {
	case strings.HasPrefix(line, "{"):
		var raw message.Raw
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return fmt.Errorf("parsing json: %w", err)
		}
		return sendRaw(ctx, st, raw)
	case strings.Contains(line, "="):
		return sendRaw(ctx, st, parsePairs(line))
	default:
		return st.overlay.SendMessage(ctx, "debug", line, "red", 100, 100)
	}
}

// sendRaw pushes a parsed console message through the client, connecting
// first when needed. A bare command message goes through the facade instead,
// so the command allow-list holds on the console path too; everything else
// is still sanitized on the way out.
func sendRaw(ctx context.Context, st *stack, raw message.Raw) error {
	if cmd, ok := raw["command"].(string); ok && len(raw) == 1 {
		return st.overlay.SendCommand(ctx, cmd)
	}
	if st.client.State() != client.Connected {
		if err := st.sup.EnsureRunning(ctx); err != nil {
			return err
		}
		if err := st.client.Connect(ctx); err != nil {
			return err
		}
	}
	return st.client.SendRaw(ctx, raw)
}

// parsePairs turns "id=hud text=fuel x=20 y=40 ttl=8" into a message.
// Values with spaces need the JSON form.
func parsePairs(line string) message.Raw {
	raw := message.Raw{}
	for _, tok := range strings.Fields(line) {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		switch k {
		case "x", "y", "w", "h", "ttl":
			if n, err := strconv.Atoi(v); err == nil {
				raw[k] = n
			}
		default:
			raw[k] = v
		}
	}
	return raw
}
