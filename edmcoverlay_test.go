package edmcoverlay

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gOOvER/EDMCOverlay/client"
	"github.com/gOOvER/EDMCOverlay/config"
	"github.com/gOOvER/EDMCOverlay/host"
	"github.com/gOOvER/EDMCOverlay/message"
	"github.com/gOOvER/EDMCOverlay/metrics"
	"github.com/gOOvER/EDMCOverlay/overlay"
	"github.com/gOOvER/EDMCOverlay/overlaytest"
	"github.com/gOOvER/EDMCOverlay/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// waitForDisplay polls until n non-probe messages have arrived.
func waitForDisplay(t *testing.T, server *overlaytest.Server, n int) []message.Raw {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		var got []message.Raw
		for _, m := range server.Messages() {
			if !message.IsProbe(m) {
				got = append(got, m)
			}
		}
		if len(got) >= n {
			return got
		}
		require.True(t, time.Now().Before(deadline),
			"timed out waiting for %d display messages, have %d", n, len(got))
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOverlayEndToEnd(t *testing.T) {
	ctx := context.Background()

	server, err := overlaytest.Start("")
	require.NoError(t, err)
	defer server.Close()

	hostAddr, portStr, err := net.SplitHostPort(server.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfgPath := filepath.Join(t.TempDir(), "edmcoverlay.yaml")
	cfgYAML := fmt.Sprintf("server:\n  address: %s\n  port: %d\noverlay:\n  default_color: green\n", hostAddr, port)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o644))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	require.Equal(t, server.Addr(), cfg.ServerAddr())

	summary := metrics.NewSummary()
	prom := metrics.NewProm("edmcoverlay_e2e")
	collector := metrics.Tee{summary, prom}

	stats := metrics.NewServer(summary, prom)
	require.NoError(t, stats.Start())
	defer stats.Stop()

	cl := client.New(cfg.ServerAddr(),
		client.WithAttempts(cfg.ConnectAttempts()),
		client.WithDialTimeout(cfg.ConnectTimeout()),
		client.WithRetryDelay(10*time.Millisecond),
		client.WithMetrics(collector),
	)
	sup := supervisor.New(cfg.ServerAddr(),
		supervisor.WithProgram(cfg.Program()),
		supervisor.WithMetrics(collector),
	)
	ov := overlay.New(cl, sup,
		overlay.WithDefaultTTL(cfg.DefaultTTL()),
		overlay.WithDefaultSize(cfg.DefaultSize()),
		overlay.WithDefaultColor(cfg.DefaultColor()),
		overlay.WithAllowedCommands(cfg.AllowedCommands()),
	)
	adapter := host.New(ov, sup)

	// startup announces the overlay
	require.NoError(t, adapter.Start(ctx))
	msgs := waitForDisplay(t, server, 1)
	assert.Equal(t, "edmcintro", msgs[0]["id"])
	assert.Equal(t, "EDMC Ready", msgs[0]["text"])

	// concurrent senders share the single connection; every message still
	// arrives as its own intact line
	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < 5; i++ {
		i := i
		group.Go(func() error {
			for j := 0; j < 4; j++ {
				id := fmt.Sprintf("hud-%d-%d", i, j)
				if err := ov.SendMessage(groupCtx, id, "status", "", 20, 30+10*i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, group.Wait())

	msgs = waitForDisplay(t, server, 21)
	ids := map[string]bool{}
	for _, m := range msgs[1:] {
		ids[m["id"].(string)] = true
		// empty color fell back to the config file's default
		assert.Equal(t, "green", m["color"])
	}
	assert.Len(t, ids, 20)

	// per-event keepalive is a no-op while the renderer lives
	require.NoError(t, adapter.JournalEntry(ctx))

	// the stats endpoint serves the same counters
	resp, err := http.Get("http://" + stats.Addr() + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var snap metrics.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.GreaterOrEqual(t, snap.Messages.TotalSent, int64(21))

	// a dropped connection surfaces exactly once, then the facade recovers
	// on its own
	server.DropConnections()
	var sendErr error
	for i := 0; i < 20; i++ {
		sendErr = ov.SendMessage(ctx, "lost", "gone", "", 0, 0)
		if sendErr != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Error(t, sendErr)
	var lostErr *client.ConnectionLostError
	require.ErrorAs(t, sendErr, &lostErr)

	require.NoError(t, ov.SendMessage(ctx, "recovered", "back", "", 40, 50))
	msgs = waitForDisplay(t, server, 22)
	assert.Equal(t, "recovered", msgs[len(msgs)-1]["id"])

	// shutdown sends the exit handshake and leaves everything closed
	require.NoError(t, adapter.Stop())
	assert.Equal(t, client.Disconnected, cl.State())
	assert.Eventually(t, func() bool {
		all := server.Messages()
		return len(all) > 0 && message.TypeOf(all[len(all)-1]) == "command"
	}, 2*time.Second, 10*time.Millisecond)

	final := summary.Snapshot()
	assert.GreaterOrEqual(t, final.Messages.TotalSent, int64(23))
	assert.Equal(t, int64(2), final.Connections.Total)
	assert.Equal(t, 0, final.Connections.Current)
}
