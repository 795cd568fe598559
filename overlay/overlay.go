// Package overlay is the facade callers use to put text and shapes on the
// overlay: it lazily ensures the renderer process is up, connects, and
// sends, surfacing failures unmodified so the caller decides what a missed
// display update is worth.
package overlay

import (
	"context"
	"errors"

	"github.com/gOOvER/EDMCOverlay/client"
	"github.com/gOOvER/EDMCOverlay/message"
	"go.uber.org/zap"
)

// ServiceSupervisor is the supervisor surface the facade drives.
type ServiceSupervisor interface {
	EnsureRunning(ctx context.Context, extraArgs ...string) error
	IsAlive(ctx context.Context) bool
	Stop() error
}

const (
	DefaultTTL   = 4
	DefaultSize  = "normal"
	DefaultColor = "white"
)

// Overlay owns one long-lived protocol client and a reference to the
// supervisor. Sends follow ensure-then-send: a disconnected client first
// gets the service ensured and a fresh connection, then exactly one send
// attempt. Nothing retries beyond the connect budget.
type Overlay struct {
	logger          *zap.SugaredLogger
	client          *client.Client
	sup             ServiceSupervisor
	serviceArgs     []string
	defaultTTL      int
	defaultSize     string
	defaultColor    string
	allowedCommands map[string]struct{}
}

type Option func(o *Overlay)

func WithLogger(l *zap.Logger) Option {
	return func(o *Overlay) {
		o.logger = l.Named("overlay").Sugar()
	}
}

// WithServiceArgs sets extra arguments passed to the renderer on launch.
func WithServiceArgs(args ...string) Option {
	return func(o *Overlay) {
		o.serviceArgs = args
	}
}

func WithDefaultTTL(ttl int) Option {
	return func(o *Overlay) {
		o.defaultTTL = ttl
	}
}

func WithDefaultSize(size string) Option {
	return func(o *Overlay) {
		o.defaultSize = size
	}
}

func WithDefaultColor(color string) Option {
	return func(o *Overlay) {
		o.defaultColor = color
	}
}

// WithAllowedCommands replaces the command allow-list (default: exit, clear,
// status).
func WithAllowedCommands(cmds []string) Option {
	return func(o *Overlay) {
		o.allowedCommands = make(map[string]struct{}, len(cmds))
		for _, c := range cmds {
			o.allowedCommands[c] = struct{}{}
		}
	}
}

// New builds the facade around an existing client and supervisor.
func New(cli *client.Client, sup ServiceSupervisor, opts ...Option) *Overlay {
	o := &Overlay{
		logger:       zap.NewNop().Sugar(),
		client:       cli,
		sup:          sup,
		defaultTTL:   DefaultTTL,
		defaultSize:  DefaultSize,
		defaultColor: DefaultColor,
		allowedCommands: map[string]struct{}{
			"exit":   {},
			"clear":  {},
			"status": {},
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type messageParams struct {
	ttl  int
	size string
}

// MessageOption overrides per-message defaults on SendMessage and SendShape.
type MessageOption func(p *messageParams)

// WithTTL sets how many seconds the renderer keeps the message visible.
func WithTTL(ttl int) MessageOption {
	return func(p *messageParams) {
		p.ttl = ttl
	}
}

// WithSize sets the text size ("normal" or "large").
func WithSize(size string) MessageOption {
	return func(p *messageParams) {
		p.size = size
	}
}

func (o *Overlay) params(opts []MessageOption) messageParams {
	p := messageParams{ttl: o.defaultTTL, size: o.defaultSize}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

func (o *Overlay) ensureConnected(ctx context.Context) error {
	if o.client.State() == client.Connected {
		return nil
	}
	if err := o.sup.EnsureRunning(ctx, o.serviceArgs...); err != nil {
		return err
	}
	return o.client.Connect(ctx)
}

// SendMessage displays a text label at (x, y). TTL and size fall back to
// the configured defaults; an empty color falls back to the default color.
func (o *Overlay) SendMessage(ctx context.Context, id, text, color string, x, y int, opts ...MessageOption) error {
	if id == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if color == "" {
		color = o.defaultColor
	}
	p := o.params(opts)

	if err := o.ensureConnected(ctx); err != nil {
		return err
	}
	return o.client.SendRaw(ctx, message.Text(id, text, color, p.size, x, y, p.ttl))
}

// SendShape displays a geometric primitive. Supported shapes are up to the
// renderer; "rect" and "vect" are what stock renderers know.
func (o *Overlay) SendShape(ctx context.Context, id, shape, color, fill string, x, y, w, h int, opts ...MessageOption) error {
	if id == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if shape == "" {
		return &ValidationError{Field: "shape", Reason: "must not be empty"}
	}
	if color == "" {
		color = o.defaultColor
	}
	p := o.params(opts)

	if err := o.ensureConnected(ctx); err != nil {
		return err
	}
	return o.client.SendRaw(ctx, message.Shape(id, shape, color, fill, x, y, w, h, p.ttl))
}

// SendCommand sends a bare allow-listed command. Unlike the display sends
// it never launches the service: commanding a renderer that is not there is
// pointless, most of all for the exit handshake.
func (o *Overlay) SendCommand(ctx context.Context, command string) error {
	if command == "" {
		return &ValidationError{Field: "command", Reason: "must not be empty"}
	}
	if _, ok := o.allowedCommands[command]; !ok {
		return &ValidationError{Field: "command", Reason: "not in the allowed command list"}
	}

	if o.client.State() != client.Connected {
		if err := o.client.Connect(ctx); err != nil {
			return err
		}
	}
	return o.client.SendRaw(ctx, message.Command(command))
}

// Close sends the exit handshake if connected, then drops the connection.
// Both steps are best effort; the joined error is safe to ignore.
func (o *Overlay) Close() error {
	var errs []error
	if o.client.State() == client.Connected {
		if err := o.client.SendRaw(context.Background(), message.Command("exit")); err != nil {
			o.logger.Debugw("exit handshake failed", "err", err)
			errs = append(errs, err)
		}
	}
	if err := o.client.Disconnect(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
