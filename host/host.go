// Package host adapts the overlay stack to the lifecycle hooks a plugin
// host calls: once at startup, once per telemetry event, once at shutdown.
package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/gOOvER/EDMCOverlay/overlay"
	"go.uber.org/zap"
)

// Intro message shown when the overlay comes up.
const (
	introID    = "edmcintro"
	introText  = "EDMC Ready"
	introColor = "green"
	introX     = 30
	introY     = 165
	introTTL   = 6
)

// Adapter binds one overlay facade and its supervisor to the host's hooks.
type Adapter struct {
	logger      *zap.SugaredLogger
	overlay     *overlay.Overlay
	sup         overlay.ServiceSupervisor
	serviceArgs []string
}

type Option func(a *Adapter)

func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) {
		a.logger = l.Named("host").Sugar()
	}
}

// WithServiceArgs sets extra arguments used when JournalEntry relaunches the
// renderer.
func WithServiceArgs(args ...string) Option {
	return func(a *Adapter) {
		a.serviceArgs = args
	}
}

func New(o *overlay.Overlay, sup overlay.ServiceSupervisor, opts ...Option) *Adapter {
	a := &Adapter{
		logger:  zap.NewNop().Sugar(),
		overlay: o,
		sup:     sup,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start brings the overlay up and announces it with the intro message. The
// send path launches the service and connects as needed, so a returned error
// means the renderer is genuinely unavailable.
func (a *Adapter) Start(ctx context.Context) error {
	err := a.overlay.SendMessage(ctx, introID, introText, introColor, introX, introY,
		overlay.WithTTL(introTTL))
	if err != nil {
		a.logger.Warnw("overlay not ready at startup", "err", err)
		return err
	}
	a.logger.Infow("overlay ready")
	return nil
}

// JournalEntry keeps the renderer alive across telemetry events: one probe
// connection per event, relaunch when it is gone. The host may ignore the
// returned error; the next event tries again.
func (a *Adapter) JournalEntry(ctx context.Context) error {
	if a.sup.IsAlive(ctx) {
		return nil
	}
	a.logger.Infow("overlay service down, relaunching")
	if err := a.sup.EnsureRunning(ctx, a.serviceArgs...); err != nil {
		return fmt.Errorf("relaunching overlay service: %w", err)
	}
	return nil
}

// Stop tears the stack down: exit handshake, connection close, service stop.
// Each step is best effort and the joined error is safe to ignore.
func (a *Adapter) Stop() error {
	err := errors.Join(a.overlay.Close(), a.sup.Stop())
	if err != nil {
		a.logger.Debugw("shutdown finished with errors", "err", err)
	}
	return err
}
