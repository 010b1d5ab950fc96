// Package worker runs the periodic reconciliation sweep and keeps the calendar
// feed in step with the stored reminders.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tartampluch/go-keepintouch/internal/config"
	"github.com/tartampluch/go-keepintouch/internal/engine"
)

// Reminders is what the worker needs from the reconciler.
type Reminders interface {
	GenerateUpcomingReminders(ctx context.Context) (engine.GenerateResult, error)
	Agenda(ctx context.Context, withinDays int) ([]engine.ContactReminder, error)
}

// Renderer turns the agenda into a calendar document.
type Renderer interface {
	Build(ctx context.Context, items []engine.ContactReminder, now time.Time) ([]byte, error)
}

type Worker struct {
	Reminders Reminders
	Renderer  Renderer
	Publish   func(data []byte)
	Clock     engine.Clock

	// Interval between sweeps. Zero disables the periodic sweep; the feed is
	// still rebuilt on Trigger.
	Interval time.Duration
	Days     int

	trigger chan struct{}
}

func New(reminders Reminders, renderer Renderer, publish func([]byte)) *Worker {
	return &Worker{
		Reminders: reminders,
		Renderer:  renderer,
		Publish:   publish,
		Clock:     engine.RealClock{},
		Interval:  config.DefaultSweepInterval,
		Days:      config.DefaultUpcomingDays,
		trigger:   make(chan struct{}, config.ChannelBufferSize),
	}
}

// Trigger asks for a feed rebuild without waiting. Requests coalesce.
func (w *Worker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Run sweeps once, then on every tick, until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	log := slog.With(config.LogKeyComponent, config.CompWorker)

	_ = w.Sweep(ctx)

	var tick <-chan time.Time
	if w.Interval > 0 {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		tick = ticker.C
		log.Info(config.MsgWorkerStart, config.LogKeyInterval, w.Interval)
	} else {
		log.Info(config.MsgWorkerDisabled)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info(config.MsgWorkerStop)
			return nil

		case <-w.trigger:
			_ = w.Rebuild(ctx)

		case <-tick:
			_ = w.Sweep(ctx)
		}
	}
}

// Sweep reconciles every contact and rebuilds the feed. Errors are logged and
// returned; a failed sweep is retried on the next tick.
func (w *Worker) Sweep(ctx context.Context) error {
	if _, err := w.Reminders.GenerateUpcomingReminders(ctx); err != nil {
		slog.ErrorContext(ctx, config.MsgSweepFailed,
			config.LogKeyComponent, config.CompWorker,
			config.LogKeyError, err)
		return err
	}
	return w.Rebuild(ctx)
}

// Rebuild renders the current agenda and publishes it.
func (w *Worker) Rebuild(ctx context.Context) error {
	err := w.rebuild(ctx)
	if err != nil {
		slog.ErrorContext(ctx, config.MsgSweepFailed,
			config.LogKeyComponent, config.CompWorker,
			config.LogKeyError, err)
	}
	return err
}

func (w *Worker) rebuild(ctx context.Context) error {
	items, err := w.Reminders.Agenda(ctx, w.Days)
	if err != nil {
		return fmt.Errorf("%s: %w", config.ErrListReminders, err)
	}
	data, err := w.Renderer.Build(ctx, items, w.Clock.Now())
	if err != nil {
		return err
	}
	if w.Publish != nil {
		w.Publish(data)
	}
	return nil
}
