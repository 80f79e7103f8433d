package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"loadline/internal/config"
	"loadline/internal/repo"
)

const (
	defaultInterval = 2 * time.Second
	defaultBatch    = 100
)

// Dispatcher polls the event log and hands each new event to every sink that
// accepts it. Each sink keeps its own persisted cursor, advanced only after a
// successful delivery, so a failing sink is retried from the same event on
// the next poll and never holds back the others.
type Dispatcher struct {
	Repo     repo.Repo
	OrgID    string
	Sinks    []Sink
	Interval time.Duration
	Batch    int
	// FromStart makes sinks without a cursor replay the whole log instead of
	// starting at the newest event.
	FromStart bool
	Logger    *zap.Logger
}

// Result summarizes one pass over all sinks.
type Result struct {
	Delivered int
	Skipped   int
	Failed    []string
}

func NewDispatcher(r repo.Repo, orgID string, sinks []Sink, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		Repo:     r,
		OrgID:    orgID,
		Sinks:    sinks,
		Interval: defaultInterval,
		Batch:    defaultBatch,
		Logger:   logger.Named("notify"),
	}
}

// WebhookSinks builds a sink for every enabled webhook in cfg.
func WebhookSinks(cfg *config.Config, client *http.Client) []Sink {
	if cfg == nil {
		return nil
	}
	var sinks []Sink
	for _, hook := range cfg.Notify.Webhooks {
		if !hook.IsEnabled() || hook.URL == "" {
			continue
		}
		sinks = append(sinks, NewWebhookSink(hook, client))
	}
	return sinks
}

// Run dispatches until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	interval := d.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := d.DispatchOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger().Warn("dispatch pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DispatchOnce drains up to one batch per sink.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (Result, error) {
	var res Result
	for _, sink := range d.Sinks {
		delivered, skipped, err := d.dispatchSink(ctx, sink)
		res.Delivered += delivered
		res.Skipped += skipped
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed = append(res.Failed, sink.ID())
			d.logger().Warn("delivery failed", zap.String("sink", sink.ID()), zap.Error(err))
		}
	}
	return res, nil
}

func (d *Dispatcher) dispatchSink(ctx context.Context, sink Sink) (delivered, skipped int, err error) {
	cursor, err := d.cursorFor(ctx, sink)
	if err != nil {
		return 0, 0, err
	}
	batch := d.Batch
	if batch <= 0 {
		batch = defaultBatch
	}
	evts, err := d.Repo.EventsAfter(ctx, batch, cursor, d.OrgID)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch events: %w", err)
	}
	for _, evt := range evts {
		if sink.Accepts(evt.Type) {
			if err := sink.Deliver(ctx, evt); err != nil {
				return delivered, skipped, fmt.Errorf("event %d: %w", evt.ID, err)
			}
			delivered++
		} else {
			skipped++
		}
		if err := d.Repo.SaveCursor(ctx, d.OrgID, sink.ID(), evt.ID); err != nil {
			return delivered, skipped, fmt.Errorf("save cursor: %w", err)
		}
	}
	return delivered, skipped, nil
}

func (d *Dispatcher) cursorFor(ctx context.Context, sink Sink) (int64, error) {
	cur, ok, err := d.Repo.GetCursor(ctx, d.OrgID, sink.ID())
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	if ok || d.FromStart {
		return cur, nil
	}
	cur, err = d.Repo.LatestEventID(ctx, d.OrgID)
	if err != nil {
		return 0, fmt.Errorf("init cursor: %w", err)
	}
	if err := d.Repo.SaveCursor(ctx, d.OrgID, sink.ID(), cur); err != nil {
		return 0, fmt.Errorf("init cursor: %w", err)
	}
	return cur, nil
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}
