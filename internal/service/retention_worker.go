package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/teamhub-realtime/internal/observability"
)

// RetentionWorker periodically removes chat messages older than the retention window.
type RetentionWorker struct {
	chat      ChatService
	retention time.Duration
	interval  time.Duration
	logger    zerolog.Logger
	now       func() time.Time

	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

// NewRetentionWorker creates a worker. A non-positive retention disables purging.
func NewRetentionWorker(chat ChatService, retention, interval time.Duration, logger zerolog.Logger) *RetentionWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionWorker{
		chat:      chat,
		retention: retention,
		interval:  interval,
		logger:    logger.With().Str("component", "retention_worker").Logger(),
		now:       time.Now,
	}
}

// Enabled reports whether the worker has anything to do.
func (w *RetentionWorker) Enabled() bool {
	return w.retention > 0
}

// Start launches the purge loop. It is a no-op when retention is disabled.
func (w *RetentionWorker) Start(ctx context.Context) {
	if !w.Enabled() || w.stopChan != nil {
		return
	}
	w.stopChan = make(chan struct{})
	w.doneChan = make(chan struct{})

	go w.run(ctx)
	w.logger.Info().Dur("retention", w.retention).Dur("interval", w.interval).Msg("retention worker started")
}

func (w *RetentionWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	defer close(w.doneChan)

	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Warn().Err(err).Msg("chat retention purge failed")
			}
		}
	}
}

// RunOnce purges every message created before now minus the retention window.
func (w *RetentionWorker) RunOnce(ctx context.Context) (int64, error) {
	if !w.Enabled() {
		return 0, nil
	}

	cutoff := w.now().Add(-w.retention)
	purged, err := w.chat.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		observability.RetentionPurged().Add(float64(purged))
		w.logger.Info().Int64("purged", purged).Time("cutoff", cutoff).Msg("purged expired chat messages")
	}
	return purged, nil
}

// Stop halts the loop and waits for an in-flight purge or ctx expiry.
func (w *RetentionWorker) Stop(ctx context.Context) error {
	if w.stopChan == nil {
		return nil
	}

	w.stopOnce.Do(func() {
		close(w.stopChan)
	})

	select {
	case <-w.doneChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
