package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Handler delivers one entry to a downstream channel.
type Handler interface {
	Handle(ctx context.Context, e Entry) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, e Entry) error

func (f HandlerFunc) Handle(ctx context.Context, e Entry) error { return f(ctx, e) }

// Recorder receives delivery metrics.
type Recorder interface {
	OutboxDelivered(eventType string)
	OutboxFailed(eventType string)
}

type store interface {
	FetchPending(ctx context.Context, limit int32, maxAttempts int) ([]Entry, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, cause error) error
}

// Dispatcher polls the outbox and hands entries to the handler. Failed
// entries stay pending and are retried on the next poll until they reach
// maxAttempts, after which they are left in the table for operators.
type Dispatcher struct {
	store       store
	handler     Handler
	logger      zerolog.Logger
	metrics     Recorder
	batchSize   int32
	maxAttempts int
	interval    time.Duration
}

func NewDispatcher(s *Store, handler Handler, logger zerolog.Logger) *Dispatcher {
	return newDispatcher(s, handler, logger)
}

func newDispatcher(s store, handler Handler, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:       s,
		handler:     handler,
		logger:      logger.With().Str("component", "outbox").Logger(),
		batchSize:   25,
		maxAttempts: 10,
		interval:    2 * time.Second,
	}
}

func (d *Dispatcher) WithBatchSize(size int32) *Dispatcher {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Dispatcher) WithMaxAttempts(n int) *Dispatcher {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Dispatcher) WithMetrics(m Recorder) *Dispatcher {
	d.metrics = m
	return d
}

// Start polls until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	if d.store == nil || d.handler == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info().Dur("interval", d.interval).Int32("batch_size", d.batchSize).Msg("outbox dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("outbox dispatcher stopped")
			return
		case <-ticker.C:
			d.Drain(ctx) //nolint:errcheck
		}
	}
}

// Drain delivers one batch and returns how many entries went out.
func (d *Dispatcher) Drain(ctx context.Context) (int, error) {
	entries, err := d.store.FetchPending(ctx, d.batchSize, d.maxAttempts)
	if err != nil {
		d.logger.Error().Err(err).Msg("outbox fetch failed")
		return 0, err
	}
	delivered := 0
	for _, e := range entries {
		if err := d.handler.Handle(ctx, e); err != nil {
			d.logger.Error().Err(err).Str("event_id", e.ID.String()).Str("type", e.Type).
				Int("attempts", e.Attempts+1).Msg("outbox delivery failed")
			if d.metrics != nil {
				d.metrics.OutboxFailed(e.Type)
			}
			if err := d.store.MarkFailed(ctx, e.ID, err); err != nil {
				d.logger.Error().Err(err).Str("event_id", e.ID.String()).Msg("failed to record outbox failure")
				continue
			}
			if e.Attempts+1 >= d.maxAttempts {
				d.logger.Error().Str("event_id", e.ID.String()).Str("type", e.Type).
					Msg("outbox entry exhausted its attempts and will not be retried")
			}
			continue
		}
		ok, err := d.store.MarkDelivered(ctx, e.ID)
		if err != nil {
			d.logger.Error().Err(err).Str("event_id", e.ID.String()).Msg("failed to mark outbox delivered")
			continue
		}
		if ok {
			delivered++
			if d.metrics != nil {
				d.metrics.OutboxDelivered(e.Type)
			}
			d.logger.Debug().Str("event_id", e.ID.String()).Str("type", e.Type).Msg("outbox delivered")
		}
	}
	return delivered, nil
}
