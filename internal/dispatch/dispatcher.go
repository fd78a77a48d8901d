package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crabstack.local/claude-gateway/internal/events"
	"crabstack.local/claude-gateway/internal/subscribers"
)

type Dispatcher struct {
	logger       zerolog.Logger
	subscribers  []subscribers.Subscriber
	retryCount   int
	retryBackoff time.Duration

	inflight sync.WaitGroup
}

func New(logger zerolog.Logger, subs []subscribers.Subscriber) *Dispatcher {
	return &Dispatcher{
		logger:       logger.With().Str("component", "dispatcher").Logger(),
		subscribers:  subs,
		retryCount:   3,
		retryBackoff: 150 * time.Millisecond,
	}
}

// Dispatch delivers event to every subscriber asynchronously. Delivery is
// detached from ctx cancellation so events outlive the request that
// produced them.
func (d *Dispatcher) Dispatch(ctx context.Context, event events.Event) {
	if d == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	for _, sub := range d.subscribers {
		s := sub
		d.inflight.Add(1)
		go func() {
			defer d.inflight.Done()
			d.dispatchOne(detached, s, event)
		}()
	}
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	if d == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, sub subscribers.Subscriber, event events.Event) {
	for attempt := 1; attempt <= d.retryCount; attempt++ {
		err := sub.Handle(ctx, event)
		if err == nil {
			return
		}

		d.logger.Warn().
			Err(err).
			Str("subscriber", sub.Name()).
			Str("event_id", event.EventID).
			Int("attempt", attempt).
			Msg("subscriber failed")
		if attempt == d.retryCount || errors.Is(err, subscribers.ErrPermanent) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.retryBackoff):
		}
	}
}
