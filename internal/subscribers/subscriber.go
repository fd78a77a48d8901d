// Package subscribers holds the sinks that receive completion lifecycle
// events from the dispatcher.
package subscribers

import (
	"context"
	"errors"

	"crabstack.local/claude-gateway/internal/events"
)

// ErrPermanent marks a delivery failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent delivery failure")

type Subscriber interface {
	Name() string
	Handle(context.Context, events.Event) error
}
