package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"crabstack.local/claude-gateway/internal/events"
	"crabstack.local/claude-gateway/internal/subscribers"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyExcerpt = 4 << 10
	userAgent      = "claude-gateway-webhook/1.0"

	HeaderEventType = "X-Gateway-Event"
	HeaderEventID   = "X-Gateway-Event-ID"
)

// DeliveryError reports a non-2xx response from the receiving endpoint.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook responded %d: %q", e.StatusCode, e.Body)
}

// Unwrap classifies client errors as permanent, except timeouts and rate
// limiting which may succeed on a later attempt.
func (e *DeliveryError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return nil
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return subscribers.ErrPermanent
	}
	return nil
}

type Option func(*Subscriber)

// WithClient replaces the default HTTP client.
func WithClient(client *http.Client) Option {
	return func(s *Subscriber) {
		if client != nil {
			s.client = client
		}
	}
}

// WithEvents restricts delivery to the listed event types.
func WithEvents(types ...events.Type) Option {
	return func(s *Subscriber) {
		if len(types) == 0 {
			return
		}
		s.only = make(map[events.Type]struct{}, len(types))
		for _, t := range types {
			s.only[t] = struct{}{}
		}
	}
}

// Subscriber POSTs completion events as JSON to a single endpoint.
type Subscriber struct {
	name     string
	endpoint string
	client   *http.Client
	only     map[events.Type]struct{}
	logger   zerolog.Logger
}

func New(name, endpoint string, logger zerolog.Logger, opts ...Option) *Subscriber {
	s := &Subscriber{
		name:     strings.TrimSpace(name),
		endpoint: strings.TrimSpace(endpoint),
		client:   &http.Client{Timeout: defaultTimeout},
	}
	if s.name == "" {
		s.name = "webhook"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = logger.With().Str("subscriber", s.name).Logger()
	return s
}

func (s *Subscriber) Name() string {
	return s.name
}

func (s *Subscriber) Endpoint() string {
	return s.endpoint
}

func (s *Subscriber) wants(t events.Type) bool {
	if s.only == nil {
		return true
	}
	_, ok := s.only[t]
	return ok
}

func (s *Subscriber) Handle(ctx context.Context, event events.Event) error {
	if !s.wants(event.Type) {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.Type, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderEventType, string(event.Type))
	req.Header.Set(HeaderEventID, event.EventID)

	started := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver %s: %w", event.EventID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyExcerpt))
		s.logger.Debug().
			Str("event_id", event.EventID).
			Str("event_type", string(event.Type)).
			Int("status", resp.StatusCode).
			Dur("elapsed", time.Since(started)).
			Msg("webhook delivered")
		return nil
	}

	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyExcerpt))
	return &DeliveryError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(excerpt))}
}
