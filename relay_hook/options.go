package relayhook

import (
	"log/slog"
	"net/http"
)

// Option configures an Extension.
type Option func(*Extension)

// PayloadFunc builds a custom event payload for a specific event type.
// The args parameter carries the default payload and the returned value
// replaces it as the envelope's data field.
type PayloadFunc func(args any) (any, error)

// WithEvents restricts the extension to deliver only the listed event
// types. By default all event types are enabled. Unknown types are
// silently ignored.
func WithEvents(events ...string) Option {
	return func(h *Extension) {
		h.enabled = make(map[string]bool, len(events))
		for _, e := range events {
			h.enabled[e] = true
		}
	}
}

// WithPayloadFunc registers a custom payload builder for the given event
// type. The function replaces the default JSON payload for that event.
func WithPayloadFunc(eventType string, fn PayloadFunc) Option {
	return func(h *Extension) {
		if h.payloads == nil {
			h.payloads = make(map[string]PayloadFunc)
		}
		h.payloads[eventType] = fn
	}
}

// WithSecret sets the HMAC-SHA256 signing key. Deliveries carry the
// hex-encoded digest of the body in the X-Taskfair-Signature header.
// Without a secret the header is omitted.
func WithSecret(secret []byte) Option {
	return func(h *Extension) { h.secret = secret }
}

// WithHTTPClient replaces the HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Extension) { h.client = c }
}

// WithLogger sets a custom logger for the extension.
func WithLogger(l *slog.Logger) Option {
	return func(h *Extension) { h.logger = l }
}
