package amqphook

import (
	"log/slog"
	"time"

	"github.com/xraph/renderq/event"
)

// Option configures an Extension.
type Option func(*Extension)

// PayloadFunc builds the message body for a transition. It replaces the
// default JSON body.
type PayloadFunc func(t event.Transition) ([]byte, error)

// WithExchange sets the topic exchange name.
func WithExchange(name string) Option {
	return func(h *Extension) { h.exchange = name }
}

// WithEvents restricts the extension to publish only the listed event
// types. By default every transition is published.
func WithEvents(types ...event.Type) Option {
	return func(h *Extension) {
		h.enabled = make(map[event.Type]bool, len(types))
		for _, t := range types {
			h.enabled[t] = true
		}
	}
}

// WithPayloadFunc replaces the default message body builder.
func WithPayloadFunc(fn PayloadFunc) Option {
	return func(h *Extension) { h.payload = fn }
}

// WithBufferSize sets how many events may wait for publishing.
func WithBufferSize(n int) Option {
	return func(h *Extension) { h.bufferSize = n }
}

// WithPublishRetry sets how many times a failed publish is retried and the
// base delay between attempts. The delay doubles per attempt.
func WithPublishRetry(retries int, baseDelay time.Duration) Option {
	return func(h *Extension) {
		h.retries = retries
		h.retryDelay = baseDelay
	}
}

// WithPublishTimeout bounds a single publish call.
func WithPublishTimeout(d time.Duration) Option {
	return func(h *Extension) { h.timeout = d }
}

// WithLogger sets a custom logger for the extension.
func WithLogger(l *slog.Logger) Option {
	return func(h *Extension) { h.logger = l }
}
