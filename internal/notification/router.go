package notification

import (
	"context"
	"log/slog"
	"strings"

	"github.com/telhawk-systems/flowguard/internal/logging"
)

// Router delivers messages to named channels. It satisfies the alert
// dispatcher's notifier contract: unknown or unconfigured channels report
// false and never return an error.
type Router struct {
	channels map[string]Channel
	logger   *slog.Logger
}

// NewRouter creates a Router over channels, keyed by their Type.
func NewRouter(logger *slog.Logger, channels ...Channel) *Router {
	r := &Router{
		channels: make(map[string]Channel, len(channels)),
		logger:   logging.OrDefault(logger),
	}
	for _, ch := range channels {
		r.channels[ch.Type()] = ch
	}
	return r
}

// Supports reports whether name is a known channel.
func (r *Router) Supports(name string) bool {
	_, ok := r.channels[strings.ToLower(name)]
	return ok
}

// Send delivers msg on the named channel and reports success.
func (r *Router) Send(ctx context.Context, name string, msg *Message) bool {
	logger := logging.FromContext(ctx, r.logger).With(logging.Channel(name), logging.Service(msg.Service))

	ch, ok := r.channels[strings.ToLower(name)]
	if !ok {
		logger.Warn("unsupported alert channel")
		return false
	}
	if !ch.Configured() {
		logger.Debug("alert channel not configured, skipping")
		return false
	}

	if err := ch.Send(ctx, msg); err != nil {
		logger.Warn("alert delivery failed", logging.Error(err))
		return false
	}
	return true
}
