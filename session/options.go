package session

import (
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/risa-org/cdp/protocol"
	"github.com/risa-org/cdp/serializer"
)

// Observer receives counters-style notifications from a connection and its
// sessions. metrics.Collector is the production implementation.
// Methods are called synchronously and must not block.
type Observer interface {
	MessageReceived(kind protocol.Kind)
	MessageSent(kind protocol.Kind)
	ReceiveError(err error)
	HandlerError(method string, err error)
	SessionOpened()
	SessionClosed()
}

type nopObserver struct{}

func (nopObserver) MessageReceived(protocol.Kind) {}
func (nopObserver) MessageSent(protocol.Kind)     {}
func (nopObserver) ReceiveError(error)            {}
func (nopObserver) HandlerError(string, error)    {}
func (nopObserver) SessionOpened()                {}
func (nopObserver) SessionClosed()                {}

type settings struct {
	serializer   serializer.Serializer
	logger       *zap.Logger
	observer     Observer
	captureStack bool
	middleware   []Middleware
	rateLimit    rate.Limit
	rateBurst    int
}

func defaultSettings() settings {
	return settings{
		serializer: serializer.JSON{},
		logger:     zap.NewNop(),
		observer:   nopObserver{},
	}
}

// Option configures a Connection.
type Option func(*settings)

// WithSerializer picks the wire format. The default is serializer.JSON.
func WithSerializer(s serializer.Serializer) Option {
	return func(o *settings) {
		if s != nil {
			o.serializer = s
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *settings) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver installs an observer for messages, errors and sessions.
func WithObserver(obs Observer) Option {
	return func(o *settings) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithStackCapture records the caller's stack on every client request and
// attaches it to the error if the request fails. Costly; meant for debugging.
func WithStackCapture(enabled bool) Option {
	return func(o *settings) { o.captureStack = enabled }
}

// WithMiddleware wraps every server handler. The first middleware is the
// outermost. Client connections ignore it.
func WithMiddleware(mw ...Middleware) Option {
	return func(o *settings) { o.middleware = append(o.middleware, mw...) }
}

// WithRateLimit limits handler invocations to r per second with the given
// burst. Every server session gets its own limiter, innermost after the
// configured middleware. Client connections ignore it.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(o *settings) {
		o.rateLimit = r
		o.rateBurst = burst
	}
}
