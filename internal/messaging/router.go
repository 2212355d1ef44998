package messaging

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/the-marketplace/project/internal/contracts"
)

var ErrNoHandler = errors.New("no handler for event kind")

// EventHandler handles one decoded event.
type EventHandler func(ctx context.Context, env contracts.Envelope, event contracts.Event) error

// EventMux decodes envelopes and dispatches them on the event kind tag.
type EventMux struct {
	handlers map[contracts.Kind]EventHandler
}

func NewEventMux() *EventMux {
	return &EventMux{handlers: map[contracts.Kind]EventHandler{}}
}

func (m *EventMux) Handle(kind contracts.Kind, handler EventHandler) {
	m.handlers[kind] = handler
}

// HandlerFunc adapts the mux to a broker handler. Decode failures and unknown
// kinds are returned so the broker retries and eventually dead-letters them.
func (m *EventMux) HandlerFunc() HandlerFunc {
	return func(ctx context.Context, d Delivery) error {
		env, event, err := contracts.Decode(d.Data)
		if err != nil {
			return err
		}
		handler, ok := m.handlers[event.Kind()]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoHandler, event.Kind())
		}
		return handler(ctx, env, event)
	}
}

type Route struct {
	Subscription Subscription
	Handler      HandlerFunc
}

// Router binds a table of subscriptions to their handlers.
type Router struct {
	broker Broker
	routes []Route
	logger *log.Entry
}

func NewRouter(broker Broker, logger *log.Entry) *Router {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Router{broker: broker, logger: logger}
}

func (r *Router) Handle(sub Subscription, handler HandlerFunc) {
	r.routes = append(r.routes, Route{Subscription: sub, Handler: handler})
}

func (r *Router) Routes() []Route {
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}

// Run subscribes every route and blocks until ctx is cancelled, then
// unsubscribes and waits for in-flight handlers.
func (r *Router) Run(ctx context.Context) error {
	subscribers := make([]Subscriber, 0, len(r.routes))
	stopAll := func() {
		for _, s := range subscribers {
			if err := s.Unsubscribe(); err != nil {
				r.logger.WithError(err).Warn("unsubscribe failed")
			}
		}
	}

	for _, route := range r.routes {
		s, err := r.broker.Subscribe(ctx, route.Subscription, route.Handler)
		if err != nil {
			stopAll()
			return fmt.Errorf("subscribe %s: %w", route.Subscription.Name, err)
		}
		subscribers = append(subscribers, s)
		r.logger.WithFields(log.Fields{
			"subscription": route.Subscription.Name,
			"topic":        route.Subscription.Topic,
		}).Info("route active")
	}

	<-ctx.Done()
	stopAll()
	return nil
}
