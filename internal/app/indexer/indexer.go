package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/the-marketplace/project/internal/app/search"
	"github.com/the-marketplace/project/internal/config"
	"github.com/the-marketplace/project/internal/contracts"
	"github.com/the-marketplace/project/internal/messaging"
	"github.com/the-marketplace/project/internal/platform/metrics"
)

// ErrDocumentNotIndexed is returned for a publish without a snapshot that
// arrives before the listing itself was indexed. The broker redelivers it.
var ErrDocumentNotIndexed = errors.New("document not indexed yet")

var (
	messagesTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "indexer_messages_total",
		Help: "Indexer messages by subscription and outcome.",
	}, []string{"subscription", "outcome"})
	handleSeconds = metrics.NewHistogramVec(metrics.Opts{
		Name: "indexer_handle_seconds",
		Help: "Time spent applying one message to the read model.",
	}, []string{"subscription"}, metrics.DefBuckets)
)

func init() {
	metrics.Default.MustRegister(messagesTotal, handleSeconds)
}

// Indexer projects domain events onto the search read model.
type Indexer struct {
	Repository search.Repository
	Dedup      Deduper
	Logger     *log.Entry
}

func New(repository search.Repository, logger *log.Entry) *Indexer {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Indexer{Repository: repository, Logger: logger}
}

// Mux dispatches every event kind the indexer understands.
func (ix *Indexer) Mux() *messaging.EventMux {
	mux := messaging.NewEventMux()
	mux.Handle(contracts.KindListingCreated, ix.logged(ix.handleListingCreated))
	mux.Handle(contracts.KindListingUpdated, ix.logged(ix.handleListingUpdated))
	mux.Handle(contracts.KindListingPublished, ix.logged(ix.handleListingPublished))
	mux.Handle(contracts.KindListingDeleted, ix.logged(ix.handleListingDeleted))
	mux.Handle(contracts.KindDriverCreated, ix.logged(ix.handleDriverCreated))
	return mux
}

// Subscriptions lists the named subscriptions the indexer binds.
func Subscriptions(cfg config.Indexer) []messaging.Subscription {
	bindings := []struct{ name, topic string }{
		{contracts.SubscriptionListingCreated, contracts.TopicListingCreated},
		{contracts.SubscriptionListingUpdated, contracts.TopicListingUpdated},
		{contracts.SubscriptionListingPublished, contracts.TopicListingPublished},
		{contracts.SubscriptionListingDeleted, contracts.TopicListingDeleted},
		{contracts.SubscriptionDriverCreated, contracts.TopicDriverCreated},
	}
	subs := make([]messaging.Subscription, 0, len(bindings))
	for _, b := range bindings {
		subs = append(subs, messaging.Subscription{
			Name:          b.name,
			Topic:         b.topic,
			MaxDeliver:    cfg.MaxDeliver,
			AckWait:       cfg.AckWait,
			Backoff:       cfg.Backoff,
			Workers:       cfg.Workers,
			HandleTimeout: cfg.HandleTimeout,
		})
	}
	return subs
}

// Register adds one route per subscription to router.
func (ix *Indexer) Register(router *messaging.Router, cfg config.Indexer) {
	handler := ix.Mux().HandlerFunc()
	for _, sub := range Subscriptions(cfg) {
		router.Handle(sub, ix.instrument(sub.Name, withDedup(ix.Dedup, sub.Name, ix.Logger, handler)))
	}
}

func (ix *Indexer) instrument(subscription string, next messaging.HandlerFunc) messaging.HandlerFunc {
	return func(ctx context.Context, d messaging.Delivery) error {
		start := time.Now()
		err := next(ctx, d)
		handleSeconds.WithLabelValues(subscription).ObserveSince(start)
		if err != nil {
			messagesTotal.WithLabelValues(subscription, "error").Inc()
			if !errors.Is(err, errLogged) {
				ix.Logger.WithFields(log.Fields{
					"subscription": subscription,
					"message_id":   d.ID,
					"topic":        d.Topic,
					"attempt":      d.Attempt,
					"error":        err,
				}).Error("message rejected")
			}
			return err
		}
		messagesTotal.WithLabelValues(subscription, "ok").Inc()
		return nil
	}
}

// errLogged marks errors that already carry a log line with event context.
var errLogged = errors.New("logged")

type loggedError struct{ err error }

func (e loggedError) Error() string   { return e.err.Error() }
func (e loggedError) Unwrap() []error { return []error{e.err, errLogged} }

func (ix *Indexer) logged(handler messaging.EventHandler) messaging.EventHandler {
	return func(ctx context.Context, env contracts.Envelope, event contracts.Event) error {
		entry := ix.Logger.WithFields(log.Fields{
			"kind":       event.Kind(),
			"subject_id": event.SubjectID(),
			"message_id": env.MessageID,
		})
		if err := handler(ctx, env, event); err != nil {
			entry.WithField("error", err).Error("index event failed")
			return loggedError{err: err}
		}
		entry.Debug("event indexed")
		return nil
	}
}

func (ix *Indexer) handleListingCreated(ctx context.Context, _ contracts.Envelope, event contracts.Event) error {
	e := event.(contracts.ListingCreated)
	return ix.save(ctx, fromListingCreated(e))
}

func (ix *Indexer) handleListingUpdated(ctx context.Context, _ contracts.Envelope, event contracts.Event) error {
	e := event.(contracts.ListingUpdated)
	existing, err := ix.lookup(ctx, e.ListingID)
	if err != nil {
		return err
	}
	return ix.save(ctx, fromListingUpdated(e, existing))
}

func (ix *Indexer) handleListingPublished(ctx context.Context, _ contracts.Envelope, event contracts.Event) error {
	e := event.(contracts.ListingPublished)
	if e.Listing != nil {
		return ix.save(ctx, fromListingSnapshot(e.ListingID, *e.Listing, e.PublishedAt))
	}
	existing, err := ix.lookup(ctx, e.ListingID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: %s", ErrDocumentNotIndexed, e.ListingID)
	}
	return ix.save(ctx, markPublished(*existing, e.PublishedAt))
}

func (ix *Indexer) handleListingDeleted(ctx context.Context, _ contracts.Envelope, event contracts.Event) error {
	e := event.(contracts.ListingDeleted)
	if err := ix.Repository.Delete(ctx, e.ListingID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (ix *Indexer) handleDriverCreated(ctx context.Context, _ contracts.Envelope, event contracts.Event) error {
	e := event.(contracts.DriverCreated)
	return ix.save(ctx, fromDriverCreated(e))
}

func (ix *Indexer) save(ctx context.Context, doc search.Document) error {
	if err := ix.Repository.Save(ctx, doc); err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

// lookup returns the indexed document or nil when there is none.
func (ix *Indexer) lookup(ctx context.Context, identifier string) (*search.Document, error) {
	doc, err := ix.Repository.Get(ctx, identifier)
	if errors.Is(err, search.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	return &doc, nil
}
