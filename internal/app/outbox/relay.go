package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"
	"github.com/the-marketplace/project/internal/config"
	"github.com/the-marketplace/project/internal/messaging"
	"github.com/the-marketplace/project/internal/platform/metrics"
)

var relayed = metrics.NewCounterVec(metrics.Opts{
	Name: "outbox_relayed_total",
	Help: "Outbox records handled by the relay, by outcome.",
}, []string{"outcome"})

func init() {
	metrics.Default.MustRegister(relayed)
}

// Outbox is the storage side the relay drains.
type Outbox interface {
	WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
	FetchPending(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error)
	MarkPublished(ctx context.Context, tx pgx.Tx, ids []string) error
	MarkFailed(ctx context.Context, tx pgx.Tx, failures []Failure, maxAttempts int) error
}

// Relay publishes stored records to the broker. Records keep their id as the
// broker message id, so a record republished after a crash between publish
// and commit is dropped by broker de-duplication.
type Relay struct {
	Outbox      Outbox
	Publisher   messaging.Publisher
	BatchSize   int
	Interval    time.Duration
	MaxAttempts int
	Logger      *log.Entry
}

func NewRelay(outbox Outbox, publisher messaging.Publisher, cfg config.Outbox, logger *log.Entry) *Relay {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	r := &Relay{
		Outbox:      outbox,
		Publisher:   publisher,
		BatchSize:   cfg.BatchSize,
		Interval:    cfg.PollInterval,
		MaxAttempts: cfg.MaxAttempts,
		Logger:      logger,
	}
	if r.BatchSize <= 0 {
		r.BatchSize = 100
	}
	if r.Interval <= 0 {
		r.Interval = time.Second
	}
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 10
	}
	return r
}

// RunOnce relays one batch and reports how many records it fetched.
// Records are published in order; a failure does not stop the batch.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	fetched := 0
	err := r.Outbox.WithTransaction(ctx, func(tx pgx.Tx) error {
		records, err := r.Outbox.FetchPending(ctx, tx, r.BatchSize)
		if err != nil {
			return err
		}
		fetched = len(records)

		var published []string
		var failures []Failure
		for _, rec := range records {
			if err := r.Publisher.Publish(ctx, rec.Message()); err != nil {
				r.Logger.WithFields(log.Fields{
					"message_id": rec.ID,
					"topic":      rec.Topic,
					"attempts":   rec.Attempts + 1,
					"error":      err,
				}).Warn("outbox publish failed")
				failures = append(failures, Failure{ID: rec.ID, Reason: err.Error()})
				relayed.WithLabelValues("failed").Inc()
				continue
			}
			published = append(published, rec.ID)
			relayed.WithLabelValues("published").Inc()
		}

		if err := r.Outbox.MarkPublished(ctx, tx, published); err != nil {
			return err
		}
		return r.Outbox.MarkFailed(ctx, tx, failures, r.MaxAttempts)
	})
	return fetched, err
}

// Run relays until ctx is cancelled. A full batch is followed immediately by
// the next one; otherwise the relay sleeps for Interval.
func (r *Relay) Run(ctx context.Context) error {
	for {
		n, err := r.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.Logger.WithField("error", err).Error("outbox relay batch failed")
		}
		if err == nil && n >= r.BatchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.Interval):
		}
	}
}
