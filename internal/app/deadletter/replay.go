package deadletter

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nuid"
	log "github.com/sirupsen/logrus"
	"github.com/the-marketplace/project/internal/contracts"
	"github.com/the-marketplace/project/internal/messaging"
)

// HeaderReplayOf carries the id of the message that was parked, or of the
// parked copy when that is unknown.
const HeaderReplayOf = "X-Replay-Of"

var ErrNotDeadLetter = errors.New("topic is not a dead-letter destination")

// Parked is one message waiting on a dead-letter destination.
type Parked interface {
	Message() messaging.Message
	Ack() error
}

// Source hands out parked messages. An empty batch means the destination is
// drained.
type Source interface {
	Fetch(ctx context.Context, max int) ([]Parked, error)
	Close() error
}

// Opener binds a Source to a dead-letter topic. Consuming sources remember
// what was acked; non-consuming ones leave the destination untouched.
type Opener func(ctx context.Context, topic string, consume bool) (Source, error)

// Entry describes what happened to one parked message.
type Entry struct {
	MessageID     string `json:"messageId"`
	OriginalID    string `json:"originalMessageId,omitempty"`
	ReplayID      string `json:"replayId,omitempty"`
	OriginalTopic string `json:"originalTopic"`
	Subscription  string `json:"subscription,omitempty"`
	Attempts      string `json:"attempts,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Skipped       bool   `json:"skipped,omitempty"`
}

type Report struct {
	Entries  []Entry `json:"entries"`
	Replayed int     `json:"replayed"`
	Skipped  int     `json:"skipped"`
}

type Replayer struct {
	Open      Opener
	Publisher messaging.Publisher
	DryRun    bool
	BatchSize int
	NewID     func() string
	Logger    *log.Entry
}

func NewReplayer(open Opener, publisher messaging.Publisher, logger *log.Entry) *Replayer {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Replayer{
		Open:      open,
		Publisher: publisher,
		BatchSize: 50,
		NewID:     nuid.Next,
		Logger:    logger,
	}
}

// Replay moves up to limit parked messages from topic back onto the topic each
// one was dead-lettered from. In dry-run mode it only lists them. A limit of
// zero or less drains the destination.
func (r *Replayer) Replay(ctx context.Context, topic string, limit int) (Report, error) {
	if !contracts.IsDeadLetter(topic) {
		return Report{}, fmt.Errorf("%w: %s", ErrNotDeadLetter, topic)
	}
	source, err := r.Open(ctx, topic, !r.DryRun)
	if err != nil {
		return Report{}, fmt.Errorf("open %s: %w", topic, err)
	}
	defer source.Close()

	var report Report
	for limit <= 0 || len(report.Entries) < limit {
		want := r.BatchSize
		if limit > 0 && limit-len(report.Entries) < want {
			want = limit - len(report.Entries)
		}
		batch, err := source.Fetch(ctx, want)
		if err != nil {
			return report, fmt.Errorf("fetch %s: %w", topic, err)
		}
		if len(batch) == 0 {
			break
		}
		for _, parked := range batch {
			entry, err := r.replayOne(ctx, parked)
			if err != nil {
				return report, err
			}
			report.Entries = append(report.Entries, entry)
			if entry.Skipped {
				report.Skipped++
			} else if !r.DryRun {
				report.Replayed++
			}
		}
	}
	return report, nil
}

func (r *Replayer) replayOne(ctx context.Context, parked Parked) (Entry, error) {
	msg := parked.Message()
	entry := Entry{
		MessageID:     msg.ID,
		OriginalID:    msg.Header[messaging.HeaderOriginalID],
		OriginalTopic: msg.Header[messaging.HeaderOriginalTopic],
		Subscription:  msg.Header[messaging.HeaderSubscription],
		Attempts:      msg.Header[messaging.HeaderDeliveryCount],
		Reason:        msg.Header[messaging.HeaderFailureReason],
	}
	logger := r.Logger.WithFields(log.Fields{
		"message_id":     msg.ID,
		"original_topic": entry.OriginalTopic,
		"subscription":   entry.Subscription,
	})

	if entry.OriginalTopic == "" || contracts.IsDeadLetter(entry.OriginalTopic) {
		entry.Skipped = true
		logger.Warn("parked message has no usable original topic, leaving it in place")
		return entry, nil
	}
	if r.DryRun {
		return entry, nil
	}

	entry.ReplayID = r.NewID()
	if err := r.Publisher.Publish(ctx, replayMessage(msg, entry)); err != nil {
		return entry, fmt.Errorf("republish %s: %w", msg.ID, err)
	}
	if err := parked.Ack(); err != nil {
		// Already republished; a second run would replay it again.
		logger.WithError(err).Warn("ack of parked message failed")
	}
	logger.WithField("replay_id", entry.ReplayID).Info("message replayed")
	return entry, nil
}

// replayMessage strips the dead-letter diagnostics and readdresses msg to its
// original topic under a fresh id so broker and consumer de-duplication let it
// through.
func replayMessage(msg messaging.Message, entry Entry) messaging.Message {
	header := make(map[string]string, len(msg.Header))
	for k, v := range msg.Header {
		switch k {
		case messaging.HeaderOriginalTopic, messaging.HeaderSubscription, messaging.HeaderDeliveryCount,
			messaging.HeaderFailureReason, messaging.HeaderDeadLetteredAt, messaging.HeaderPartitionKey,
			messaging.HeaderOriginalID:
			continue
		}
		header[k] = v
	}
	header[HeaderReplayOf] = msg.ID
	if entry.OriginalID != "" {
		header[HeaderReplayOf] = entry.OriginalID
	}
	return messaging.Message{
		ID:     entry.ReplayID,
		Topic:  entry.OriginalTopic,
		Key:    msg.Key,
		Data:   msg.Data,
		Header: header,
	}
}
