package listing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/the-marketplace/project/internal/contracts"
)

// Change is one committed state transition and the event describing it.
// Exactly one of Listing or DeletedID is set.
type Change struct {
	Listing   *Listing
	Created   bool
	DeletedID string
	Event     contracts.Event
}

type Repository interface {
	Get(ctx context.Context, id string) (Listing, error)
	GetCategory(ctx context.Context, id string) (Category, error)
	ListCategories(ctx context.Context) ([]Category, error)
	// Apply persists change atomically. Repositories backed by an outbox
	// store change.Event in the same transaction.
	Apply(ctx context.Context, change Change) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event contracts.Event) error
}

// Service owns listing writes. With a Publisher set, each event is published
// after its change commits; without one the repository's outbox carries it.
type Service struct {
	Repository Repository
	Publisher  EventPublisher
	Logger     *log.Entry
	Now        func() time.Time
	NewID      func() string
}

func NewService(repository Repository, publisher EventPublisher, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Service{
		Repository: repository,
		Publisher:  publisher,
		Logger:     logger,
		Now:        func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		NewID:      func() string { return uuid.NewString() },
	}
}

// ErrPublish wraps a broker failure after the change itself committed.
var ErrPublish = errors.New("listing saved but event was not published")

func (s *Service) Get(ctx context.Context, id string) (Listing, error) {
	if err := validateID(id); err != nil {
		return Listing{}, err
	}
	return s.Repository.Get(ctx, id)
}

func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	return s.Repository.ListCategories(ctx)
}

func (s *Service) Create(ctx context.Context, sellerID string, in Input) (Listing, error) {
	if err := validateID(sellerID); err != nil {
		return Listing{}, err
	}
	category, err := s.validate(ctx, in)
	if err != nil {
		return Listing{}, err
	}

	now := s.Now()
	l := Listing{
		ID:        s.NewID(),
		SellerID:  sellerID,
		Status:    StatusDraft,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyInput(&l, in, category)

	if err := s.commit(ctx, Change{Listing: &l, Created: true, Event: l.createdEvent()}); err != nil {
		return l, err
	}
	return l, nil
}

func (s *Service) Update(ctx context.Context, sellerID, id string, in Input) (Listing, error) {
	l, err := s.owned(ctx, sellerID, id)
	if err != nil {
		return Listing{}, err
	}
	category, err := s.validate(ctx, in)
	if err != nil {
		return Listing{}, err
	}

	applyInput(&l, in, category)
	l.UpdatedAt = s.Now()
	if err := s.commit(ctx, Change{Listing: &l, Event: l.updatedEvent()}); err != nil {
		return l, err
	}
	return l, nil
}

func (s *Service) Publish(ctx context.Context, sellerID, id string) (Listing, error) {
	l, err := s.owned(ctx, sellerID, id)
	if err != nil {
		return Listing{}, err
	}
	if l.Status == StatusPublished {
		return l, ErrAlreadyPublished
	}

	now := s.Now()
	l.Status = StatusPublished
	l.IsActive = true
	l.PublishedAt = &now
	l.UpdatedAt = now
	if err := s.commit(ctx, Change{Listing: &l, Event: l.publishedEvent()}); err != nil {
		return l, err
	}
	return l, nil
}

func (s *Service) Delete(ctx context.Context, sellerID, id string) error {
	if _, err := s.owned(ctx, sellerID, id); err != nil {
		return err
	}
	deletedAt := s.Now()
	return s.commit(ctx, Change{DeletedID: id, Event: contracts.ListingDeleted{ListingID: id, DeletedAt: &deletedAt}})
}

func (s *Service) owned(ctx context.Context, sellerID, id string) (Listing, error) {
	if err := validateID(id); err != nil {
		return Listing{}, err
	}
	l, err := s.Repository.Get(ctx, id)
	if err != nil {
		return Listing{}, err
	}
	if l.SellerID != sellerID {
		return Listing{}, ErrForbidden
	}
	return l, nil
}

func (s *Service) validate(ctx context.Context, in Input) (Category, error) {
	if strings.TrimSpace(in.Title) == "" {
		return Category{}, ErrTitleRequired
	}
	if in.Price < 0 {
		return Category{}, ErrInvalidPrice
	}
	if err := validateID(in.CategoryID); err != nil {
		return Category{}, ErrUnknownCategory
	}
	category, err := s.Repository.GetCategory(ctx, in.CategoryID)
	if errors.Is(err, ErrNotFound) {
		return Category{}, ErrUnknownCategory
	}
	return category, err
}

// commit persists change, then publishes its event in direct mode.
func (s *Service) commit(ctx context.Context, change Change) error {
	if err := s.Repository.Apply(ctx, change); err != nil {
		return err
	}
	if s.Publisher == nil {
		return nil
	}
	if err := s.Publisher.Publish(ctx, change.Event); err != nil {
		s.Logger.WithFields(log.Fields{
			"kind":       change.Event.Kind(),
			"subject_id": change.Event.SubjectID(),
			"error":      err,
		}).Error("event publish failed after commit")
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}
	return nil
}

func applyInput(l *Listing, in Input, category Category) {
	l.Title = strings.TrimSpace(in.Title)
	l.Description = strings.TrimSpace(in.Description)
	l.Price = in.Price
	l.Location = strings.TrimSpace(in.Location)
	l.CategoryID = category.ID
	l.CategoryName = category.Name
	l.Tags = normalizeTags(in.Tags)
	if in.IsActive != nil {
		l.IsActive = *in.IsActive
	}
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidID
	}
	return nil
}
