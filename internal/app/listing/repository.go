package listing

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/the-marketplace/project/internal/contracts"
	"github.com/the-marketplace/project/internal/platform/dbpool"
)

// OutboxAppender stores an event in the caller's transaction.
type OutboxAppender interface {
	Append(ctx context.Context, tx pgx.Tx, event contracts.Event) error
}

type PostgresRepository struct {
	Pool *pgxpool.Pool
	// Outbox, when set, receives each change's event inside its transaction.
	Outbox OutboxAppender
}

func NewPostgresRepository(pool *pgxpool.Pool, outbox OutboxAppender) *PostgresRepository {
	return &PostgresRepository{Pool: pool, Outbox: outbox}
}

const selectListingSQL = `
SELECT l.id, l.title, l.description, l.price, l.location, l.seller_id,
       l.category_id, c.name AS category_name, l.tags, l.status, l.is_active,
       l.created_at, l.updated_at, l.published_at
FROM listings l
JOIN categories c ON c.id = l.category_id
WHERE l.id = $1`

func (r *PostgresRepository) Get(ctx context.Context, id string) (Listing, error) {
	var l Listing
	if err := pgxscan.Get(ctx, r.Pool, &l, selectListingSQL, id); err != nil {
		if pgxscan.NotFound(err) {
			return Listing{}, ErrNotFound
		}
		return Listing{}, fmt.Errorf("get listing: %w", err)
	}
	return l, nil
}

func (r *PostgresRepository) GetCategory(ctx context.Context, id string) (Category, error) {
	var c Category
	if err := pgxscan.Get(ctx, r.Pool, &c, `SELECT id, name FROM categories WHERE id = $1`, id); err != nil {
		if pgxscan.NotFound(err) {
			return Category{}, ErrNotFound
		}
		return Category{}, fmt.Errorf("get category: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) ListCategories(ctx context.Context) ([]Category, error) {
	categories := []Category{}
	if err := pgxscan.Select(ctx, r.Pool, &categories, `SELECT id, name FROM categories ORDER BY name`); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

func (r *PostgresRepository) Apply(ctx context.Context, change Change) error {
	return dbpool.WithTransaction(ctx, r.Pool, func(tx pgx.Tx) error {
		var err error
		switch {
		case change.DeletedID != "":
			err = deleteListing(ctx, tx, change.DeletedID)
		case change.Created:
			err = insertListing(ctx, tx, *change.Listing)
		default:
			err = updateListing(ctx, tx, *change.Listing)
		}
		if err != nil {
			return err
		}
		if r.Outbox != nil {
			return r.Outbox.Append(ctx, tx, change.Event)
		}
		return nil
	})
}

func insertListing(ctx context.Context, tx pgx.Tx, l Listing) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO listings (
		   id, title, description, price, location, seller_id, category_id,
		   tags, status, is_active, created_at, updated_at, published_at
		 )
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		l.ID, l.Title, l.Description, l.Price, l.Location, l.SellerID, l.CategoryID,
		l.Tags, string(l.Status), l.IsActive, l.CreatedAt, l.UpdatedAt, l.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

func updateListing(ctx context.Context, tx pgx.Tx, l Listing) error {
	res, err := tx.Exec(ctx,
		`UPDATE listings
		 SET title = $2, description = $3, price = $4, location = $5, category_id = $6,
		     tags = $7, status = $8, is_active = $9, updated_at = $10, published_at = $11
		 WHERE id = $1`,
		l.ID, l.Title, l.Description, l.Price, l.Location, l.CategoryID,
		l.Tags, string(l.Status), l.IsActive, l.UpdatedAt, l.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func deleteListing(ctx context.Context, tx pgx.Tx, id string) error {
	res, err := tx.Exec(ctx, `DELETE FROM listings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete listing: %w", err)
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping lets readiness probes check the database.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer cancel()
	return r.Pool.Ping(ctx)
}
