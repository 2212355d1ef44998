package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createSearchItemsSQL = `
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS search_items (
  identifier text PRIMARY KEY,
  name text NOT NULL,
  type text NOT NULL,
  account_id text NOT NULL DEFAULT '',
  resource_url text NOT NULL DEFAULT '',
  description text NOT NULL DEFAULT '',
  is_active boolean NOT NULL DEFAULT false,
  status text NOT NULL DEFAULT 'Inactive',
  metadata jsonb NOT NULL DEFAULT '{}'::jsonb,
  metadata_text text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL,
  updated_at timestamptz NOT NULL
);

CREATE INDEX IF NOT EXISTS search_items_name_trgm ON search_items USING gin (name gin_trgm_ops);
CREATE INDEX IF NOT EXISTS search_items_description_trgm ON search_items USING gin (description gin_trgm_ops);
CREATE INDEX IF NOT EXISTS search_items_metadata_trgm ON search_items USING gin (metadata_text gin_trgm_ops);
CREATE INDEX IF NOT EXISTS search_items_created_at ON search_items (created_at DESC);
CREATE INDEX IF NOT EXISTS search_items_account ON search_items (account_id);
`

const upsertSearchItemSQL = `
INSERT INTO search_items (
  identifier, name, type, account_id, resource_url, description,
  is_active, status, metadata, metadata_text, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (identifier) DO UPDATE
SET name = EXCLUDED.name,
    type = EXCLUDED.type,
    account_id = EXCLUDED.account_id,
    resource_url = EXCLUDED.resource_url,
    description = EXCLUDED.description,
    is_active = EXCLUDED.is_active,
    status = EXCLUDED.status,
    metadata = EXCLUDED.metadata,
    metadata_text = EXCLUDED.metadata_text,
    created_at = EXCLUDED.created_at,
    updated_at = EXCLUDED.updated_at
`

const selectSearchItemColumns = `identifier, name, type, account_id, resource_url, description,
  is_active, status, metadata, created_at, updated_at`

// PostgresRepository stores the read model in a single table and ranks with
// pg_trgm word similarity: name doubled, best field wins.
type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.Pool.Exec(ctx, createSearchItemsSQL)
	return err
}

func (r *PostgresRepository) Save(ctx context.Context, doc Document) error {
	if err := doc.validate(); err != nil {
		return err
	}
	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	_, err := r.Pool.Exec(ctx, upsertSearchItemSQL,
		doc.Identifier,
		doc.Name,
		doc.Type,
		doc.AccountID,
		doc.ResourceURL,
		doc.Description,
		doc.IsActive,
		string(doc.Status),
		metadata,
		metadataText(metadata),
		doc.CreatedAt.UTC(),
		doc.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", doc.Identifier, err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, identifier string) error {
	if _, err := r.Pool.Exec(ctx, `DELETE FROM search_items WHERE identifier = $1`, identifier); err != nil {
		return fmt.Errorf("delete %s: %w", identifier, err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, identifier string) (Document, error) {
	var doc Document
	err := pgxscan.Get(ctx, r.Pool, &doc, `SELECT `+selectSearchItemColumns+` FROM search_items WHERE identifier = $1`, identifier)
	if err != nil {
		if pgxscan.NotFound(err) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return doc, nil
}

type searchRow struct {
	Document
	Score float64 `db:"score"`
	Total int64   `db:"total"`
}

func (r *PostgresRepository) Search(ctx context.Context, q Query) (Result, error) {
	query, args := buildSearchSQL(q)
	var rows []searchRow
	if err := pgxscan.Select(ctx, r.Pool, &rows, query, args...); err != nil {
		return Result{}, fmt.Errorf("search items: %w", err)
	}

	result := Result{Documents: make([]Document, 0, len(rows))}
	for _, row := range rows {
		result.Documents = append(result.Documents, row.Document)
		result.Total = row.Total
	}
	if len(rows) == 0 && q.Offset() > 0 {
		countSQL, countArgs := buildCountSQL(q)
		if err := r.Pool.QueryRow(ctx, countSQL, countArgs...).Scan(&result.Total); err != nil {
			return Result{}, fmt.Errorf("count items: %w", err)
		}
	}
	return result, nil
}

// whereClause renders filters and the fuzzy predicate. The search term, when
// present, is always $1 and its LIKE pattern $2.
func whereClause(q Query) (string, []any) {
	var conds []string
	var args []any
	if q.SearchBy != "" {
		args = append(args, q.SearchBy, "%"+escapeLike(q.SearchBy)+"%")
		conds = append(conds, `($1 <% name OR $1 <% description OR $1 <% metadata_text
    OR name ILIKE $2 OR description ILIKE $2 OR metadata_text ILIKE $2)`)
	}
	if q.Type != "" {
		args = append(args, q.Type)
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	if q.AccountID != "" {
		args = append(args, q.AccountID)
		conds = append(conds, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if q.IsActive != nil {
		args = append(args, *q.IsActive)
		conds = append(conds, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, "\n  AND "), args
}

func buildSearchSQL(q Query) (string, []any) {
	where, args := whereClause(q)
	score := "0::float8"
	if q.SearchBy != "" {
		score = "GREATEST(2 * word_similarity($1, name), word_similarity($1, description), word_similarity($1, metadata_text))"
	}
	args = append(args, q.PageSize, q.Offset())
	limitArg, offsetArg := len(args)-1, len(args)

	var sb strings.Builder
	sb.WriteString("SELECT " + selectSearchItemColumns + ",\n  " + score + " AS score,\n  count(*) OVER() AS total\nFROM search_items\n")
	if where != "" {
		sb.WriteString(where + "\n")
	}
	fmt.Fprintf(&sb, "ORDER BY score DESC, created_at DESC, identifier\nLIMIT $%d OFFSET $%d", limitArg, offsetArg)
	return sb.String(), args
}

func buildCountSQL(q Query) (string, []any) {
	where, args := whereClause(q)
	sql := "SELECT count(*) FROM search_items"
	if where != "" {
		sql += "\n" + where
	}
	return sql, args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func metadataText(metadata map[string]string) string {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]string, 0, len(keys))
	for _, k := range keys {
		values = append(values, metadata[k])
	}
	return strings.Join(values, " ")
}

// Ping lets readiness probes check the backing database.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer cancel()
	if r.Pool == nil {
		return errors.New("postgres pool not configured")
	}
	return r.Pool.Ping(ctx)
}
