package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tallyard/tallyard/internal/shared"
)

// Repository queries the audit_logs table written by the mutation paths.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Timeline fetches audit rows newest-first within the filter window. Filters
// with zero values are ignored; the SQL folds each one behind a null guard so
// a single statement serves every combination.
func (r *Repository) Timeline(ctx context.Context, filters Filters, offset, limit int) ([]Entry, error) {
	var from, to any
	if !filters.From.IsZero() {
		from = filters.From
	}
	if !filters.To.IsZero() {
		to = filters.To
	}
	var actor any
	if filters.ActorID > 0 {
		actor = filters.ActorID
	}
	var entity, action any
	if filters.Entity != "" {
		entity = filters.Entity
	}
	if filters.Action != "" {
		action = filters.Action
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, actor_id, action, entity, entity_id, meta, occurred_at
		FROM audit_logs
		WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
		  AND ($2::timestamptz IS NULL OR occurred_at <= $2)
		  AND ($3::bigint IS NULL OR actor_id = $3)
		  AND ($4::text IS NULL OR entity = $4)
		  AND ($5::text IS NULL OR action = $5)
		ORDER BY occurred_at DESC, id DESC
		OFFSET $6 LIMIT $7`,
		from, to, actor, entity, action, offset, limit)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var meta []byte
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.Entity, &e.EntityID, &meta, &e.OccurredAt); err != nil {
			return nil, wrapStoreErr(err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Meta); err != nil {
				return nil, wrapStoreErr(err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr(err)
	}
	return entries, nil
}

func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", shared.ErrStoreUnavailable, err)
}
