package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL. Builds, ingests
// and archive runs each leave one entry.
type AuditStore struct {
	pool *pgxpool.Pool
}

var _ domain.AuditStore = (*AuditStore)(nil)

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an entry. detail is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, detailJSON)
	if err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// auditListQuery treats an empty event and NULL bounds as "no filter". A
// NULL limit is no limit.
const auditListQuery = `
SELECT id, event, detail, created_at
FROM audit_log
WHERE (@event::text = '' OR event = @event::text)
  AND (@since::timestamptz IS NULL OR created_at >= @since::timestamptz)
  AND (@until::timestamptz IS NULL OR created_at <= @until::timestamptz)
ORDER BY created_at DESC, id DESC
LIMIT NULLIF(@limit::int, 0) OFFSET @offset::int`

// List returns entries for event, newest first.
func (s *AuditStore) List(ctx context.Context, event string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, auditListQuery, auditListArgs(event, opts))
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditEntry, error) {
		var (
			e          domain.AuditEntry
			detailJSON []byte
		)
		if err := row.Scan(&e.ID, &e.Event, &detailJSON, &e.CreatedAt); err != nil {
			return e, err
		}
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return e, fmt.Errorf("unmarshal detail of entry %d: %w", e.ID, err)
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan audit entries: %w", err)
	}
	return entries, nil
}

func auditListArgs(event string, opts domain.ListOpts) pgx.NamedArgs {
	return pgx.NamedArgs{
		"event":  event,
		"since":  opts.Since,
		"until":  opts.Until,
		"limit":  opts.Limit,
		"offset": max(opts.Offset, 0),
	}
}
