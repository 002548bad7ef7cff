package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// GameRecordStore persists raw per-team-per-game rows as delivered by the
// scraper. ListChronological must return rows in ingestion order.
type GameRecordStore interface {
	// InsertBatch upserts records keyed by (fixture, side).
	InsertBatch(ctx context.Context, schema Schema, records []GameRecord) error
	// AppendBatch stores records after every stored one, shifting their
	// fixture ids past the largest stored id.
	AppendBatch(ctx context.Context, schema Schema, records []GameRecord) error
	// ReplaceAll swaps the whole table for records in one transaction.
	ReplaceAll(ctx context.Context, schema Schema, records []GameRecord) error
	ListChronological(ctx context.Context, schema Schema) (RecordTable, error)
	Count(ctx context.Context) (int64, error)
}

// RunStore persists feature build runs.
type RunStore interface {
	Create(ctx context.Context, run BuildRun) error
	Finish(ctx context.Context, run BuildRun) error
	GetByID(ctx context.Context, id string) (BuildRun, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]BuildRun, error)
	ListBefore(ctx context.Context, before time.Time) ([]BuildRun, error)
}

// AuditEntry is a single audit log row. Event is one of
// "features.build", "records.ingest" or "archive.runs".
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	// List returns entries newest first. An empty event matches every entry.
	List(ctx context.Context, event string, opts ListOpts) ([]AuditEntry, error)
}
