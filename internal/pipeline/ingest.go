package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/JonahBenton321/college-football-prediction/internal/dataset"
	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

// RecordWriter persists raw game records.
type RecordWriter interface {
	InsertBatch(ctx context.Context, schema domain.Schema, records []domain.GameRecord) error
	AppendBatch(ctx context.Context, schema domain.Schema, records []domain.GameRecord) error
	ReplaceAll(ctx context.Context, schema domain.Schema, records []domain.GameRecord) error
}

// Ingester loads a scraped box-score CSV into the record store so that
// builds can read from Postgres.
type Ingester struct {
	store  RecordWriter
	schema domain.Schema
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewIngester creates an Ingester. audit may be nil.
func NewIngester(store RecordWriter, schema domain.Schema, audit domain.AuditStore, logger *slog.Logger) *Ingester {
	return &Ingester{
		store:  store,
		schema: schema,
		audit:  audit,
		logger: logger.With(slog.String("component", "ingester")),
	}
}

// Ingest parses r and writes its records. With replace the stored table is
// swapped atomically. Otherwise a file carrying its own fixture ids is
// upserted by fixture and side, and a file paired by row order is appended
// after the stored records with fresh fixture ids. It returns the number of
// records written.
func (i *Ingester) Ingest(ctx context.Context, r io.Reader, source string, replace bool) (int, error) {
	table, err := dataset.ReadRecords(r, i.schema)
	if err != nil {
		return 0, fmt.Errorf("pipeline: ingest %s: %w", source, err)
	}

	switch {
	case replace:
		err = i.store.ReplaceAll(ctx, i.schema, table.Records)
	case table.Positional:
		err = i.store.AppendBatch(ctx, i.schema, table.Records)
	default:
		err = i.store.InsertBatch(ctx, i.schema, table.Records)
	}
	if err != nil {
		return 0, fmt.Errorf("pipeline: ingest %s: store %d records: %w", source, len(table.Records), err)
	}

	n := len(table.Records)
	i.logger.InfoContext(ctx, "records ingested",
		slog.String("source", source),
		slog.Int("records", n),
		slog.Bool("replace", replace),
	)

	if i.audit != nil {
		if err := i.audit.Log(ctx, "records.ingest", map[string]any{
			"source":  source,
			"records": n,
			"replace": replace,
		}); err != nil {
			i.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	return n, nil
}
