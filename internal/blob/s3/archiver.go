package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

// RunArchiveStore is the query the archiver needs from the run store.
type RunArchiveStore interface {
	// ListBefore returns every run started strictly before the cutoff.
	ListBefore(ctx context.Context, before time.Time) ([]domain.BuildRun, error)
}

// Archiver copies build-run history out of the primary store into object
// storage as JSONL.
//
// It does not delete anything from the store; pruning is a separate step
// once the archive has been checked.
type Archiver struct {
	writer domain.BlobWriter
	runs   RunArchiveStore
	audit  domain.AuditStore
}

// NewArchiver creates a new Archiver. The writer may be any blob backend.
func NewArchiver(writer domain.BlobWriter, runs RunArchiveStore, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer: writer,
		runs:   runs,
		audit:  audit,
	}
}

// ArchiveRuns uploads every run started before the cutoff to
// archive/runs/YYYY-MM.jsonl, records the event in the audit log and
// returns the number of runs written.
func (a *Archiver) ArchiveRuns(ctx context.Context, before time.Time) (int64, error) {
	runs, err := a.runs.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive runs query: %w", err)
	}
	if len(runs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(runs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive runs marshal: %w", err)
	}

	path := archivePath("runs", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive runs upload: %w", err)
	}

	count := int64(len(runs))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.runs", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive runs audit log: %w", err)
		}
	}
	return count, nil
}

// archivePath builds the key for an archive file, partitioned by the
// year-month of the cutoff:
//
//	archive/runs/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
