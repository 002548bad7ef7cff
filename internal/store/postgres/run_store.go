package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

// RunStore implements domain.RunStore using PostgreSQL.
type RunStore struct {
	pool *pgxpool.Pool
}

var _ domain.RunStore = (*RunStore)(nil)

// NewRunStore creates a new RunStore backed by the given connection pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

const runSelectCols = `id, trigger, status, input_key, output_key, stats, drift, error, started_at, finished_at`

func scanRun(row pgx.Row) (domain.BuildRun, error) {
	var (
		r      domain.BuildRun
		status string
		stats  []byte
		drift  []byte
	)
	if err := row.Scan(&r.ID, &r.Trigger, &status, &r.InputKey, &r.OutputKey,
		&stats, &drift, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
		return domain.BuildRun{}, err
	}
	r.Status = domain.RunStatus(status)
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &r.Stats); err != nil {
			return domain.BuildRun{}, fmt.Errorf("unmarshal stats: %w", err)
		}
	}
	if len(drift) > 0 {
		r.Drift = &domain.Drift{}
		if err := json.Unmarshal(drift, r.Drift); err != nil {
			return domain.BuildRun{}, fmt.Errorf("unmarshal drift: %w", err)
		}
	}
	return r, nil
}

func collectRuns(rows pgx.Rows) ([]domain.BuildRun, error) {
	defer rows.Close()
	var runs []domain.BuildRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func marshalRunJSON(r domain.BuildRun) (stats []byte, drift any, err error) {
	stats, err = json.Marshal(r.Stats)
	if err != nil {
		return nil, nil, err
	}
	if r.Drift != nil {
		b, err := json.Marshal(r.Drift)
		if err != nil {
			return nil, nil, err
		}
		drift = b
	}
	return stats, drift, nil
}

// Create inserts a new run. A duplicate id yields domain.ErrAlreadyExists.
func (s *RunStore) Create(ctx context.Context, r domain.BuildRun) error {
	stats, drift, err := marshalRunJSON(r)
	if err != nil {
		return fmt.Errorf("postgres: marshal run %s: %w", r.ID, err)
	}

	const query = `
		INSERT INTO feature_runs (id, trigger, status, input_key, output_key, stats, drift, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query,
		r.ID, r.Trigger, string(r.Status), r.InputKey, r.OutputKey,
		stats, drift, r.Error, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create run %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: create run %s: %w", r.ID, domain.ErrAlreadyExists)
	}
	return nil
}

// Finish records the terminal state of a run.
func (s *RunStore) Finish(ctx context.Context, r domain.BuildRun) error {
	stats, drift, err := marshalRunJSON(r)
	if err != nil {
		return fmt.Errorf("postgres: marshal run %s: %w", r.ID, err)
	}

	const query = `
		UPDATE feature_runs
		SET status = $2, output_key = $3, stats = $4, drift = $5, error = $6, finished_at = $7
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		r.ID, string(r.Status), r.OutputKey, stats, drift, r.Error, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: finish run %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: finish run %s: %w", r.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns a single run, or domain.ErrNotFound.
func (s *RunStore) GetByID(ctx context.Context, id string) (domain.BuildRun, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runSelectCols+` FROM feature_runs WHERE id = $1`, id)
	r, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BuildRun{}, fmt.Errorf("postgres: get run %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.BuildRun{}, fmt.Errorf("postgres: get run %s: %w", id, err)
	}
	return r, nil
}

// ListRecent returns runs newest first with pagination and optional time
// filtering.
func (s *RunStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.BuildRun, error) {
	query := `SELECT ` + runSelectCols + ` FROM feature_runs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND started_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND started_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY started_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	runs, err := collectRuns(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan runs: %w", err)
	}
	return runs, nil
}

// ListBefore returns every run started strictly before the cutoff, oldest
// first.
func (s *RunStore) ListBefore(ctx context.Context, before time.Time) ([]domain.BuildRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runSelectCols+` FROM feature_runs WHERE started_at < $1 ORDER BY started_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs before %s: %w", before.Format(time.RFC3339), err)
	}
	runs, err := collectRuns(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan runs: %w", err)
	}
	return runs, nil
}
