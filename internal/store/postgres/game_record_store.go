package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

// GameRecordStore implements domain.GameRecordStore using PostgreSQL.
type GameRecordStore struct {
	pool *pgxpool.Pool
}

var _ domain.GameRecordStore = (*GameRecordStore)(nil)

// NewGameRecordStore creates a new GameRecordStore backed by the given pool.
func NewGameRecordStore(pool *pgxpool.Pool) *GameRecordStore {
	return &GameRecordStore{pool: pool}
}

var gameRecordCols = []string{"fixture_id", "side", "team", "game_date", "score", "stats"}

// encodeStats maps each stat column to its value; missing stats become null.
func encodeStats(schema domain.Schema, r domain.GameRecord) ([]byte, error) {
	if len(r.Stats) != len(schema.StatColumns) {
		return nil, fmt.Errorf("%d stats for %d columns: %w", len(r.Stats), len(schema.StatColumns), domain.ErrSchema)
	}
	m := make(map[string]*float64, len(r.Stats))
	for i, col := range schema.StatColumns {
		if domain.IsMissing(r.Stats[i]) {
			m[col] = nil
			continue
		}
		v := r.Stats[i]
		m[col] = &v
	}
	return json.Marshal(m)
}

func decodeStats(schema domain.Schema, raw []byte) ([]float64, error) {
	var m map[string]*float64
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	out := make([]float64, len(schema.StatColumns))
	for i, col := range schema.StatColumns {
		v, ok := m[col]
		if !ok {
			return nil, fmt.Errorf("stat %q not stored: %w", col, domain.ErrSchema)
		}
		if v == nil {
			out[i] = domain.Missing()
			continue
		}
		out[i] = *v
	}
	return out, nil
}

// InsertBatch upserts records using a pgx Batch. A record for an existing
// (fixture, side) pair replaces the stored one.
func (s *GameRecordStore) InsertBatch(ctx context.Context, schema domain.Schema, records []domain.GameRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO game_records (fixture_id, side, team, game_date, score, stats)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (fixture_id, side) DO UPDATE SET
			team = EXCLUDED.team,
			game_date = EXCLUDED.game_date,
			score = EXCLUDED.score,
			stats = EXCLUDED.stats`

	for i, r := range records {
		stats, err := encodeStats(schema, r)
		if err != nil {
			return fmt.Errorf("postgres: encode game record %d: %w", i, err)
		}
		batch.Queue(query, r.Fixture, r.Side.String(), r.Team, r.Date, r.Score, stats)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert game record %d: %w", i, err)
		}
	}
	return nil
}

// AppendBatch adds records behind the stored ones. Fixture ids are offset by
// the largest stored id plus one under a table lock, so files whose ids were
// assigned from row order never collide with earlier ingests. A key conflict
// fails the whole batch.
func (s *GameRecordStore) AppendBatch(ctx context.Context, schema domain.Schema, records []domain.GameRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows, err := copyRows(schema, records)
	if err != nil {
		return err
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `LOCK TABLE game_records IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return fmt.Errorf("lock: %w", err)
		}
		var base int
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(fixture_id) + 1, 0) FROM game_records`,
		).Scan(&base); err != nil {
			return fmt.Errorf("next fixture: %w", err)
		}
		for i, r := range records {
			rows[i][0] = int32(base + r.Fixture)
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"game_records"}, gameRecordCols, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copy: %w", err)
		}
		if int(n) != len(records) {
			return fmt.Errorf("copied %d of %d", n, len(records))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres: append game records: %w", err)
	}
	return nil
}

func copyRows(schema domain.Schema, records []domain.GameRecord) ([][]any, error) {
	rows := make([][]any, len(records))
	for i, r := range records {
		stats, err := encodeStats(schema, r)
		if err != nil {
			return nil, fmt.Errorf("postgres: encode game record %d: %w", i, err)
		}
		rows[i] = []any{int32(r.Fixture), r.Side.String(), r.Team, r.Date, r.Score, stats}
	}
	return rows, nil
}

// ReplaceAll truncates the table and bulk loads records with COPY in a
// single transaction, so readers see either the old or the new season file.
func (s *GameRecordStore) ReplaceAll(ctx context.Context, schema domain.Schema, records []domain.GameRecord) error {
	rows, err := copyRows(schema, records)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin replace game records: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `TRUNCATE game_records RESTART IDENTITY`); err != nil {
		return fmt.Errorf("postgres: truncate game records: %w", err)
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{"game_records"}, gameRecordCols, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("postgres: copy game records: %w", err)
	}
	if int(n) != len(records) {
		return fmt.Errorf("postgres: copied %d of %d game records", n, len(records))
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit replace game records: %w", err)
	}
	return nil
}

// ListChronological returns every stored record in ingestion order with
// stats laid out according to schema.
func (s *GameRecordStore) ListChronological(ctx context.Context, schema domain.Schema) (domain.RecordTable, error) {
	const query = `SELECT fixture_id, side, team, game_date, score, stats FROM game_records ORDER BY id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return domain.RecordTable{}, fmt.Errorf("postgres: list game records: %w", err)
	}
	defer rows.Close()

	table := domain.RecordTable{StatColumns: append([]string(nil), schema.StatColumns...)}
	for rows.Next() {
		var (
			r     domain.GameRecord
			side  string
			stats []byte
		)
		if err := rows.Scan(&r.Fixture, &side, &r.Team, &r.Date, &r.Score, &stats); err != nil {
			return domain.RecordTable{}, fmt.Errorf("postgres: scan game record: %w", err)
		}
		if r.Side, err = domain.ParseSide(side); err != nil {
			return domain.RecordTable{}, fmt.Errorf("postgres: game record fixture %d: %w", r.Fixture, err)
		}
		if r.Stats, err = decodeStats(schema, stats); err != nil {
			return domain.RecordTable{}, fmt.Errorf("postgres: game record fixture %d: %w", r.Fixture, err)
		}
		table.Records = append(table.Records, r)
	}
	if err := rows.Err(); err != nil {
		return domain.RecordTable{}, fmt.Errorf("postgres: list game records rows: %w", err)
	}
	return table, nil
}

// Count returns the number of stored records.
func (s *GameRecordStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM game_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count game records: %w", err)
	}
	return n, nil
}
