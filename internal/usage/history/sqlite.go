package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps records in a SQLite database.
type SQLiteStore struct {
	db         *sql.DB
	maxRecords int
}

// OpenSQLite opens (or creates) the database at dsn and migrates its schema.
// A plain file path gets WAL journaling and a busy timeout.
func OpenSQLite(dsn string, maxRecords int) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn required")
	}
	if !strings.Contains(dsn, "?") && dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		dsn += "?_journal=WAL&_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer; sqlite serialises anyway and :memory: is per-connection
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, maxRecords: maxRecords}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		id TEXT PRIMARY KEY,
		dispatch_id TEXT NOT NULL,
		at INTEGER NOT NULL,
		provider TEXT NOT NULL,
		provider_type TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		stage TEXT NOT NULL,
		success INTEGER NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		cost REAL NOT NULL DEFAULT 0,
		latency_ns INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_usage_records_at ON usage_records(at DESC);
	CREATE INDEX IF NOT EXISTS idx_usage_records_provider ON usage_records(provider, at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Save(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records (id, dispatch_id, at, provider, provider_type, model, stage, success,
			kind, error, input_tokens, output_tokens, total_tokens, cost, latency_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.DispatchID, r.At.UnixNano(), r.Provider, r.ProviderType, r.Model, r.Stage, r.Success,
		r.Kind, r.Error, r.InputTokens, r.OutputTokens, r.TotalTokens, r.Cost, int64(r.Latency))
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}

	if s.maxRecords > 0 {
		_, err = s.db.ExecContext(ctx, `
			DELETE FROM usage_records WHERE id IN (
				SELECT id FROM usage_records ORDER BY at DESC LIMIT -1 OFFSET ?
			)
		`, s.maxRecords)
		if err != nil {
			return fmt.Errorf("prune usage records: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Recent(ctx context.Context, f Filter) ([]Record, error) {
	query := `
		SELECT id, dispatch_id, at, provider, provider_type, model, stage, success,
			kind, error, input_tokens, output_tokens, total_tokens, cost, latency_ns
		FROM usage_records WHERE 1=1`
	var args []any
	if f.Provider != "" {
		query += ` AND provider = ?`
		args = append(args, f.Provider)
	}
	if !f.Since.IsZero() {
		query += ` AND at >= ?`
		args = append(args, f.Since.UnixNano())
	}
	query += ` ORDER BY at DESC, rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var (
			r         Record
			at, latNs int64
		)
		if err := rows.Scan(&r.ID, &r.DispatchID, &at, &r.Provider, &r.ProviderType, &r.Model, &r.Stage,
			&r.Success, &r.Kind, &r.Error, &r.InputTokens, &r.OutputTokens, &r.TotalTokens, &r.Cost, &latNs); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		r.At = time.Unix(0, at)
		r.Latency = time.Duration(latNs)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Totals(ctx context.Context, since time.Time) (Totals, error) {
	var sinceNs int64
	if !since.IsZero() {
		sinceNs = since.UnixNano()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT provider,
			COUNT(*),
			COALESCE(SUM(success), 0),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(total_tokens), 0),
			COALESCE(SUM(cost), 0)
		FROM usage_records WHERE at >= ?
		GROUP BY provider
	`, sinceNs)
	if err != nil {
		return Totals{}, fmt.Errorf("query usage totals: %w", err)
	}
	defer rows.Close()

	t := Totals{ByProvider: map[string]Tally{}}
	for rows.Next() {
		var (
			name string
			p    Tally
		)
		if err := rows.Scan(&name, &p.Attempts, &p.Successes, &p.InputTokens, &p.OutputTokens, &p.TotalTokens, &p.Cost); err != nil {
			return Totals{}, fmt.Errorf("scan usage totals: %w", err)
		}
		p.Failures = p.Attempts - p.Successes
		t.ByProvider[name] = p

		t.Attempts += p.Attempts
		t.Successes += p.Successes
		t.Failures += p.Failures
		t.InputTokens += p.InputTokens
		t.OutputTokens += p.OutputTokens
		t.TotalTokens += p.TotalTokens
		t.Cost += p.Cost
	}
	return t, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
