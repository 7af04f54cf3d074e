package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"claimflow/internal/domain"
)

// SQLiteStore implements domain.AuditStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs the
// schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id           TEXT PRIMARY KEY,
			thread_id    TEXT NOT NULL,
			agent_name   TEXT NOT NULL,
			status       TEXT NOT NULL,
			iterations   INTEGER NOT NULL,
			final_msg    TEXT NOT NULL DEFAULT '',
			error        TEXT NOT NULL DEFAULT '',
			tool_trace   TEXT NOT NULL DEFAULT '[]',
			started_at   TEXT NOT NULL,
			completed_at TEXT NOT NULL,
			seq          INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_runs_thread ON runs(thread_id, seq);

		CREATE TABLE IF NOT EXISTS results (
			id             TEXT PRIMARY KEY,
			claim_id       TEXT NOT NULL,
			path           TEXT NOT NULL,
			success        INTEGER NOT NULL,
			degraded       INTEGER NOT NULL,
			recommendation TEXT NOT NULL DEFAULT '',
			steps          TEXT NOT NULL DEFAULT '[]',
			started_at     TEXT NOT NULL,
			completed_at   TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_results_claim ON results(claim_id)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun persists one run execution with its tool trace.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *domain.RunExecution) error {
	trace, err := json.Marshal(run.ToolTrace)
	if err != nil {
		return domain.NewDomainError("audit.SaveRun", domain.ErrAuditWrite, err.Error())
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, thread_id, agent_name, status, iterations, final_msg, error, tool_trace, started_at, completed_at, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM runs))`,
		run.ID, run.ThreadID, run.AgentName, string(run.Status), run.IterationCount,
		run.FinalMessage, run.Error, string(trace),
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.CompletedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.NewDomainError("audit.SaveRun", domain.ErrAuditWrite, err.Error())
	}
	return nil
}

// SaveResult persists a workflow result summary.
func (s *SQLiteStore) SaveResult(ctx context.Context, result *domain.WorkflowResult) error {
	steps, err := json.Marshal(result.Steps)
	if err != nil {
		return domain.NewDomainError("audit.SaveResult", domain.ErrAuditWrite, err.Error())
	}
	success, degraded := 0, 0
	if result.Success {
		success = 1
	}
	if result.Degraded {
		degraded = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO results (id, claim_id, path, success, degraded, recommendation, steps, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ResultID, result.ClaimID, string(result.Path), success, degraded,
		result.Recommendation, string(steps),
		result.StartedAt.UTC().Format(time.RFC3339Nano),
		result.CompletedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.NewDomainError("audit.SaveResult", domain.ErrAuditWrite, err.Error())
	}
	return nil
}

// ListRuns returns runs for a thread in insertion order. An empty threadID
// returns the most recent runs across all threads.
func (s *SQLiteStore) ListRuns(ctx context.Context, threadID string, limit int) ([]domain.RunExecution, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, thread_id, agent_name, status, iterations, final_msg, error, tool_trace, started_at, completed_at
		FROM runs WHERE thread_id = ? ORDER BY seq LIMIT ?`
	args := []any{threadID, limit}
	if threadID == "" {
		query = `SELECT id, thread_id, agent_name, status, iterations, final_msg, error, tool_trace, started_at, completed_at
			FROM runs ORDER BY seq DESC LIMIT ?`
		args = []any{limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.RunExecution
	for rows.Next() {
		var run domain.RunExecution
		var status, trace, startedAt, completedAt string
		if err := rows.Scan(&run.ID, &run.ThreadID, &run.AgentName, &status, &run.IterationCount,
			&run.FinalMessage, &run.Error, &trace, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		run.Status = domain.RunStatus(status)
		if err := json.Unmarshal([]byte(trace), &run.ToolTrace); err != nil {
			return nil, fmt.Errorf("unmarshal tool trace: %w", err)
		}
		run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		run.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

var _ domain.AuditStore = (*SQLiteStore)(nil)
