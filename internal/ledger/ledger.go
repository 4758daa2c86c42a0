// Package ledger keeps a sqlite history of scenario outcomes across runs.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/715d/variantmatrix/internal/harness"
)

// Memory opens a private in-memory ledger.
const Memory = ":memory:"

// timeFormat sorts lexically in time order.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Ledger wraps the history database.
type Ledger struct {
	*sql.DB
	path string
}

// Open opens or creates the ledger at path.
func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is empty")
	}

	var dsn string
	if path == Memory {
		dsn = "file::memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory %s: %w", dir, err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// Workers record concurrently; one connection serializes the writes and
	// keeps an in-memory database alive.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to ledger: %w", err)
	}

	l := &Ledger{DB: db, path: path}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return l, nil
}

// Path returns the database path, or ":memory:".
func (l *Ledger) Path() string {
	return l.path
}

// Entry is one recorded scenario outcome.
type Entry struct {
	RunID      string
	Scenario   string
	Variant    string
	Phase      harness.Phase
	Step       string
	Invocation int
	Diagnostic string
	Duration   time.Duration
	RecordedAt time.Time
}

// Passed reports whether the scenario reached DONE.
func (e Entry) Passed() bool {
	return e.Phase == harness.PhaseDone
}

// RecordScenario stores one finished scenario. It satisfies harness.Recorder.
func (l *Ledger) RecordScenario(ctx context.Context, runID string, r harness.ScenarioResult) error {
	_, err := l.ExecContext(ctx, `
		INSERT INTO scenario_runs
			(run_id, scenario, variant, phase, step, invocation, diagnostic, duration_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, r.Scenario, r.Variant, string(r.Phase), r.Step, r.Invocation, r.Diagnostic,
		r.Duration.Milliseconds(), time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to record scenario %s %s: %w", r.Scenario, r.Variant, err)
	}
	return nil
}

// RunSummary aggregates the entries of one run.
type RunSummary struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Total    int
	Failed   int
}

// History returns the most recent runs, newest first. A limit of zero or
// less returns every run.
func (l *Ledger) History(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `
		SELECT run_id, MIN(recorded_at), MAX(recorded_at), COUNT(*),
		       SUM(CASE WHEN phase = ? THEN 0 ELSE 1 END)
		FROM scenario_runs
		GROUP BY run_id
		ORDER BY MAX(recorded_at) DESC, run_id DESC`
	args := []any{string(harness.PhaseDone)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			s                 RunSummary
			started, finished string
		)
		if err := rows.Scan(&s.RunID, &started, &finished, &s.Total, &s.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if s.Started, err = parseTime(started); err != nil {
			return nil, err
		}
		if s.Finished, err = parseTime(finished); err != nil {
			return nil, err
		}
		runs = append(runs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// Entries returns the recorded scenarios of a run in the order they finished.
func (l *Ledger) Entries(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := l.QueryContext(ctx, `
		SELECT run_id, scenario, variant, phase, step, invocation, diagnostic, duration_ms, recorded_at
		FROM scenario_runs
		WHERE run_id = ?
		ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			phase      string
			durationMS int64
			recordedAt string
		)
		if err := rows.Scan(&e.RunID, &e.Scenario, &e.Variant, &phase, &e.Step, &e.Invocation, &e.Diagnostic, &durationMS, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Phase = harness.Phase(phase)
		e.Duration = time.Duration(durationMS) * time.Millisecond
		if e.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}
	return entries, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}
