package ledger

import "fmt"

type migration struct {
	version int
	name    string
	up      string
}

// migrations run in order. Append only.
var migrations = []migration{
	{
		version: 1,
		name:    "create_scenario_runs_table",
		up: `
CREATE TABLE scenario_runs (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id       TEXT NOT NULL,
    scenario     TEXT NOT NULL,
    variant      TEXT NOT NULL,
    phase        TEXT NOT NULL,
    step         TEXT NOT NULL DEFAULT '',
    invocation   INTEGER NOT NULL DEFAULT -1,
    diagnostic   TEXT NOT NULL DEFAULT '',
    duration_ms  INTEGER NOT NULL,
    recorded_at  TEXT NOT NULL
);

CREATE INDEX idx_scenario_runs_run ON scenario_runs(run_id);
CREATE INDEX idx_scenario_runs_scenario ON scenario_runs(scenario, variant);
`,
	},
}

func (l *Ledger) migrate() error {
	_, err := l.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	current, err := l.SchemaVersion()
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := l.runMigration(m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
	}
	return nil
}

// SchemaVersion returns the latest applied migration, 0 if none.
func (l *Ledger) SchemaVersion() (int, error) {
	var version int
	err := l.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

func (l *Ledger) runMigration(m migration) error {
	tx, err := l.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.up); err != nil {
		return fmt.Errorf("failed to execute migration: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}
