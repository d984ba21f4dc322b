package db

import (
	"database/sql"
	"fmt"
	"sort"
)

// Migration is one numbered schema change. Rollback SQL is optional.
type Migration struct {
	Version     int
	Description string
	UpSQL       string
	DownSQL     string
}

// NewMigration builds a forward-only migration.
func NewMigration(version int, description, upSQL string) Migration {
	return Migration{Version: version, Description: description, UpSQL: upSQL}
}

// WithRollback attaches rollback SQL.
func (m Migration) WithRollback(downSQL string) Migration {
	m.DownSQL = downSQL
	return m
}

// MigrationManager applies numbered migrations in ascending order, each in
// its own transaction that also records the version.
type MigrationManager struct {
	migrations []Migration
}

// NewMigrationManager sorts the migrations by version.
func NewMigrationManager(migrations []Migration) *MigrationManager {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return &MigrationManager{migrations: sorted}
}

// List returns the managed migrations, ascending.
func (m *MigrationManager) List() []Migration { return m.migrations }

func currentVersion(d *DB) (int, error) {
	return d.SchemaVersion()
}

// HasPending reports whether any migration is newer than the database.
func (m *MigrationManager) HasPending(d *DB) (bool, error) {
	current, err := currentVersion(d)
	if err != nil {
		return false, err
	}
	for _, mig := range m.migrations {
		if mig.Version > current {
			return true, nil
		}
	}
	return false, nil
}

// ApplyPending applies every migration with a version above the database's,
// in ascending order. Returns how many were applied.
func (m *MigrationManager) ApplyPending(d *DB) (int, error) {
	current, err := currentVersion(d)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, mig := range m.migrations {
		if mig.Version <= current {
			continue
		}
		if err := m.applyOne(d, mig); err != nil {
			return applied, err
		}
		d.logger.Info("applied migration", "version", mig.Version, "description", mig.Description)
		applied++
	}
	return applied, nil
}

func (m *MigrationManager) applyOne(d *DB, mig Migration) error {
	return d.withConn(func(conn *sql.DB) error {
		tx, err := conn.Begin()
		if err != nil {
			return &Error{Kind: ErrMigration, Message: fmt.Sprintf("start migration %d: %v", mig.Version, err)}
		}
		if _, err := tx.Exec(mig.UpSQL); err != nil {
			tx.Rollback()
			return &Error{Kind: ErrMigration, Message: fmt.Sprintf("apply migration %d: %v", mig.Version, err)}
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_version (version, description) VALUES (?, ?)",
			mig.Version, mig.Description,
		); err != nil {
			tx.Rollback()
			return &Error{Kind: ErrMigration, Message: fmt.Sprintf("record migration %d: %v", mig.Version, err)}
		}
		if err := tx.Commit(); err != nil {
			return &Error{Kind: ErrMigration, Message: fmt.Sprintf("commit migration %d: %v", mig.Version, err)}
		}
		return nil
	})
}

// RollbackLast reverts the newest applied migration. Refuses when the
// migration has no rollback SQL.
func (m *MigrationManager) RollbackLast(d *DB) error {
	current, err := currentVersion(d)
	if err != nil {
		return err
	}
	if current <= schemaVersion {
		return &Error{Kind: ErrMigration, Message: "nothing to roll back"}
	}

	var target *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == current {
			target = &m.migrations[i]
			break
		}
	}
	if target == nil {
		return &Error{Kind: ErrMigration, Message: fmt.Sprintf("migration %d not managed", current)}
	}
	if target.DownSQL == "" {
		return &Error{Kind: ErrMigration, Message: fmt.Sprintf("migration %d has no rollback", current)}
	}

	return d.withConn(func(conn *sql.DB) error {
		tx, err := conn.Begin()
		if err != nil {
			return &Error{Kind: ErrMigration, Message: fmt.Sprintf("start rollback of %d: %v", current, err)}
		}
		if _, err := tx.Exec(target.DownSQL); err != nil {
			tx.Rollback()
			return &Error{Kind: ErrMigration, Message: fmt.Sprintf("roll back %d: %v", current, err)}
		}
		if _, err := tx.Exec("DELETE FROM schema_version WHERE version = ?", current); err != nil {
			tx.Rollback()
			return &Error{Kind: ErrMigration, Message: fmt.Sprintf("unrecord %d: %v", current, err)}
		}
		if err := tx.Commit(); err != nil {
			return &Error{Kind: ErrMigration, Message: fmt.Sprintf("commit rollback of %d: %v", current, err)}
		}
		return nil
	})
}

// Migrations is the ordered schema evolution applied on open. Version 1 is
// the embedded initial schema.
func Migrations() []Migration {
	return []Migration{
		NewMigration(2, "index klines by candle time for TTL cleanup",
			"CREATE INDEX IF NOT EXISTS idx_klines_time ON klines(candle_time);",
		).WithRollback("DROP INDEX IF EXISTS idx_klines_time;"),
		NewMigration(3, "index order runs by end time for range queries",
			"CREATE INDEX IF NOT EXISTS idx_order_runs_end ON order_runs(end_time);",
		).WithRollback("DROP INDEX IF EXISTS idx_order_runs_end;"),
	}
}
