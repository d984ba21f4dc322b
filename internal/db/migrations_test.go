package db

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPendingMigrations(t *testing.T) {
	d := openTestDB(t)

	mgr := NewMigrationManager([]Migration{
		NewMigration(5, "widget table",
			"CREATE TABLE widgets (id INTEGER PRIMARY KEY);",
		).WithRollback("DROP TABLE widgets;"),
		NewMigration(4, "gadget table",
			"CREATE TABLE gadgets (id INTEGER PRIMARY KEY);",
		),
	})

	pending, err := mgr.HasPending(d)
	require.NoError(t, err)
	assert.True(t, pending)

	applied, err := mgr.ApplyPending(d)
	require.NoError(t, err)
	assert.Equal(t, 2, applied, "both migrations apply in ascending order")

	version, err := d.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 5, version)

	// Re-running applies nothing.
	applied, err = mgr.ApplyPending(d)
	require.NoError(t, err)
	assert.Zero(t, applied)

	// Both tables exist.
	require.NoError(t, d.withConn(func(conn *sql.DB) error {
		var name string
		if err := conn.QueryRow("SELECT name FROM sqlite_master WHERE name = 'gadgets'").Scan(&name); err != nil {
			return err
		}
		return conn.QueryRow("SELECT name FROM sqlite_master WHERE name = 'widgets'").Scan(&name)
	}))
}

func TestFailedMigrationRollsBack(t *testing.T) {
	d := openTestDB(t)

	mgr := NewMigrationManager([]Migration{
		NewMigration(4, "broken", "CREATE TABLE ok_table (id INTEGER); NOT VALID SQL;"),
	})

	_, err := mgr.ApplyPending(d)
	require.Error(t, err)

	// The version did not advance and the partial DDL did not stick.
	version, vErr := d.SchemaVersion()
	require.NoError(t, vErr)
	assert.Equal(t, 3, version)
}

func TestRollbackLast(t *testing.T) {
	d := openTestDB(t)

	withRollback := NewMigrationManager([]Migration{
		NewMigration(4, "widget table",
			"CREATE TABLE widgets (id INTEGER PRIMARY KEY);",
		).WithRollback("DROP TABLE widgets;"),
	})
	_, err := withRollback.ApplyPending(d)
	require.NoError(t, err)

	require.NoError(t, withRollback.RollbackLast(d))

	version, err := d.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 3, version)

	// Rolling back a migration without DownSQL is refused.
	noRollback := NewMigrationManager([]Migration{
		NewMigration(4, "no down", "CREATE TABLE gadgets (id INTEGER PRIMARY KEY);"),
	})
	_, err = noRollback.ApplyPending(d)
	require.NoError(t, err)
	assert.Error(t, noRollback.RollbackLast(d))
}

func TestMigrationsSorted(t *testing.T) {
	t.Parallel()
	mgr := NewMigrationManager([]Migration{
		NewMigration(9, "c", ""),
		NewMigration(2, "a", ""),
		NewMigration(5, "b", ""),
	})
	list := mgr.List()
	require.Len(t, list, 3)
	assert.Equal(t, 2, list[0].Version)
	assert.Equal(t, 5, list[1].Version)
	assert.Equal(t, 9, list[2].Version)
}
