package sqlite

import (
	"path/filepath"
	"testing"
	"testing/fstest"
)

func TestOpen_WAL(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "progress.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q; want wal", mode)
	}
}

func TestMigrate_CreatesKVTable(t *testing.T) {
	db := openTestDB(t)

	version, err := db.Version()
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if version != 1 {
		t.Errorf("Version() = %d; want 1", version)
	}

	var name string
	if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='kv'").Scan(&name); err != nil {
		t.Errorf("kv table missing: %v", err)
	}

	// a second run has nothing to apply
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrate_AppliesOnlyNewer(t *testing.T) {
	db := openTestDB(t)

	fsys := fstest.MapFS{
		"001_kv.sql":    {Data: []byte("SELECT broken syntax here")},
		"002_index.sql": {Data: []byte("CREATE INDEX kv_updated ON kv (updated_at);")},
	}
	if err := db.migrate(fsys); err != nil {
		t.Fatalf("migrate() error = %v", err)
	}
	if v, _ := db.Version(); v != 2 {
		t.Errorf("Version() = %d; want 2", v)
	}
}

func TestMigrate_FailureRollsBack(t *testing.T) {
	db := openTestDB(t)

	fsys := fstest.MapFS{
		"002_bad.sql": {Data: []byte("CREATE TABLE kv (key TEXT);")},
	}
	if err := db.migrate(fsys); err == nil {
		t.Fatal("migrate() expected error for conflicting table")
	}
	if v, _ := db.Version(); v != 1 {
		t.Errorf("Version() = %d after failed migration; want 1", v)
	}
}

func TestLoadMigrations(t *testing.T) {
	got, err := loadMigrations(fstest.MapFS{
		"010_late.sql":  {Data: []byte("x")},
		"002_early.sql": {Data: []byte("y")},
	})
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(got) != 2 || got[0].version != 2 || got[1].version != 10 {
		t.Errorf("loadMigrations() order = %+v", got)
	}

	if _, err := loadMigrations(fstest.MapFS{
		"001_a.sql":  {Data: []byte("x")},
		"0001_b.sql": {Data: []byte("y")},
	}); err == nil {
		t.Error("loadMigrations() expected duplicate version error")
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{"001_kv.sql", 1, false},
		{"042_index.sql", 42, false},
		{"kv.sql", 0, true},
		{"abc_kv.sql", 0, true},
		{"000_zero.sql", 0, true},
	}
	for _, tt := range tests {
		got, err := parseVersion(tt.name)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseVersion(%q) = %d, %v; want %d, wantErr %v", tt.name, got, err, tt.want, tt.wantErr)
		}
	}
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "progress.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
