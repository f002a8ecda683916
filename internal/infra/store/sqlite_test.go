package store_test

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/edumarques81/castbridge/internal/infra/store"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db := store.NewDB(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err := db.Open(); err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDBDefaultPath(t *testing.T) {
	if got := store.NewDB("").Path(); got != store.DefaultDBPath {
		t.Errorf("Path() = %q, want %q", got, store.DefaultDBPath)
	}
}

func TestOpenCreatesFile(t *testing.T) {
	db := openTestDB(t)
	if _, err := os.Stat(db.Path()); os.IsNotExist(err) {
		t.Error("Database file should exist after Open()")
	}
}

func TestSaveGetDelete(t *testing.T) {
	db := openTestDB(t)

	if _, ok, err := db.Get("uuid:kitchen"); err != nil || ok {
		t.Fatalf("Get on empty store = %v, %v", ok, err)
	}

	o := store.Override{RendererID: "uuid:kitchen", Name: "Kitchen", Codec: "mp3", Rules: []string{"DISABLE_DEVICE_STOP"}}
	if err := db.Save(o); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, ok, err := db.Get("uuid:kitchen")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if got.Name != "Kitchen" || got.Codec != "mp3" {
		t.Errorf("Get returned %+v", got)
	}
	if len(got.Rules) != 1 || got.Rules[0] != "DISABLE_DEVICE_STOP" {
		t.Errorf("Rules = %v", got.Rules)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set")
	}

	// update in place
	o.Codec = "flac"
	o.Rules = nil
	if err := db.Save(o); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, _, _ = db.Get("uuid:kitchen")
	if got.Codec != "flac" || got.Rules != nil {
		t.Errorf("after update: %+v", got)
	}

	if err := db.Delete("uuid:kitchen"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := db.Delete("uuid:kitchen"); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
	if _, ok, _ := db.Get("uuid:kitchen"); ok {
		t.Error("override should be gone")
	}
}

func TestList(t *testing.T) {
	db := openTestDB(t)
	for _, id := range []string{"uuid:b", "uuid:a"} {
		if err := db.Save(store.Override{RendererID: id}); err != nil {
			t.Fatal(err)
		}
	}

	list, err := db.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].RendererID != "uuid:a" {
		t.Errorf("List() = %+v", list)
	}
}

func TestSaveRequiresID(t *testing.T) {
	db := openTestDB(t)
	if err := db.Save(store.Override{Name: "x"}); err == nil {
		t.Error("expected error for empty renderer id")
	}
}

func TestClosedStore(t *testing.T) {
	db := store.NewDB(filepath.Join(t.TempDir(), "x.db"))
	if _, _, err := db.Get("x"); err != store.ErrClosed {
		t.Errorf("Get on closed store = %v", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	db := store.NewDB(path)
	if err := db.Open(); err != nil {
		t.Fatal(err)
	}
	if err := db.Save(store.Override{RendererID: "uuid:tv", Name: "TV"}); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db = store.NewDB(path)
	if err := db.Open(); err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if o, ok, _ := db.Get("uuid:tv"); !ok || o.Name != "TV" {
		t.Errorf("Get after reopen = %+v, %v", o, ok)
	}
}

func TestMigrateFromV1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v1.db")
	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	_, err = raw.Exec(`
		CREATE TABLE store_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL, updated_at TEXT);
		INSERT INTO store_meta (key, value) VALUES ('schema_version', '1');
		CREATE TABLE renderer_overrides (
			renderer_id TEXT PRIMARY KEY, name TEXT NOT NULL DEFAULT '',
			codec TEXT NOT NULL DEFAULT '', updated_at TEXT NOT NULL);
		INSERT INTO renderer_overrides (renderer_id, name, updated_at) VALUES ('uuid:old', 'Old', '2025-01-01T00:00:00Z');
	`)
	raw.Close()
	if err != nil {
		t.Fatal(err)
	}

	db := store.NewDB(path)
	if err := db.Open(); err != nil {
		t.Fatalf("Open after v1 failed: %v", err)
	}
	defer db.Close()

	o, ok, err := db.Get("uuid:old")
	if err != nil || !ok || o.Name != "Old" || o.Rules != nil {
		t.Errorf("migrated override = %+v, %v, %v", o, ok, err)
	}
}
