package migrate

import (
	"context"
	"testing"

	"voyagedocs/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()

	st, err := Status(ctx, conn)
	if err != nil {
		t.Fatalf("status before migrate: %v", err)
	}
	if st.Current != 0 || st.Latest < 1 || st.UpToDate() {
		t.Fatalf("unexpected fresh status %+v", st)
	}
	for i := 0; i < 2; i++ {
		if err := Migrate(conn); err != nil {
			t.Fatalf("migrate run %d: %v", i, err)
		}
	}
	st, err = Status(ctx, conn)
	if err != nil || !st.UpToDate() {
		t.Fatalf("expected up to date, got %+v %v", st, err)
	}
	for _, table := range []string{"projects", "project_configs", "schedule_tasks", "schedule_imports", "doc_instances", "events"} {
		var n int
		if err := conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n); err != nil || n != 1 {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}

func TestLoadMigrationsOrdered(t *testing.T) {
	ms, err := loadMigrations()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for i := 1; i < len(ms); i++ {
		if ms[i].Version <= ms[i-1].Version {
			t.Fatalf("migrations out of order: %v", ms)
		}
	}
}
