package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tangthinker/watchman/internal/config"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(config.HistoryConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "history.db"),
		BusyTimeout: "1s",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestAppendAndRecent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, ok := range []bool{true, false, true} {
		rec := Record{
			RunID:      "run" + string(rune('a'+i)),
			JobID:      "job1",
			Source:     "/src",
			Dest:       "/dst",
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
			FinishedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
			Success:    ok,
			Files:      10 * i,
			Bytes:      int64(1000 * i),
			Failed:     i,
		}
		if i == 2 {
			rec.Archive = "/dst_25030114.zip"
		}
		if err := st.Append(ctx, rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := st.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].RunID != "runc" || got[1].RunID != "runb" {
		t.Fatalf("order = %s, %s", got[0].RunID, got[1].RunID)
	}
	if got[0].Archive != "/dst_25030114.zip" || got[1].Archive != "" {
		t.Fatalf("archive = %q, %q", got[0].Archive, got[1].Archive)
	}
	if got[1].Success || !got[0].Success {
		t.Fatal("success flags not preserved")
	}
	if got[0].Files != 20 || got[0].Bytes != 2000 || got[0].Failed != 2 {
		t.Fatalf("stats = %+v", got[0])
	}
	if got[0].Duration() != time.Minute {
		t.Fatalf("duration = %v", got[0].Duration())
	}

	all, err := st.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent(0): %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Recent(0) len = %d, want 3", len(all))
	}
}

func TestReopenKeepsRecords(t *testing.T) {
	cfg := config.HistoryConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "h", "history.db")}
	st, err := Open(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	now := time.Now()
	if err := st.Append(context.Background(), Record{RunID: "r1", JobID: "j", StartedAt: now, FinishedAt: now, Success: true}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = Open(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	got, err := st.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].RunID != "r1" {
		t.Fatalf("records = %+v", got)
	}
}

func TestOpenDrivers(t *testing.T) {
	t.Parallel()
	st, err := Open(config.HistoryConfig{Driver: "none"}, zerolog.Nop())
	if err != nil || st != nil {
		t.Fatalf("none driver: store=%v err=%v", st, err)
	}
	if _, err := Open(config.HistoryConfig{Driver: "postgres"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(config.HistoryConfig{Driver: "sqlite"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for empty sqlite path")
	}
}

func TestOpenAcceptsValidatedDrivers(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"sqlite", "sqlite3", "SQLite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			cfg.History.Driver = driver
			cfg.History.Path = filepath.Join(t.TempDir(), "history.db")
			if err := cfg.Validate(); err != nil {
				t.Fatalf("Validate: %v", err)
			}
			st, err := Open(cfg.History, zerolog.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if st == nil {
				t.Fatal("Open returned no store")
			}
			_ = st.Close()
		})
	}
}

func TestOpenAppliesPragmas(t *testing.T) {
	t.Parallel()
	st, err := openSQLite(filepath.Join(t.TempDir(), "history.db"), 1500*time.Millisecond, zerolog.Nop())
	if err != nil {
		t.Fatalf("openSQLite: %v", err)
	}
	defer st.Close()

	var mode string
	if err := st.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}
	var busy int
	if err := st.db.QueryRow("PRAGMA busy_timeout").Scan(&busy); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if busy != 1500 {
		t.Fatalf("busy_timeout = %d, want 1500", busy)
	}

	// a bad pragma is logged, not fatal
	st.pragma("PRAGMA this is not valid sql")
	if err := st.Append(context.Background(), Record{RunID: "r", JobID: "j"}); err != nil {
		t.Fatalf("Append after bad pragma: %v", err)
	}
}

func TestClosedStore(t *testing.T) {
	st := openTestStore(t)
	_ = st.Close()
	if err := st.Append(context.Background(), Record{}); err != ErrClosed {
		t.Fatalf("Append after close = %v, want ErrClosed", err)
	}
}
