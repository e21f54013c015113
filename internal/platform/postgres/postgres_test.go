package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	bad := cfg
	bad.MaxIdleConns = cfg.MaxOpenConns + 1
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error when idle conns exceed open conns")
	}

	bad = cfg
	bad.PingTimeout = 0 * time.Second
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for zero ping timeout")
	}
}

func TestConfigLockSettings(t *testing.T) {
	t.Setenv("DATABASE_LOCK_WAIT", "3s")
	t.Setenv("DATABASE_LOCK_POLL_INTERVAL", "20ms")
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "9")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.LockWait != 3*time.Second || cfg.LockPollInterval != 20*time.Millisecond {
		t.Fatalf("unexpected lock settings: wait=%s poll=%s", cfg.LockWait, cfg.LockPollInterval)
	}
	if cfg.LockSlots() != 4 {
		t.Fatalf("LockSlots()=%d, want 4", cfg.LockSlots())
	}
	if err := cfg.ValidateLockWorkers(4); err != nil {
		t.Fatalf("ValidateLockWorkers(4) err=%v", err)
	}
	if err := cfg.ValidateLockWorkers(5); err == nil || !strings.Contains(err.Error(), "DATABASE_MAX_OPEN_CONNS >= 10") {
		t.Fatalf("ValidateLockWorkers(5) err=%v", err)
	}

	bad := cfg
	bad.LockPollInterval = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for zero poll interval")
	}
	bad = cfg
	bad.MaxOpenConns = 1
	bad.MaxIdleConns = 1
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for a pool too small to hold a lock")
	}
}

type recordingExecer struct {
	stmts  []string
	failAt int
}

func (e *recordingExecer) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	e.stmts = append(e.stmts, query)
	if e.failAt > 0 && len(e.stmts) == e.failAt {
		return nil, errors.New("boom")
	}
	return nil, nil
}

func TestMigrate_AppliesEveryStatement(t *testing.T) {
	db := &recordingExecer{}
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("Migrate() err=%v", err)
	}
	if len(db.stmts) != len(Statements()) {
		t.Fatalf("executed %d statements, want %d", len(db.stmts), len(Statements()))
	}

	var openUniq, heldUniq bool
	for _, stmt := range db.stmts {
		if strings.Contains(stmt, "version_assignments_open_uniq") && strings.Contains(stmt, "WHERE assignment_type = 'OPEN'") {
			openUniq = true
		}
		if strings.Contains(stmt, "version_assignments_held_uniq") && strings.Contains(stmt, "WHERE assignment_type <> 'OPEN'") {
			heldUniq = true
		}
	}
	if !openUniq || !heldUniq {
		t.Fatalf("missing partial unique indexes: open=%v held=%v", openUniq, heldUniq)
	}
}

func TestMigrate_StopsOnError(t *testing.T) {
	db := &recordingExecer{failAt: 2}
	err := Migrate(context.Background(), db)
	if err == nil || !strings.Contains(err.Error(), "migrate statement 1") {
		t.Fatalf("Migrate() err=%v, want failure at statement 1", err)
	}
	if len(db.stmts) != 2 {
		t.Fatalf("executed %d statements, want 2", len(db.stmts))
	}
}

func TestMigrate_NilDB(t *testing.T) {
	if err := Migrate(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil db")
	}
}
