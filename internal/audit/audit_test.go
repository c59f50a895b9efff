package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"fundingarb/internal/model"
)

func newTransition(at time.Time) model.StateTransition {
	return model.StateTransition{
		ID:         uuid.NewString(),
		Timestamp:  at,
		EntityType: model.EntityHedge,
		EntityID:   "hedge-1",
		FromState:  "IDLE",
		ToState:    "ENTERING_PERP",
		Event:      "enter",
	}
}

func TestMemoryJournalRecordAndSince(t *testing.T) {
	j := NewMemory(10)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := j.Record(ctx, newTransition(base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Record() error: %v", err)
		}
	}

	got, err := j.Since(ctx, base)
	if err != nil {
		t.Fatalf("Since() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Since(base) returned %d entries, want 2 (exclusive of base itself)", len(got))
	}
}

func TestMemoryJournalEvictsOldestBeyondMaxSize(t *testing.T) {
	j := NewMemory(2)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_ = j.Record(ctx, newTransition(base.Add(time.Duration(i)*time.Minute)))
	}

	got, err := j.Since(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Since() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("journal retained %d entries, want 2 (bounded by maxSize)", len(got))
	}
	if got[0].ToState != "ENTERING_PERP" || got[len(got)-1].Timestamp.Before(got[0].Timestamp) {
		t.Fatalf("journal entries out of expected order: %+v", got)
	}
}

func TestMemoryJournalClose(t *testing.T) {
	j := NewMemory(10)
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

func TestSQLiteJournalRecordAndSince(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	j, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	defer j.Close()

	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := j.Record(ctx, newTransition(base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, err := j.Since(ctx, base)
	if err != nil {
		t.Fatalf("Since() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Since(base) returned %d entries, want 2 (exclusive of base itself)", len(got))
	}
	if got[0].Timestamp.After(got[1].Timestamp) {
		t.Fatalf("Since() entries not in ascending timestamp order: %+v", got)
	}
}

func TestNewSQLiteRejectsEmptyPath(t *testing.T) {
	if _, err := NewSQLite(""); err == nil {
		t.Fatal("NewSQLite(\"\") error = nil, want error")
	}
}
