package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/halvard/knightshift/internal/session"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	s, err := NewStore(fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRecord(gameID string) *GameRecord {
	now := time.Now()
	return &GameRecord{
		GameID:      gameID,
		Opponent:    "rival",
		Color:       session.White,
		Status:      session.StatusWin,
		Reason:      session.ReasonCheckmate,
		MovesUCI:    []string{"e2e4", "e7e5"},
		MovesSAN:    []string{"e4", "e5"},
		TimeControl: "180+2",
		StartedAt:   now.Add(-time.Minute),
		EndedAt:     now,
	}
}

func TestSaveAndLoadRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("g1")
	if err := s.SaveRecord(ctx, rec); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("SaveRecord did not assign an id")
	}

	got, err := s.Record(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if got.GameID != "g1" || got.Opponent != "rival" || got.Status != session.StatusWin {
		t.Fatalf("unexpected record: %+v", got)
	}
	if len(got.MovesUCI) != 2 || got.MovesUCI[0] != "e2e4" {
		t.Fatalf("unexpected moves: %v", got.MovesUCI)
	}
}

func TestRecordNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Record(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestRecentRecordsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := s.SaveRecord(ctx, sampleRecord(fmt.Sprintf("g%d", i))); err != nil {
			t.Fatalf("SaveRecord %d: %v", i, err)
		}
	}
	recs, err := s.RecentRecords(ctx, 2)
	if err != nil {
		t.Fatalf("RecentRecords: %v", err)
	}
	if len(recs) != 2 || recs[0].GameID != "g3" || recs[1].GameID != "g2" {
		t.Fatalf("unexpected ordering: %+v", recs)
	}
}

func TestOpponentMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.LastResult(ctx, "rival"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("fresh opponent: got %v, want ErrNotFound", err)
	}

	if err := s.RecordOutcome(ctx, "rival", session.StatusLoss); err != nil {
		t.Fatalf("RecordOutcome loss: %v", err)
	}
	st, err := s.LastResult(ctx, "rival")
	if err != nil || st != session.StatusLoss {
		t.Fatalf("LastResult = %v, %v", st, err)
	}
	conq, err := s.Conquered(ctx, "rival")
	if err != nil || conq {
		t.Fatalf("loss must not mark conquered: %v, %v", conq, err)
	}

	if err := s.RecordOutcome(ctx, "rival", session.StatusWin); err != nil {
		t.Fatalf("RecordOutcome win: %v", err)
	}
	conq, err = s.Conquered(ctx, "rival")
	if err != nil || !conq {
		t.Fatalf("win must mark conquered: %v, %v", conq, err)
	}

	// Lookup is case-insensitive.
	conq, err = s.Conquered(ctx, "RIVAL")
	if err != nil || !conq {
		t.Fatalf("case-insensitive lookup failed: %v, %v", conq, err)
	}
}
