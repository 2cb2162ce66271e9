package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/qualitax/swap-engine/internal/model"
)

func testSwap(id string) *model.Swap {
	return &model.Swap{
		ID: id,
		Config: model.SwapConfig{
			FixedRatePayer:    "party-a",
			FloatingRatePayer: "party-b",
			NotionalAmount:    decimal.NewFromInt(1000),
		},
		Record:    model.TradeRecord{State: model.StateInactive},
		CreatedAt: time.Now().UTC(),
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.CreateSwap(ctx, testSwap("s1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.CreateSwap(ctx, testSwap("s1")); err == nil {
		t.Error("duplicate id must be rejected")
	}

	got, err := s.GetSwap(ctx, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "s1" {
		t.Errorf("expected s1, got %s", got.ID)
	}
	if _, err := s.GetSwap(ctx, "missing"); err == nil {
		t.Error("expected error for unknown swap")
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.CreateSwap(ctx, testSwap("s1"))

	got, _ := s.GetSwap(ctx, "s1")
	got.Record.State = model.StateConfirmed

	again, _ := s.GetSwap(ctx, "s1")
	if again.Record.State != model.StateInactive {
		t.Error("mutating a returned swap must not affect the stored one")
	}
}

func TestMemoryStore_ListPreservesCreationOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"s1", "s2", "s3"} {
		s.CreateSwap(ctx, testSwap(id))
	}

	swaps, err := s.ListSwaps(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(swaps) != 3 {
		t.Fatalf("expected 3 swaps, got %d", len(swaps))
	}
	for i, want := range []string{"s1", "s2", "s3"} {
		if swaps[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, swaps[i].ID)
		}
	}

	n, _ := s.CountSwaps(ctx)
	if n != 3 {
		t.Errorf("expected count 3, got %d", n)
	}
}

func TestMemoryStore_UpdateTradeRecord(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.CreateSwap(ctx, testSwap("s1"))

	record := model.TradeRecord{
		State:       model.StateIncepted,
		Fingerprint: "sha256:abc",
		Initiator:   "party-a",
		ProposedAt:  time.Now().UTC(),
	}
	if err := s.UpdateTradeRecord(ctx, "s1", record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := s.GetSwap(ctx, "s1")
	if got.Record.State != model.StateIncepted || got.Record.Fingerprint != "sha256:abc" {
		t.Errorf("record not persisted: %+v", got.Record)
	}

	if err := s.UpdateTradeRecord(ctx, "missing", record); err == nil {
		t.Error("expected error for unknown swap")
	}
}

func TestMemoryStore_EventQueries(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	events := []model.LifecycleEvent{
		{ID: "e1", SwapID: "s1", Type: model.EventTradeIncepted, Party: "party-a", State: model.StateIncepted},
		{ID: "e2", SwapID: "s1", Type: model.EventTradeConfirmed, Party: "party-b", State: model.StateConfirmed},
		{ID: "e3", SwapID: "s2", Type: model.EventTradeIncepted, Party: "party-a", State: model.StateIncepted},
	}
	for i := range events {
		if err := s.InsertEvent(ctx, &events[i]); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	bySwap, err := s.GetEventsBySwap(ctx, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bySwap) != 2 || bySwap[0].ID != "e1" || bySwap[1].ID != "e2" {
		t.Errorf("unexpected events for s1: %+v", bySwap)
	}

	byParty, err := s.GetEventsByParty(ctx, "party-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(byParty) != 2 || byParty[0].ID != "e1" || byParty[1].ID != "e3" {
		t.Errorf("unexpected events for party-a: %+v", byParty)
	}
}
