package store

import (
	"context"
	"testing"
)

func TestMemoryStoreRoundTripsToken(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, ok, _ := s.GetSyncToken(ctx); ok {
		t.Fatal("expected no token before any set")
	}

	if err := s.SetSyncToken(ctx, "t1"); err != nil {
		t.Fatalf("SetSyncToken: %v", err)
	}
	tok, ok, _ := s.GetSyncToken(ctx)
	if !ok || tok != "t1" {
		t.Fatalf("got (%q, %v), want (t1, true)", tok, ok)
	}
}

func TestMemoryStoreRoundTripsFilterID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, ok, _ := s.GetFilterID(ctx, "FILTER_SYNC_u"); ok {
		t.Fatal("expected no filter id before any set")
	}
	s.SetFilterID(ctx, "FILTER_SYNC_u", "f1")
	id, ok, _ := s.GetFilterID(ctx, "FILTER_SYNC_u")
	if !ok || id != "f1" {
		t.Fatalf("got (%q, %v), want (f1, true)", id, ok)
	}
}
