package paylog

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemoryStoreRecordAndRecent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i := 0; i < 5; i++ {
		s := Settlement{
			ID:        fmt.Sprintf("settlement-%d", i),
			Endpoint:  "/api/paid",
			Payer:     "0x14791697260E4c9A71f18484C9f997B308e59325",
			Asset:     "0xaf375c94a898bcc5c7a833b1e40d2e5a2e7a47ff",
			Amount:    "10000",
			TxHash:    fmt.Sprintf("0xhash%d", i),
			CreatedAt: time.Now(),
		}
		if err := store.Record(ctx, s); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	t.Run("newest first", func(t *testing.T) {
		recent, err := store.Recent(ctx, 3)
		if err != nil {
			t.Fatalf("Recent() error = %v", err)
		}
		if len(recent) != 3 {
			t.Fatalf("Expected 3 settlements, got %d", len(recent))
		}
		for i, want := range []string{"settlement-4", "settlement-3", "settlement-2"} {
			if recent[i].ID != want {
				t.Errorf("recent[%d].ID = %s, want %s", i, recent[i].ID, want)
			}
		}
	})

	t.Run("limit above size returns everything", func(t *testing.T) {
		recent, err := store.Recent(ctx, 100)
		if err != nil {
			t.Fatalf("Recent() error = %v", err)
		}
		if len(recent) != 5 {
			t.Errorf("Expected 5 settlements, got %d", len(recent))
		}
	})

	t.Run("zero limit returns everything", func(t *testing.T) {
		recent, err := store.Recent(ctx, 0)
		if err != nil {
			t.Fatalf("Recent() error = %v", err)
		}
		if len(recent) != 5 {
			t.Errorf("Expected 5 settlements, got %d", len(recent))
		}
	})

	t.Run("fields survive the round trip", func(t *testing.T) {
		recent, err := store.Recent(ctx, 1)
		if err != nil {
			t.Fatalf("Recent() error = %v", err)
		}
		got := recent[0]
		if got.Endpoint != "/api/paid" || got.Amount != "10000" || got.TxHash != "0xhash4" {
			t.Errorf("Unexpected settlement %+v", got)
		}
	})
}

func TestMemoryStoreEmpty(t *testing.T) {
	store := NewMemoryStore()
	recent, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recent) != 0 {
		t.Errorf("Expected empty result, got %d entries", len(recent))
	}
}

func TestMemoryStoreConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	done := make(chan struct{})
	for g := 0; g < 4; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 25; i++ {
				_ = store.Record(ctx, Settlement{ID: fmt.Sprintf("g%d-%d", g, i)})
			}
		}(g)
	}
	for g := 0; g < 4; g++ {
		<-done
	}

	recent, err := store.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recent) != 100 {
		t.Errorf("Expected 100 settlements, got %d", len(recent))
	}
}
