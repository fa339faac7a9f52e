package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestKeyNormalization(t *testing.T) {
	tests := []struct {
		tenant string
		kind   string
		suffix []string
		want   string
	}{
		{"Tenant-ABC", "requests", nil, "rl:tenant-abc:requests"},
		{"  tenant-abc  ", "burst", nil, "rl:tenant-abc:burst"},
		{"", "requests", nil, "rl:anonymous:requests"},
		{"t", "ws", []string{"conn-1"}, "rl:t:ws:conn-1"},
	}
	for _, tt := range tests {
		if got := Key(tt.tenant, tt.kind, tt.suffix...); got != tt.want {
			t.Errorf("Key(%q, %q, %v) = %q, want %q", tt.tenant, tt.kind, tt.suffix, got, tt.want)
		}
	}
}

func TestMemoryIncrementWindow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	b, err := s.Increment(ctx, "rl:t:requests", time.Minute)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if b.Count != 1 {
		t.Errorf("first count = %d, want 1", b.Count)
	}
	if until := time.Until(b.ResetAt); until <= 0 || until > time.Minute {
		t.Errorf("ResetAt %v outside window", until)
	}

	b, _ = s.Increment(ctx, "rl:t:requests", time.Minute)
	if b.Count != 2 {
		t.Errorf("second count = %d, want 2", b.Count)
	}
}

func TestMemoryWindowExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.Increment(ctx, "k", 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expired bucket still returned: %+v", got)
	}

	b, _ := s.Increment(ctx, "k", time.Minute)
	if b.Count != 1 {
		t.Errorf("count after expiry = %d, want fresh window", b.Count)
	}
}

func TestMemoryConcurrentIncrement(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	const goroutines = 50
	const each = 20
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				if _, err := s.Increment(ctx, "shared", time.Minute); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	b, err := s.Get(ctx, "shared")
	if err != nil || b == nil {
		t.Fatalf("Get: %v %v", b, err)
	}
	if b.Count != goroutines*each {
		t.Errorf("count = %d, want %d", b.Count, goroutines*each)
	}
}

func TestMemoryCancelledContextIsNoop(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Increment(ctx, "k", time.Minute); err == nil {
		t.Error("Increment with cancelled context succeeded")
	}
	if got, _ := s.Get(context.Background(), "k"); got != nil {
		t.Errorf("cancelled increment mutated state: %+v", got)
	}
}
