package kv

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreSetGetDel(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.Get(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	if err := m.SetTTL(ctx, "k", "v", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, err := m.Get(ctx, "k")
	if err != nil || v != "v" {
		t.Fatalf("get = %q, %v", v, err)
	}

	if err := m.Del(ctx, "k"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := m.Get(ctx, "k"); err != ErrNotFound {
		t.Fatalf("err after del = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.SetTTL(ctx, "k", "v", 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := m.Get(ctx, "k"); err != nil {
		t.Fatalf("get before expiry: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := m.Get(ctx, "k"); err != ErrNotFound {
		t.Fatalf("err after expiry = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreScanByPrefix(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_ = m.SetTTL(ctx, "timer:a", "1", 0)
	_ = m.SetTTL(ctx, "timer:b", "2", 0)
	_ = m.SetTTL(ctx, "gps:last:7", "3", 0)
	_ = m.SetTTL(ctx, "timer:c", "4", 5*time.Millisecond)

	time.Sleep(10 * time.Millisecond)

	keys, err := m.Scan(ctx, "timer:")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("keys = %v, want the two live timer keys", keys)
	}
	for _, k := range keys {
		if k != "timer:a" && k != "timer:b" {
			t.Fatalf("unexpected key %q", k)
		}
	}
}
