package timer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/shuttle-bot/internal/kv"
)

const keyPrefix = "timer:"

// ttlMargin keeps the durable record around a little past expiry so a
// restart shortly after the deadline can still replay the expiration.
const ttlMargin = 60 * time.Second

// registry persists timer records in the key-value store, independent
// of process lifetime. It is owned exclusively by the Engine.
type registry struct {
	kv kv.Store
}

func key(id uuid.UUID) string { return keyPrefix + id.String() }

func (r *registry) save(ctx context.Context, id uuid.UUID, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal timer record: %w", err)
	}
	ttl := time.Duration(rec.Duration)*time.Second + ttlMargin
	if err := r.kv.SetTTL(ctx, key(id), string(b), ttl); err != nil {
		return fmt.Errorf("persist timer record: %w", err)
	}
	return nil
}

func (r *registry) load(ctx context.Context, k string) (uuid.UUID, *Record, error) {
	id, err := uuid.Parse(strings.TrimPrefix(k, keyPrefix))
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("bad timer key %q: %w", k, err)
	}
	v, err := r.kv.Get(ctx, k)
	if err != nil {
		return uuid.Nil, nil, err
	}
	var rec Record
	if err := json.Unmarshal([]byte(v), &rec); err != nil {
		return uuid.Nil, nil, fmt.Errorf("unmarshal timer record %q: %w", k, err)
	}
	return id, &rec, nil
}

func (r *registry) delete(ctx context.Context, id uuid.UUID) error {
	return r.kv.Del(ctx, key(id))
}

func (r *registry) keys(ctx context.Context) ([]string, error) {
	return r.kv.Scan(ctx, keyPrefix)
}
