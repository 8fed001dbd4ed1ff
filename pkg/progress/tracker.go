package progress

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tracker publishes upload progress. Writes go to the shared primary store;
// when it fails they land in the in-process fallback instead, so progress
// reporting never aborts an upload.
type Tracker struct {
	primary  Store
	fallback *MemoryStore
	ttl      time.Duration
	timeout  time.Duration
	now      func() time.Time

	mu sync.Mutex
}

// NewTracker creates a tracker over an explicit primary store. A nil
// primary means fallback-only operation.
func NewTracker(primary Store, fallback *MemoryStore) *Tracker {
	if fallback == nil {
		fallback = NewMemoryStore()
	}
	return &Tracker{
		primary:  primary,
		fallback: fallback,
		ttl:      TTL,
		timeout:  3 * time.Second,
		now:      time.Now,
	}
}

// Connect creates a tracker backed by Redis. If Redis is unreachable the
// tracker degrades to in-process storage and logs it.
func Connect(ctx context.Context, opts *redis.Options) (*Tracker, func() error) {
	store, err := NewRedisStore(ctx, opts)
	if err != nil {
		log.Printf("[!] Progress store degraded to in-process memory (visible to this process only): %v\n", err)
		return NewTracker(nil, nil), func() error { return nil }
	}
	log.Println("✓ Redis progress store connected")
	return NewTracker(store, nil), store.Close
}

// Degraded reports whether there is no shared store
func (t *Tracker) Degraded() bool {
	return t.primary == nil
}

// Update merges fields into the upload's record, stamps last_update and
// writes it with the configured expiry. Last writer wins.
func (t *Tracker) Update(ctx context.Context, uploadID string, fields ...Field) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, err := t.load(ctx, uploadID)
	exists := err == nil
	rec := merge(prev, exists, t.now(), fields...)

	if t.primary != nil {
		wctx, cancel := context.WithTimeout(ctx, t.timeout)
		err := t.primary.Save(wctx, uploadID, rec, t.ttl)
		cancel()
		if err == nil {
			return
		}
		log.Printf("    [!] Progress write for %s failed, using in-process fallback: %v\n", uploadID, err)
	}

	// MemoryStore.Save cannot fail
	_ = t.fallback.Save(ctx, uploadID, rec, t.ttl)
}

// Get returns the upload's record or ErrNotFound
func (t *Tracker) Get(ctx context.Context, uploadID string) (Record, error) {
	return t.load(ctx, uploadID)
}

func (t *Tracker) load(ctx context.Context, uploadID string) (Record, error) {
	local, localErr := t.fallback.Load(ctx, uploadID)
	if t.primary == nil {
		return local, localErr
	}

	rctx, cancel := context.WithTimeout(ctx, t.timeout)
	shared, err := t.primary.Load(rctx, uploadID)
	cancel()

	switch {
	case err == nil:
		// A record mirrored locally during an outage may be newer
		if localErr == nil && local.LastUpdate > shared.LastUpdate {
			return local, nil
		}
		return shared, nil
	case errors.Is(err, ErrNotFound):
		return local, localErr
	default:
		log.Printf("    [!] Progress read for %s failed, using in-process fallback: %v\n", uploadID, err)
		return local, localErr
	}
}
