package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/defiguard/internal/logging"
)

// TieredStore writes through to a durable store and keeps an in-process copy of every
// key it has seen. Writes the durable layer rejects stay pending in memory, are served
// in preference to the durable copy, and are replayed in order once it answers again.
type TieredStore struct {
	durable    KVStore
	memoryOnly atomic.Bool

	mu      sync.Mutex
	cache   map[string][]byte
	pending map[string]*pendingWrite
	seq     uint64

	flushMu sync.Mutex // one replay at a time so an older write never lands after a newer one
}

// pendingWrite is a value (or deletion) not yet accepted by the durable store
type pendingWrite struct {
	seq     uint64
	value   []byte
	deleted bool
}

// NewTieredStore selects the operating mode once. If durable implements Pinger and the
// ping fails, the store runs memory-only for its lifetime. A nil durable store is memory-only.
func NewTieredStore(ctx context.Context, durable KVStore) *TieredStore {
	t := &TieredStore{
		durable: durable,
		cache:   make(map[string][]byte),
		pending: make(map[string]*pendingWrite),
	}
	if durable == nil {
		t.memoryOnly.Store(true)
		return t
	}
	if p, ok := durable.(Pinger); ok {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := p.Ping(pingCtx); err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Durable store unreachable, using in-memory storage")
			t.memoryOnly.Store(true)
		}
	}
	return t
}

// MemoryOnly reports whether the durable layer was rejected at construction
func (t *TieredStore) MemoryOnly() bool {
	return t.memoryOnly.Load()
}

// Pending returns the number of writes waiting for the durable store
func (t *TieredStore) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *TieredStore) Get(ctx context.Context, key string) ([]byte, error) {
	if t.MemoryOnly() {
		return t.cached(key)
	}
	if err := t.flush(ctx); err != nil {
		t.degraded(ctx, "get", key, err)
		return t.cached(key)
	}

	t.mu.Lock()
	_, dirty := t.pending[key]
	t.mu.Unlock()
	if dirty {
		// written after the replay above started
		return t.cached(key)
	}

	v, err := t.durable.Get(ctx, key)
	switch {
	case err == nil:
		t.remember(key, v)
		return v, nil
	case errors.Is(err, ErrNotFound):
		t.forget(key)
		return nil, ErrNotFound
	default:
		t.degraded(ctx, "get", key, err)
		return t.cached(key)
	}
}

func (t *TieredStore) Set(ctx context.Context, key string, value []byte) error {
	t.stage(key, value, false)
	if t.MemoryOnly() {
		return nil
	}
	if err := t.flush(ctx); err != nil {
		t.degraded(ctx, "set", key, err)
	}
	return nil
}

func (t *TieredStore) Delete(ctx context.Context, key string) error {
	t.stage(key, nil, true)
	if t.MemoryOnly() {
		return nil
	}
	if err := t.flush(ctx); err != nil {
		t.degraded(ctx, "delete", key, err)
	}
	return nil
}

// stage applies a write to the in-process copy and, with a durable layer, queues it
func (t *TieredStore) stage(key string, value []byte, deleted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if deleted {
		delete(t.cache, key)
	} else {
		value = append([]byte(nil), value...)
		t.cache[key] = value
	}
	if t.MemoryOnly() {
		return
	}
	t.seq++
	t.pending[key] = &pendingWrite{seq: t.seq, value: value, deleted: deleted}
}

// flush replays pending writes oldest first and stops at the first durable error
func (t *TieredStore) flush(ctx context.Context) error {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	t.mu.Lock()
	if len(t.pending) == 0 {
		t.mu.Unlock()
		return nil
	}
	type queued struct {
		key string
		pw  *pendingWrite
	}
	batch := make([]queued, 0, len(t.pending))
	for k, pw := range t.pending {
		batch = append(batch, queued{key: k, pw: pw})
	}
	t.mu.Unlock()
	sort.Slice(batch, func(i, j int) bool { return batch[i].pw.seq < batch[j].pw.seq })

	for _, q := range batch {
		var err error
		if q.pw.deleted {
			err = t.durable.Delete(ctx, q.key)
		} else {
			err = t.durable.Set(ctx, q.key, q.pw.value)
		}
		if err != nil {
			return err
		}
		t.mu.Lock()
		if t.pending[q.key] == q.pw {
			delete(t.pending, q.key)
		}
		t.mu.Unlock()
	}
	return nil
}

func (t *TieredStore) cached(key string) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.cache[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (t *TieredStore) remember(key string, value []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dirty := t.pending[key]; !dirty {
		t.cache[key] = append([]byte(nil), value...)
	}
}

func (t *TieredStore) forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dirty := t.pending[key]; !dirty {
		delete(t.cache, key)
	}
}

func (t *TieredStore) degraded(ctx context.Context, op, key string, err error) {
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"op":      op,
		"key":     key,
		"pending": t.Pending(),
	}).WithError(err).Warn("Durable store failed, using in-memory copy")
}
