package signals

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBackend is an in-process Backend for tests and redis-less dev runs.
// TTLs are honored lazily: an expired key reads as absent and is dropped on
// the next touch.
type MemoryBackend struct {
	mu        sync.Mutex
	zsets     map[string]map[string]float64
	lists     map[string][]string
	hashes    map[string]map[string]string
	deadlines map[string]time.Time
	now       func() time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		zsets:     make(map[string]map[string]float64),
		lists:     make(map[string][]string),
		hashes:    make(map[string]map[string]string),
		deadlines: make(map[string]time.Time),
		now:       time.Now,
	}
}

// WithClock overrides the expiry clock. Test hook.
func (b *MemoryBackend) WithClock(now func() time.Time) *MemoryBackend {
	b.now = now
	return b
}

// dropIfExpired must be called with the lock held.
func (b *MemoryBackend) dropIfExpired(key string) {
	dl, ok := b.deadlines[key]
	if !ok || b.now().Before(dl) {
		return
	}
	delete(b.zsets, key)
	delete(b.lists, key)
	delete(b.hashes, key)
	delete(b.deadlines, key)
}

func (b *MemoryBackend) ZAdd(ctx context.Context, key, member string, score float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropIfExpired(key)
	z, ok := b.zsets[key]
	if !ok {
		z = make(map[string]float64)
		b.zsets[key] = z
	}
	z[member] = score
	return nil
}

func (b *MemoryBackend) ZAddNX(ctx context.Context, key, member string, score float64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropIfExpired(key)
	z, ok := b.zsets[key]
	if !ok {
		z = make(map[string]float64)
		b.zsets[key] = z
	}
	if _, exists := z[member]; exists {
		return false, nil
	}
	z[member] = score
	return true, nil
}

func (b *MemoryBackend) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropIfExpired(key)
	score, ok := b.zsets[key][member]
	return score, ok, nil
}

func (b *MemoryBackend) ZCount(ctx context.Context, key string, min, max float64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropIfExpired(key)
	var n int64
	for _, score := range b.zsets[key] {
		if score >= min && score <= max {
			n++
		}
	}
	return n, nil
}

func (b *MemoryBackend) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropIfExpired(key)
	for member, score := range b.zsets[key] {
		if score >= min && score <= max {
			delete(b.zsets[key], member)
		}
	}
	return nil
}

func (b *MemoryBackend) RPush(ctx context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropIfExpired(key)
	b.lists[key] = append(b.lists[key], value)
	return nil
}

func (b *MemoryBackend) LTrimLast(ctx context.Context, key string, n int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropIfExpired(key)
	l := b.lists[key]
	if int64(len(l)) > n {
		b.lists[key] = append([]string(nil), l[int64(len(l))-n:]...)
	}
	return nil
}

func (b *MemoryBackend) LRange(ctx context.Context, key string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropIfExpired(key)
	return append([]string(nil), b.lists[key]...), nil
}

func (b *MemoryBackend) HSet(ctx context.Context, key string, fields map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropIfExpired(key)
	h, ok := b.hashes[key]
	if !ok {
		h = make(map[string]string)
		b.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (b *MemoryBackend) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropIfExpired(key)
	out := make(map[string]string, len(b.hashes[key]))
	for k, v := range b.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (b *MemoryBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deadlines[key] = b.now().Add(ttl)
	return nil
}

// Members returns a zset's members sorted by score. Test helper.
func (b *MemoryBackend) Members(key string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	type pair struct {
		member string
		score  float64
	}
	pairs := make([]pair, 0, len(b.zsets[key]))
	for m, s := range b.zsets[key] {
		pairs = append(pairs, pair{m, s})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score < pairs[j].score })
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.member
	}
	return out
}
