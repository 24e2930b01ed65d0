// Package resolver implements RES, the single entry point answering "give
// me the bytes for path P": cache, then index (which already holds the
// RepairMap's alternate forms), with concurrent misses for the same path collapsed
// through singleflight so duplicate work is never done twice. It is
// grounded on golang.org/x/sync/singleflight's own documented idiom
// (dedup keyed by the request's natural identity) composed with the
// teacher's error-wrapping style from icza-mpq.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/icza/grf/internal/cache"
	"github.com/icza/grf/internal/index"
)

// ErrNotFound is returned when path resolves through none of cache, index,
// or the repair-map alternates.
var ErrNotFound = errors.New("resolver: not found")

// ArchiveGetter is the narrow capability RES needs from an opened archive:
// extract a file's bytes by its raw table key. archive.Archive satisfies
// this.
type ArchiveGetter interface {
	Get(rawKey []byte) ([]byte, error)
}

// MissingRecord captures one exhausted lookup for diagnostics (§3): the
// path that was requested, its normalized form, and which alternate forms
// were tried before giving up.
type MissingRecord struct {
	Path           string
	Normalized     string
	TriedAlternate bool
}

const missingRingCapacity = 1000

// missingRing is a bounded in-memory ring buffer of MissingRecords.
type missingRing struct {
	mu      sync.Mutex
	entries []MissingRecord
	next    int
	full    bool
}

func newMissingRing() *missingRing {
	return &missingRing{entries: make([]MissingRecord, missingRingCapacity)}
}

func (r *missingRing) push(rec MissingRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = rec
	r.next = (r.next + 1) % missingRingCapacity
	if r.next == 0 {
		r.full = true
	}
}

func (r *missingRing) snapshot() []MissingRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]MissingRecord, r.next)
		copy(out, r.entries[:r.next])
		return out
	}
	out := make([]MissingRecord, missingRingCapacity)
	copy(out, r.entries[r.next:])
	copy(out[missingRingCapacity-r.next:], r.entries[:r.next])
	return out
}

// Resolver is the process-wide RES singleton. It is exposed to the
// external HTTP collaborator after boot (§5 "init order is archives → IDX
// ingest → RepairMap merge → RES exposed").
type Resolver struct {
	idx      *index.Index
	cache    *cache.Cache
	archives []ArchiveGetter // indexed by archive id, priority order

	group         singleflight.Group
	missing       *missingRing
	notifyLimiter *rate.Limiter
}

// New returns a Resolver over idx and c, dispatching hits to the given
// archives (indexed by their archive id, the same ids used in
// index.Entry.ArchiveID).
func New(idx *index.Index, c *cache.Cache, archives []ArchiveGetter) *Resolver {
	return &Resolver{
		idx:           idx,
		cache:         c,
		archives:      archives,
		missing:       newMissingRing(),
		notifyLimiter: rate.NewLimiter(0, 1), // one initial token, no refill, until SetNotifyRate configures a real cooldown
	}
}

// SetNotifyRate reconfigures the cooldown on external missing-path
// notifications (§3); the zero Limiter from New never re-fires after its
// single initial burst, which is the conservative default for a consumer
// that has not opted in to a notification sink.
func (r *Resolver) SetNotifyRate(lim *rate.Limiter) {
	r.notifyLimiter = lim
}

// Fetch answers "give me the bytes for path P" per §4.7: cache probe,
// then normalized-index probe (forward and backslash form), then NotFound.
// Repair-map forms are found by the index probe itself, since boot merged
// them into the index; there is no separate retry. Concurrent Fetch calls for the
// same cache key are collapsed into one underlying archive dispatch.
func (r *Resolver) Fetch(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cacheKey := index.Normalize(path)
	if buf, ok := r.cache.Get(cacheKey); ok {
		return buf, nil
	}

	v, err, _ := r.group.Do(cacheKey, func() (interface{}, error) {
		return r.fetchAndCache(ctx, path, cacheKey)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// fetchAndCache runs under singleflight dedup keyed by cacheKey, so it is
// entered at most once per outstanding miss; the caller's own cache.Get in
// Fetch is the single, authoritative miss accounting point.
func (r *Resolver) fetchAndCache(ctx context.Context, path, cacheKey string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entry, found := r.lookup(path)
	if !found {
		r.recordMissing(path, true)
		return nil, fmt.Errorf("resolver: %q: %w", path, ErrNotFound)
	}

	if entry.ArchiveID < 0 || entry.ArchiveID >= len(r.archives) {
		return nil, fmt.Errorf("resolver: %q: archive id %d out of range", path, entry.ArchiveID)
	}
	content, err := r.archives[entry.ArchiveID].Get(entry.RawKey)
	if err != nil {
		return nil, fmt.Errorf("resolver: %q: %w", path, err)
	}

	r.cache.Put(cacheKey, content)
	return content, nil
}

// lookup implements §4.7 steps 1/3/4: the forward-normalized form, then the
// backslash alternate. The RepairMap has already been merged into idx at
// boot (§4.5), so no separate repair-map retry step is needed here: a
// mojibake path normalizes to a key idx.MergeRepair already inserted.
func (r *Resolver) lookup(path string) (index.Entry, bool) {
	if res := r.idx.Resolve(path); res.Found {
		return res.Entry, true
	}
	if res := r.idx.ResolveBackslash(path); res.Found {
		return res.Entry, true
	}
	return index.Entry{}, false
}

// fetchSlow is the §4.7 step 5 sequential fallback: iterate every archive
// in priority order, trying a direct Get with path's raw bytes forms. It is
// not wired into Fetch's default path (Open Question decision (a): IDX is
// treated as authoritative) and exists only so the documented behavior has
// a concrete, testable implementation if an integration later demands it.
func (r *Resolver) fetchSlow(ctx context.Context, path string) ([]byte, error) {
	candidates := [][]byte{[]byte(path), []byte(index.BackslashForm(path))}
	for _, a := range r.archives {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, c := range candidates {
			if buf, err := a.Get(c); err == nil {
				return buf, nil
			}
		}
	}
	return nil, fmt.Errorf("resolver: %q: %w", path, ErrNotFound)
}

func (r *Resolver) recordMissing(path string, triedAlternate bool) {
	r.missing.push(MissingRecord{
		Path:           path,
		Normalized:     index.Normalize(path),
		TriedAlternate: triedAlternate,
	})
	if r.notifyLimiter != nil {
		r.notifyLimiter.Allow() // reserved for a future external notification sink; consumes the cooldown token
	}
}

// Stats is a snapshot of the resolver's state, for the /stats consumer
// contract.
type Stats struct {
	Cache   cache.Stats `json:"cache"`
	Index   IndexStats  `json:"index"`
	Missing int         `json:"missing"`
}

// IndexStats summarizes the underlying index for diagnostics.
type IndexStats struct {
	Keys       int
	Collisions int
}

// GetStats returns a snapshot combining cache, index, and missing-record
// counters (§6 "stats() -> { cache, index, missing }").
func (r *Resolver) GetStats() Stats {
	return Stats{
		Cache: r.cache.GetStats(),
		Index: IndexStats{
			Keys:       r.idx.Len(),
			Collisions: r.idx.Collisions(),
		},
		Missing: len(r.missing.snapshot()),
	}
}

// MissingRecords returns a snapshot of the bounded missing-path ring.
func (r *Resolver) MissingRecords() []MissingRecord {
	return r.missing.snapshot()
}
