package resolver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icza/grf/internal/cache"
	"github.com/icza/grf/internal/index"
)

// fakeArchive is a minimal ArchiveGetter stub: a map of raw key -> content,
// with a call counter so tests can assert singleflight collapsing.
type fakeArchive struct {
	mu      sync.Mutex
	files   map[string][]byte
	calls   int32
	delay   chan struct{} // if non-nil, Get blocks until this channel is closed
}

func newFakeArchive(files map[string][]byte) *fakeArchive {
	return &fakeArchive{files: files}
}

func (f *fakeArchive) Get(rawKey []byte) ([]byte, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay != nil {
		<-f.delay
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	buf, ok := f.files[string(rawKey)]
	if !ok {
		return nil, errors.New("fake: missing")
	}
	return buf, nil
}

func buildResolver(t *testing.T, files map[string][]byte) (*Resolver, *fakeArchive) {
	t.Helper()
	idx := index.New()
	for k := range files {
		idx.Ingest(0, []byte(k), k)
	}
	arc := newFakeArchive(files)
	c := cache.New(10, 1<<20)
	return New(idx, c, []ArchiveGetter{arc}), arc
}

func TestResolver_FetchHitsIndexThenCaches(t *testing.T) {
	t.Parallel()

	r, arc := buildResolver(t, map[string][]byte{"data/foo.txt": []byte("hello")})

	got, err := r.Fetch(context.Background(), "DATA/FOO.TXT")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
	assert.EqualValues(t, 1, atomic.LoadInt32(&arc.calls))

	// Second fetch for an equivalent (case/slash-folded) path must hit the
	// cache, not dispatch to the archive again.
	got, err = r.Fetch(context.Background(), "data/foo.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
	assert.EqualValues(t, 1, atomic.LoadInt32(&arc.calls))
}

func TestResolver_FetchBackslashAlternate(t *testing.T) {
	t.Parallel()

	r, _ := buildResolver(t, map[string][]byte{`data\foo.txt`: []byte("hi")})

	got, err := r.Fetch(context.Background(), "data/foo.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), got)
}

func TestResolver_FetchNotFound(t *testing.T) {
	t.Parallel()

	r, _ := buildResolver(t, map[string][]byte{"data/foo.txt": []byte("hi")})

	_, err := r.Fetch(context.Background(), "data/missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, r.MissingRecords(), 1)
}

func TestResolver_FetchRespectsCancelledContext(t *testing.T) {
	t.Parallel()

	r, _ := buildResolver(t, map[string][]byte{"data/foo.txt": []byte("hi")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Fetch(ctx, "data/foo.txt")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolver_ConcurrentMissesCollapseIntoOneDispatch(t *testing.T) {
	t.Parallel()

	idx := index.New()
	idx.Ingest(0, []byte("data/foo.txt"), "data/foo.txt")
	arc := newFakeArchive(map[string][]byte{"data/foo.txt": []byte("hello")})
	arc.delay = make(chan struct{})
	c := cache.New(10, 1<<20)
	r := New(idx, c, []ArchiveGetter{arc})

	const n = 8
	var wg sync.WaitGroup
	results := make([][]byte, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Fetch(context.Background(), "data/foo.txt")
		}(i)
	}
	close(arc.delay) // release all blocked Gets at once
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte("hello"), results[i])
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&arc.calls), "singleflight should collapse concurrent misses for the same key")
}

func TestResolver_FetchSlow(t *testing.T) {
	t.Parallel()

	idx := index.New() // intentionally empty: IDX does not know about this path
	arc := newFakeArchive(map[string][]byte{"data/foo.txt": []byte("hello")})
	c := cache.New(10, 1<<20)
	r := New(idx, c, []ArchiveGetter{arc})

	got, err := r.fetchSlow(context.Background(), "data/foo.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestResolver_GetStats(t *testing.T) {
	t.Parallel()

	r, _ := buildResolver(t, map[string][]byte{"data/foo.txt": []byte("hi")})
	_, _ = r.Fetch(context.Background(), "data/foo.txt")
	_, _ = r.Fetch(context.Background(), "data/missing.txt")

	stats := r.GetStats()
	assert.Equal(t, 1, stats.Missing)
	assert.GreaterOrEqual(t, stats.Index.Keys, 1)
}
