// Package index implements the unified cross-archive lookup: a
// collision-safe map from a normalized path to the archive and raw key that
// owns it, augmented at boot by a mojibake-repair mapping layer. It is
// grounded on github.com/icza/mpq's hash-table lookup (a name resolves to a
// fixed-size record through a canonicalization step) generalized to span
// many archives and to carry the GRF-specific slash/case/Unicode folding
// rules from §3/§4.5.
package index

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize derives the canonical lookup key for a path: runs of '/' or '\'
// collapse to a single '/', ASCII is lowercased, and the result is put into
// Unicode NFC. Two raw paths with equal Normalize collide by definition.
func Normalize(path string) string {
	folded := foldSlashes(path)
	folded = strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, folded)
	return norm.NFC.String(folded)
}

// BackslashForm derives the ad-hoc Windows-style lookup key used as a
// secondary insertion/probe alternate (§4.5 step 2, §4.7 step 3): lowercase,
// all forward slashes turned to backslashes.
func BackslashForm(path string) string {
	lower := strings.ToLower(path)
	return strings.ReplaceAll(lower, "/", "\\")
}

func foldSlashes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inRun := false
	for _, r := range s {
		if r == '/' || r == '\\' {
			if !inRun {
				b.WriteByte('/')
				inRun = true
			}
			continue
		}
		inRun = false
		b.WriteRune(r)
	}
	return b.String()
}

// Entry is the value stored in Index for one normalized key: the archive
// that owns the raw key, and the raw key itself, exactly as it appears in
// that archive's file table (so the caller can hand it straight to
// archive.Archive.Get).
type Entry struct {
	ArchiveID int
	RawKey    []byte
	// MappedFrom is set when this key was reached via a RepairMap entry
	// rather than direct ingestion: the original mojibake/C1 path.
	MappedFrom string
}

// Index is the process-wide unified map. It is built once, sequentially,
// during boot; after construction it is read-only and requires no
// synchronization (§5 "IDX is read-only after construction").
type Index struct {
	byKey      map[string]Entry
	collisions int
	canonical  map[string]string // normalized key -> first-inserted display path, for List
}

// New returns an empty Index ready for Ingest calls.
func New() *Index {
	return &Index{
		byKey:     make(map[string]Entry),
		canonical: make(map[string]string),
	}
}

// Ingest records one archive entry under both its slash-normalized key and
// its backslash alternate (§4.5 steps 1-4). Insertion order across archives
// is priority: the first archive to claim a normalized key wins; later
// claims are counted as collisions and otherwise ignored.
func (idx *Index) Ingest(archiveID int, rawKey []byte, displayPath string) {
	n := Normalize(displayPath)
	nBackslash := BackslashForm(displayPath)

	lost := !idx.insert(n, Entry{ArchiveID: archiveID, RawKey: rawKey}, displayPath)
	if nBackslash != n && !idx.insert(nBackslash, Entry{ArchiveID: archiveID, RawKey: rawKey}, displayPath) {
		lost = true
	}
	if lost {
		idx.collisions++
	}
}

func (idx *Index) insert(key string, e Entry, displayPath string) bool {
	if _, exists := idx.byKey[key]; exists {
		return false
	}
	idx.byKey[key] = e
	idx.canonical[key] = displayPath
	return true
}

// MergeRepair implements §4.5's post-ingest RepairMap merge: for a
// (mojibakePath -> canonicalPath) pair, if canonicalPath already resolves,
// insert mojibakePath's normalized form pointing at the same Entry, with
// MappedFrom recorded.
func (idx *Index) MergeRepair(mojibakePath, canonicalPath string) bool {
	canonKey := Normalize(canonicalPath)
	target, ok := idx.byKey[canonKey]
	if !ok {
		return false
	}
	mojiKey := Normalize(mojibakePath)
	if _, exists := idx.byKey[mojiKey]; exists {
		return false
	}
	mapped := target
	mapped.MappedFrom = mojibakePath
	idx.byKey[mojiKey] = mapped
	idx.canonical[mojiKey] = mojibakePath
	return true
}

// Result is the outcome of a Resolve call.
type Result struct {
	Entry Entry
	Found bool
}

// Resolve looks up path's normalized form directly. It never returns
// Ambiguous (§4.5 "ordinary first-insert-wins masks collisions... RES never
// returns Ambiguous"); this package has no multi-candidate lookup.
func (idx *Index) Resolve(path string) Result {
	e, ok := idx.byKey[Normalize(path)]
	return Result{Entry: e, Found: ok}
}

// ResolveBackslash looks up the ad-hoc Windows-style alternate form,
// matching §4.7 step 3's "normalize(path) and lowercase(path).replace /
// with \" dual probe.
func (idx *Index) ResolveBackslash(path string) Result {
	e, ok := idx.byKey[BackslashForm(path)]
	return Result{Entry: e, Found: ok}
}

// Len returns the number of distinct normalized keys held.
func (idx *Index) Len() int { return len(idx.byKey) }

// Collisions returns the number of later-archive insertions that lost to an
// earlier one, for diagnostics (VAL/stats consumption).
func (idx *Index) Collisions() int { return idx.collisions }

// List returns every distinct canonical display path held by the index, in
// no particular order (duplicates collapsed, since a path is typically
// reachable through both its slash and backslash normalized keys). Used by
// the /list consumer-contract endpoint.
func (idx *Index) List() []string {
	seen := make(map[string]struct{}, len(idx.canonical))
	out := make([]string, 0, len(idx.canonical))
	for _, p := range idx.canonical {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
