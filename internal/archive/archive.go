// Package archive implements the GRF container format: a 46-byte header, a
// zlib-compressed central file table, and zlib-compressed per-file bodies.
// It is grounded on github.com/icza/mpq's MPQ reader — the same shape one
// level down (header → table → per-block inflate → named lookup) — adapted
// for GRF's single flat table (no hash-table indirection) and its
// dual-offset-width 0x300 ambiguity.
package archive

import (
	"errors"
	"fmt"
	"sort"

	"github.com/icza/grf/internal/textenc"
)

// ErrMissingEntry is returned by Get when raw_key names no entry in the
// archive.
var ErrMissingEntry = errors.New("archive: missing entry")

// ErrUnsupportedEncryption is returned when an entry's flags mark it as
// encrypted; the legacy DES scheme is out of scope (§1 Non-goals).
var ErrUnsupportedEncryption = errors.New("archive: unsupported encryption")

const entryEncryptedFlag = 0x02

// Stats summarizes one archive's file table for diagnostics.
type Stats struct {
	TotalEntries     int
	BadNameEntries   int // entries whose decoded name contains U+FFFD
	DetectedEncoding textenc.Encoding
	ByExtension      map[string]int
}

// Archive is one opened, fully-parsed GRF container. It is immutable after
// Open returns; Get may be called concurrently from multiple goroutines as
// long as the underlying Source supports concurrent ReadAt (true of
// FileSource and MemSource).
type Archive struct {
	src     Source
	path    string
	header  header
	entries []Entry
	byName  map[string]int // RawName (as string) -> index into entries

	encoding  textenc.Encoding
	badNames  int
	extCounts map[string]int
}

// Close releases the archive's underlying Source, if it supports closing.
func (a *Archive) Close() error {
	if c, ok := a.src.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// Path returns the archive's source path (empty for in-memory archives).
func (a *Archive) Path() string { return a.path }

// Version returns the archive's format version.
func (a *Archive) Version() Version { return a.header.version }

// Encoding returns the encoding chosen (declared or auto-detected) for this
// archive's filenames.
func (a *Archive) Encoding() textenc.Encoding { return a.encoding }

// Len returns the archive's total byte length.
func (a *Archive) Len() int64 { return a.src.Len() }

// EffectiveEntryCount returns the corrected file count from the header
// (declared − seed − 7, floored at 0).
func (a *Archive) EffectiveEntryCount() uint32 { return a.header.effectiveEntryCount() }

// OpenOptions controls how an Archive is parsed.
type OpenOptions struct {
	// Encoding forces a specific encoding instead of auto-detecting one.
	// Zero value (textenc.UTF8) combined with AutoDetect=false means
	// "decode as UTF-8"; set AutoDetect to true to run §4.3 detection
	// instead.
	Encoding    textenc.Encoding
	AutoDetect  bool
	// DetectThreshold overrides textenc.DetectThreshold when AutoDetect
	// is set. Zero means "use the default".
	DetectThreshold float64
	// ScanLimit caps how many file entries are inspected during
	// auto-detection; 0 means "inspect all" (configuration key
	// scanLimit).
	ScanLimit int
}

// Open parses src as a GRF archive: header, file table, and per-entry
// metadata. path is recorded for diagnostics only (Get and IterEntries work
// the same regardless of whether src came from disk or memory).
func Open(path string, src Source, opts OpenOptions) (*Archive, error) {
	hdrBuf, err := Read(src, 0, HeaderSize)
	if err != nil {
		return nil, fmt.Errorf("archive %s: reading header: %w: %w", path, ErrBadHeader, err)
	}
	h, err := parseHeader(hdrBuf)
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", path, err)
	}

	tablePos := int64(h.tableOffset) + HeaderSize
	tableHdrBuf, err := Read(src, tablePos, 8)
	if err != nil {
		return nil, fmt.Errorf("archive %s: reading table header: %w", path, err)
	}
	compressedSize := le32(tableHdrBuf[0:4])
	uncompressedSize := le32(tableHdrBuf[4:8])

	compressed, err := Read(src, tablePos+8, int(compressedSize))
	if err != nil {
		return nil, fmt.Errorf("archive %s: reading compressed table: %w", path, err)
	}

	tableBuf, err := Inflate(compressed, uncompressedSize)
	if err != nil {
		return nil, fmt.Errorf("archive %s: table: %w", path, err)
	}

	want := h.effectiveEntryCount()
	rawEntries, err := parseTable(tableBuf, h.version, want, src.Len())
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", path, err)
	}

	for _, re := range rawEntries {
		if re.flags&entryEncryptedFlag != 0 && re.flags&entryFileFlag != 0 {
			return nil, fmt.Errorf("archive %s: %w", path, ErrUnsupportedEncryption)
		}
	}

	enc := opts.Encoding
	if opts.AutoDetect {
		enc = detectEncoding(rawEntries, opts)
	}

	entries := decodeEntries(rawEntries, enc)

	a := &Archive{
		src:       src,
		path:      path,
		header:    h,
		entries:   entries,
		byName:    make(map[string]int, len(entries)),
		encoding:  enc,
		extCounts: map[string]int{},
	}
	for i, e := range entries {
		a.byName[string(e.RawName)] = i
		if textenc.CountReplacement(e.Name) > 0 {
			a.badNames++
		}
		if e.IsFile() {
			a.extCounts[extensionOf(e.Name)]++
		}
	}

	return a, nil
}

func detectEncoding(raw []rawEntry, opts OpenOptions) textenc.Encoding {
	threshold := opts.DetectThreshold
	if threshold == 0 {
		threshold = textenc.DetectThreshold
	}
	var names [][]byte
	for _, re := range raw {
		if re.flags&entryFileFlag == 0 {
			continue
		}
		names = append(names, re.name)
		if opts.ScanLimit > 0 && len(names) >= opts.ScanLimit {
			break
		}
	}
	return textenc.Detect(names, threshold)
}

// Get extracts and inflates the content of the entry named by rawKey (the
// entry's original, un-decoded name bytes — the "raw_key" of §4.4).
func (a *Archive) Get(rawKey []byte) ([]byte, error) {
	idx, ok := a.byName[string(rawKey)]
	if !ok {
		return nil, fmt.Errorf("archive %s: %q: %w", a.path, rawKey, ErrMissingEntry)
	}
	e := a.entries[idx]
	if !e.IsFile() {
		return nil, fmt.Errorf("archive %s: %q: %w", a.path, rawKey, ErrMissingEntry)
	}
	if e.Flags&entryEncryptedFlag != 0 {
		return nil, fmt.Errorf("archive %s: %q: %w", a.path, rawKey, ErrUnsupportedEncryption)
	}
	if e.RealSize == 0 {
		return []byte{}, nil
	}

	absOffset := e.Offset + HeaderSize
	compressed, err := Read(a.src, absOffset, int(e.CompAligned))
	if err != nil {
		return nil, fmt.Errorf("archive %s: %q: reading body: %w", a.path, rawKey, err)
	}
	content, err := Inflate(compressed, e.RealSize)
	if err != nil {
		return nil, fmt.Errorf("archive %s: %q: %w", a.path, rawKey, err)
	}
	return content, nil
}

// IterEntries calls fn for every addressable (IsFile) entry, in table
// order. It is restartable: each call walks the archive's already-parsed
// entry slice from the start, it does not consume any shared state.
func (a *Archive) IterEntries(fn func(Entry)) {
	for _, e := range a.entries {
		if e.IsFile() {
			fn(e)
		}
	}
}

// GetStats returns a snapshot of the archive's file table for diagnostics.
func (a *Archive) GetStats() Stats {
	total := 0
	for _, e := range a.entries {
		if e.IsFile() {
			total++
		}
	}
	byExt := make(map[string]int, len(a.extCounts))
	for k, v := range a.extCounts {
		byExt[k] = v
	}
	return Stats{
		TotalEntries:     total,
		BadNameEntries:   a.badNames,
		DetectedEncoding: a.encoding,
		ByExtension:      byExt,
	}
}

// Extensions returns the archive's known extensions sorted alphabetically,
// convenience for callers formatting GetStats().ByExtension.
func (a *Archive) Extensions() []string {
	exts := make([]string, 0, len(a.extCounts))
	for k := range a.extCounts {
		exts = append(exts, k)
	}
	sort.Strings(exts)
	return exts
}

func extensionOf(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		switch name[i] {
		case '.':
			return name[i+1:]
		case '/', '\\':
			return ""
		}
	}
	return ""
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
