package archive

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/icza/grf/internal/textenc"
)

// entryFileFlag marks a table entry as a real, addressable file; entries
// without it are directories or deleted placeholders (§3 Entry invariant).
const entryFileFlag = 0x01

// Entry describes one file inside an Archive.
type Entry struct {
	RawName     []byte
	Name        string // decoded under the archive's detected/declared encoding
	CompAligned uint32 // size of the stored (possibly compressed) block
	RealSize    uint32 // size of the file once inflated
	Flags       uint8
	Offset      int64 // offset relative to the end of the 46-byte header
}

// IsFile reports whether the entry is addressable (flag bit 0 set).
func (e Entry) IsFile() bool { return e.Flags&entryFileFlag != 0 }

// rawEntry is a table record before its name has been decoded.
type rawEntry struct {
	name        []byte
	compAligned uint32
	realSize    uint32
	flags       uint8
	offset      int64
}

// ErrTableParseError is returned when the file table produced no usable
// entries despite the header declaring some, or an entry record runs past
// the end of the inflated table buffer before any entry was parsed.
var ErrTableParseError = errors.New("archive: table parse error")

// parseEntries walks a raw, already-inflated table buffer using the given
// offset width (4 for version 0x200, 4 or 8 when choosing a 0x300 layout).
// It never returns an error: entries that don't fit are a stopping
// condition, recorded via parseErrors, not a fatal failure, since a
// truncated tail is recoverable (the entries already parsed are still
// usable).
func parseEntries(buf []byte, offsetWidth int, want uint32, archiveLen int64) (entries []rawEntry, inspected, parseErrors, outOfRange int) {
	fixedTail := 4 + 4 + 4 + 1 + offsetWidth // compSize + compAligned + realSize + flags + offset
	pos := 0

	for uint32(inspected) < want && pos < len(buf) {
		nameEnd := pos
		for nameEnd < len(buf) && buf[nameEnd] != 0 {
			nameEnd++
		}
		if nameEnd >= len(buf) {
			parseErrors++
			break
		}
		name := buf[pos:nameEnd]
		p := nameEnd + 1

		if p+fixedTail > len(buf) {
			parseErrors++
			break
		}

		// compSize (unused beyond being skipped: compAligned is what
		// extraction actually reads).
		p += 4
		compAligned := binary.LittleEndian.Uint32(buf[p : p+4])
		p += 4
		realSize := binary.LittleEndian.Uint32(buf[p : p+4])
		p += 4
		flags := buf[p]
		p++

		var offset int64
		if offsetWidth == 4 {
			offset = int64(binary.LittleEndian.Uint32(buf[p : p+4]))
		} else {
			offset = int64(binary.LittleEndian.Uint64(buf[p : p+8]))
		}
		p += offsetWidth

		inspected++

		absOffset := offset + HeaderSize
		if offset < 0 || absOffset < 0 || absOffset+int64(compAligned) > archiveLen {
			outOfRange++
		}

		entries = append(entries, rawEntry{
			name:        append([]byte(nil), name...),
			compAligned: compAligned,
			realSize:    realSize,
			flags:       flags,
			offset:      offset,
		})
		pos = p
	}

	return entries, inspected, parseErrors, outOfRange
}

// parseTable chooses the entry layout and decodes names. For version 0x200
// the offset width is always 4 bytes; for 0x300 the table is parsed twice
// (4-byte and 8-byte offsets) and the layout maximizing inspected entries
// wins, ties broken by fewer parse errors and then fewer out-of-range
// offsets (§4.4, §8 boundary case, scenario S4).
func parseTable(buf []byte, version Version, want uint32, archiveLen int64) ([]rawEntry, error) {
	var chosen []rawEntry
	var inspected int

	if version == Version200 {
		entries, ins, parseErrs, _ := parseEntries(buf, 4, want, archiveLen)
		chosen, inspected = entries, ins
		if want > 0 && ins == 0 {
			return nil, fmt.Errorf("%w: no entries parsed from %d declared", ErrTableParseError, want)
		}
		_ = parseErrs
		return chosen, nil
	}

	e32, ins32, err32, oor32 := parseEntries(buf, 4, want, archiveLen)
	e64, ins64, err64, oor64 := parseEntries(buf, 8, want, archiveLen)

	use64 := false
	switch {
	case ins64 != ins32:
		use64 = ins64 > ins32
	case err64 != err32:
		use64 = err64 < err32
	default:
		use64 = oor64 < oor32
	}

	if use64 {
		chosen, inspected = e64, ins64
	} else {
		chosen, inspected = e32, ins32
	}

	if want > 0 && inspected == 0 {
		return nil, fmt.Errorf("%w: no entries parsed from %d declared", ErrTableParseError, want)
	}
	return chosen, nil
}

// decodeEntries turns raw entries into Entry values once an encoding has
// been chosen (or auto-detected) for the archive.
func decodeEntries(raw []rawEntry, enc textenc.Encoding) []Entry {
	entries := make([]Entry, len(raw))
	for i, r := range raw {
		entries[i] = Entry{
			RawName:     r.name,
			Name:        textenc.DecodeLossy(r.name, enc),
			CompAligned: r.compAligned,
			RealSize:    r.realSize,
			Flags:       r.flags,
			Offset:      r.offset,
		}
	}
	return entries
}
