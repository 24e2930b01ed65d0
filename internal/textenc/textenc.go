// Package textenc decodes the filename bytes stored inside GRF file tables
// and repairs the two characteristic corruptions those names exhibit: CP949
// byte sequences reinterpreted as Latin-1 ("mojibake"), and a stray leading
// run of C1 control code points (U+0080..U+009F) left behind by an
// incomplete encoding conversion somewhere upstream of the archive.
//
// None of this is specific to any one archive; textenc has no notion of
// Archive, Entry or table layout, it only ever sees byte slices and
// strings.
package textenc

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"
)

// Encoding identifies one of the byte encodings a GRF archive may use for
// its file table's names.
type Encoding int

const (
	// UTF8 decodes/encodes names as strict UTF-8; any ill-formed byte
	// sequence is rejected rather than replaced.
	UTF8 Encoding = iota
	// CP949 decodes/encodes names as Microsoft's CP949 (a superset of
	// EUC-KR with an extended Hangul syllable block).
	CP949
	// EUCKR is accepted as an archive's declared encoding but is treated
	// identically to CP949 everywhere it matters: CP949 is a strict
	// superset of EUC-KR, so decoding the narrower set under the wider
	// one never loses information (§9 design note (c)).
	EUCKR
	// Latin1 maps each byte directly to the code point of the same
	// value (ISO-8859-1), the encoding mojibake assumes filenames were
	// misread under.
	Latin1
	// Unknown is reported when an archive has no inspectable entries to
	// run auto-detection over (§8 boundary case: an archive whose
	// entries are all non-file placeholders).
	Unknown
)

func (e Encoding) String() string {
	switch e {
	case UTF8:
		return "utf-8"
	case CP949:
		return "cp949"
	case EUCKR:
		return "euc-kr"
	case Latin1:
		return "latin1"
	case Unknown:
		return "unknown"
	default:
		return fmt.Sprintf("textenc.Encoding(%d)", int(e))
	}
}

// ErrInvalidUTF8 is returned by Decode when asked to decode ill-formed bytes
// under UTF8.
var ErrInvalidUTF8 = errors.New("textenc: invalid UTF-8 sequence")

// ErrNotLatin1 is returned by Encode when a string contains a code point
// above U+00FF and cannot be represented under Latin1.
var ErrNotLatin1 = errors.New("textenc: code point outside Latin-1 range")

const (
	c1Low   = 0x0080
	c1High  = 0x009F
	hanLow  = 0xAC00
	hanHigh = 0xD7A3
)

// Decode turns raw archive bytes into a Go string under the given encoding.
// UTF8 decoding is strict: any ill-formed sequence fails rather than being
// replaced with U+FFFD, so callers can tell a genuinely broken name apart
// from one that merely looks unusual.
func Decode(b []byte, enc Encoding) (string, error) {
	switch enc {
	case UTF8:
		if !utf8.Valid(b) {
			return "", ErrInvalidUTF8
		}
		return string(b), nil
	case CP949, EUCKR:
		return decodeCP949(b)
	case Latin1:
		return decodeLatin1(b), nil
	default:
		return "", fmt.Errorf("textenc: unknown encoding %v", enc)
	}
}

// Encode is the inverse of Decode, used by RoundtripOK to check that a
// decoded name can be re-encoded back to its original bytes.
func Encode(s string, enc Encoding) ([]byte, error) {
	switch enc {
	case UTF8:
		return []byte(s), nil
	case CP949, EUCKR:
		return encodeCP949(s)
	case Latin1:
		return encodeLatin1(s)
	default:
		return nil, fmt.Errorf("textenc: unknown encoding %v", enc)
	}
}

func decodeCP949(b []byte) (string, error) {
	out, _, err := transform.Bytes(korean.EUCKR.NewDecoder(), b)
	if err != nil {
		return "", fmt.Errorf("textenc: cp949 decode: %w", err)
	}
	return string(out), nil
}

func encodeCP949(s string) ([]byte, error) {
	out, _, err := transform.Bytes(korean.EUCKR.NewEncoder(), []byte(s))
	if err != nil {
		return nil, fmt.Errorf("textenc: cp949 encode: %w", err)
	}
	return out, nil
}

func decodeLatin1(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

func encodeLatin1(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return nil, ErrNotLatin1
		}
		out = append(out, byte(r))
	}
	return out, nil
}

// IsUTF8 reports whether b is well-formed UTF-8. Pure-ASCII input takes a
// fast path that skips full UTF-8 validation.
func IsUTF8(b []byte) bool {
	allASCII := true
	for _, c := range b {
		if c >= 0x80 {
			allASCII = false
			break
		}
	}
	if allASCII {
		return true
	}
	return utf8.Valid(b)
}

// CountReplacement counts U+FFFD (the Unicode replacement character) code
// points in s.
func CountReplacement(s string) int {
	n := 0
	for _, r := range s {
		if r == utf8.RuneError {
			n++
		}
	}
	return n
}

// CountC1 counts C1 control code points (U+0080..U+009F) in s.
func CountC1(s string) int {
	n := 0
	for _, r := range s {
		if r >= c1Low && r <= c1High {
			n++
		}
	}
	return n
}

// CountHangul counts precomposed Hangul syllable code points
// (U+AC00..U+D7A3) in s.
func CountHangul(s string) int {
	n := 0
	for _, r := range s {
		if r >= hanLow && r <= hanHigh {
			n++
		}
	}
	return n
}

// IsMojibake reports whether s looks like a Korean (CP949) name that got
// reinterpreted as Latin-1: every non-ASCII code point falls in
// U+00A0..U+00FF, and none of them form real Hangul.
func IsMojibake(s string) bool {
	total, inLatinSupplement := 0, 0
	for _, r := range s {
		if r < 0x80 {
			continue // ordinary path separators, digits, extensions
		}
		if r >= hanLow && r <= hanHigh {
			return false // genuine Hangul: not a reinterpretation artifact
		}
		total++
		if r >= 0x00A0 && r <= 0x00FF {
			inLatinSupplement++
		}
	}
	return total > 0 && inLatinSupplement == total
}

// FixMojibake reinterprets the code points of s as raw bytes (0x00..0xFF)
// and decodes those bytes as CP949. If any code point exceeds 0xFF, or the
// CP949 decode fails, s is returned unchanged.
func FixMojibake(s string) string {
	raw := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return s
		}
		raw = append(raw, byte(r))
	}
	fixed, err := decodeCP949(raw)
	if err != nil {
		return s
	}
	return fixed
}

// FixC1Prefix repairs a single path segment that was correctly decoded
// except for a leading run of bytes misread into the C1 control range.
// It collects the leading run of code points that fit in a byte, re-decodes
// that run as CP949, and glues it back to the untouched tail. The repair is
// only accepted if it strictly decreases the C1 count without increasing
// the number of replacement characters (§9 design note (b)).
func FixC1Prefix(segment string) (string, bool) {
	runes := []rune(segment)
	prefixLen := 0
	for prefixLen < len(runes) && runes[prefixLen] <= 0xFF {
		prefixLen++
	}
	if prefixLen == 0 {
		return segment, false
	}

	rawPrefix := make([]byte, prefixLen)
	for i := 0; i < prefixLen; i++ {
		rawPrefix[i] = byte(runes[i])
	}
	tail := string(runes[prefixLen:])

	decodedPrefix, err := decodeCP949(rawPrefix)
	if err != nil {
		return segment, false
	}

	candidate := decodedPrefix + tail
	if CountC1(candidate) < CountC1(segment) && CountReplacement(candidate) <= CountReplacement(segment) {
		return candidate, true
	}
	return segment, false
}

// Repair applies FixMojibake to the whole path, then FixC1Prefix to each
// '/'-separated segment of the result.
func Repair(filename string) string {
	fixed := FixMojibake(filename)
	segments := strings.Split(fixed, "/")
	for i, seg := range segments {
		if repaired, ok := FixC1Prefix(seg); ok {
			segments[i] = repaired
		}
	}
	return strings.Join(segments, "/")
}

// RoundtripOK reports whether decoding s's encoded form under enc yields s
// back exactly. EUCKR is treated as CP949 for this check (§9 design note
// (c)).
func RoundtripOK(s string, enc Encoding) bool {
	effective := enc
	if effective == EUCKR {
		effective = CP949
	}
	b, err := Encode(s, effective)
	if err != nil {
		return false
	}
	back, err := Decode(b, effective)
	if err != nil {
		return false
	}
	return back == s
}

// DetectThreshold is the default fraction of invalid-UTF-8 names above
// which auto-detection switches an archive from UTF8 to CP949
// (configuration key autoDetectThreshold).
const DetectThreshold = 0.01

// Detect inspects raw filename byte slices and chooses between UTF8 and
// CP949 for the whole archive: if more than threshold of the inspected
// names are not valid UTF-8, CP949 is selected. An empty rawNames slice
// reports Unknown (§8 boundary case: an archive with nothing to inspect,
// e.g. every entry is a non-file placeholder).
func Detect(rawNames [][]byte, threshold float64) Encoding {
	if len(rawNames) == 0 {
		return Unknown
	}
	invalid := 0
	for _, name := range rawNames {
		if !IsUTF8(name) {
			invalid++
		}
	}
	if float64(invalid)/float64(len(rawNames)) > threshold {
		return CP949
	}
	return UTF8
}

// DecodeLossy decodes b the same way Decode does, except it never fails:
// undecodable bytes become U+FFFD instead of producing an error. Used when
// indexing a raw table entry, whose name must be represented somehow even
// if it turns out to be corrupt (§3 Entry invariant: "a decoded name
// containing U+FFFD is still indexed but flagged").
func DecodeLossy(b []byte, enc Encoding) string {
	switch enc {
	case CP949, EUCKR:
		if s, err := decodeCP949(b); err == nil {
			return s
		}
		return strings.Repeat(string(utf8.RuneError), 1)
	case Latin1:
		return decodeLatin1(b)
	default: // UTF8 and Unknown both fall back to lossy UTF-8 decoding
		var sb strings.Builder
		sb.Grow(len(b))
		for i := 0; i < len(b); {
			r, size := utf8.DecodeRune(b[i:])
			sb.WriteRune(r)
			i += size
		}
		return sb.String()
	}
}
