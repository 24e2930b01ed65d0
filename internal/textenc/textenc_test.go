package textenc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icza/grf/internal/textenc"
)

// toMojibake reproduces how a real mojibake filename is produced: CP949
// bytes for s get reinterpreted as Latin-1 code points one byte at a time.
func toMojibake(t *testing.T, s string) string {
	t.Helper()
	raw, err := textenc.Encode(s, textenc.CP949)
	require.NoError(t, err)
	decoded, err := textenc.Decode(raw, textenc.Latin1)
	require.NoError(t, err)
	return decoded
}

func TestDecode_UTF8Strict(t *testing.T) {
	t.Parallel()

	s, err := textenc.Decode([]byte("data/foo.txt"), textenc.UTF8)
	require.NoError(t, err)
	assert.Equal(t, "data/foo.txt", s)

	_, err = textenc.Decode([]byte{0xff, 0xfe}, textenc.UTF8)
	assert.ErrorIs(t, err, textenc.ErrInvalidUTF8)
}

func TestDecode_CP949Roundtrip(t *testing.T) {
	t.Parallel()

	const name = "유저인터페이스/t.bmp"
	raw, err := textenc.Encode(name, textenc.CP949)
	require.NoError(t, err)

	decoded, err := textenc.Decode(raw, textenc.CP949)
	require.NoError(t, err)
	assert.Equal(t, name, decoded)
}

func TestIsUTF8(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   []byte
		want bool
	}{
		{"empty", nil, true},
		{"ascii", []byte("hello.txt"), true},
		{"valid utf8", []byte("유저"), true},
		{"invalid bytes", []byte{0xc3, 0x28}, false},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, c.want, textenc.IsUTF8(c.in))
		})
	}
}

func TestCounts(t *testing.T) {
	t.Parallel()

	s := "A한가�"
	assert.Equal(t, 2, textenc.CountC1(s))
	assert.Equal(t, 2, textenc.CountHangul(s))
	assert.Equal(t, 1, textenc.CountReplacement(s))
}

func TestIsMojibake(t *testing.T) {
	t.Parallel()

	assert.False(t, textenc.IsMojibake("유저인터페이스"), "real hangul is not mojibake")
	assert.False(t, textenc.IsMojibake("data/foo.txt"), "plain ascii is not mojibake")

	mojibake := toMojibake(t, "유저인터페이스")
	assert.True(t, textenc.IsMojibake(mojibake))
}

func TestFixMojibake_RoundtripsHangulBearingStrings(t *testing.T) {
	t.Parallel()

	cases := []string{
		"유저인터페이스/t.bmp",
		"데이터\\몬스터.spr",
		"아이템",
	}
	for _, s := range cases {
		s := s
		t.Run(s, func(t *testing.T) {
			t.Parallel()
			mojibake := toMojibake(t, s)
			assert.Equal(t, s, textenc.FixMojibake(mojibake))
		})
	}
}

func TestFixMojibake_LeavesPlainNamesAlone(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "data/foo.txt", textenc.FixMojibake("data/foo.txt"))
}

func TestFixC1Prefix(t *testing.T) {
	t.Parallel()

	// Build a segment whose leading run is C1-corrupted CP949 bytes
	// followed by an already-clean tail. "똠" is outside KS X 1001, so its
	// CP949 lead byte 0x8C reads back as the C1 code point U+008C.
	prefix := toMojibake(t, "똠방")
	segment := prefix + "_icon"

	fixed, ok := textenc.FixC1Prefix(segment)
	require.True(t, ok)
	assert.Equal(t, "똠방_icon", fixed)
	assert.Less(t, textenc.CountC1(fixed), textenc.CountC1(segment))
}

func TestFixC1Prefix_RejectsNonImprovingRepair(t *testing.T) {
	t.Parallel()

	// A segment with no leading byte-range run at all cannot be repaired.
	fixed, ok := textenc.FixC1Prefix("유저인터페이스")
	assert.False(t, ok)
	assert.Equal(t, "유저인터페이스", fixed)
}

func TestRepair(t *testing.T) {
	t.Parallel()

	whole := toMojibake(t, "유저인터페이스") + "/" + toMojibake(t, "몬스터") + "_icon"
	repaired := textenc.Repair(whole)
	assert.Equal(t, "유저인터페이스/몬스터_icon", repaired)
}

func TestRoundtripOK(t *testing.T) {
	t.Parallel()

	assert.True(t, textenc.RoundtripOK("data/foo.txt", textenc.UTF8))
	assert.True(t, textenc.RoundtripOK("유저인터페이스", textenc.CP949))
	assert.True(t, textenc.RoundtripOK("유저인터페이스", textenc.EUCKR))
	assert.False(t, textenc.RoundtripOK("유저인터페이스", textenc.Latin1))
}

func TestDetect(t *testing.T) {
	t.Parallel()

	utf8Names := [][]byte{[]byte("data/foo.txt"), []byte("data/bar.txt")}
	assert.Equal(t, textenc.UTF8, textenc.Detect(utf8Names, textenc.DetectThreshold))

	cp949Raw, err := textenc.Encode("유저인터페이스/t.bmp", textenc.CP949)
	require.NoError(t, err)
	mixed := [][]byte{[]byte("data/foo.txt"), cp949Raw}
	assert.Equal(t, textenc.CP949, textenc.Detect(mixed, textenc.DetectThreshold))

	assert.Equal(t, textenc.Unknown, textenc.Detect(nil, textenc.DetectThreshold))
}
