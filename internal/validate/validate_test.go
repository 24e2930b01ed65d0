package validate_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icza/grf/internal/archive"
	"github.com/icza/grf/internal/textenc"
	"github.com/icza/grf/internal/validate"
)

type fakeArchiveSource struct {
	path    string
	enc     textenc.Encoding
	entries []archive.Entry
}

func (f fakeArchiveSource) Path() string               { return f.path }
func (f fakeArchiveSource) Encoding() textenc.Encoding  { return f.enc }
func (f fakeArchiveSource) IterEntries(fn func(archive.Entry)) {
	for _, e := range f.entries {
		fn(e)
	}
}

func toMojibake(t *testing.T, s string) string {
	t.Helper()
	raw, err := textenc.Encode(s, textenc.CP949)
	require.NoError(t, err)
	decoded, err := textenc.Decode(raw, textenc.Latin1)
	require.NoError(t, err)
	return decoded
}

func TestValidate_CleanArchiveIsHealthy(t *testing.T) {
	t.Parallel()

	src := fakeArchiveSource{
		path: "clean.grf",
		enc:  textenc.UTF8,
		entries: []archive.Entry{
			{RawName: []byte("data/foo.txt"), Name: "data/foo.txt", Flags: 0x01},
			{RawName: []byte("data/bar.txt"), Name: "data/bar.txt", Flags: 0x01},
		},
	}

	report := validate.Validate([]validate.ArchiveResult{{Path: src.path, Archive: src}})

	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 0, report.BadUFFFD)
	assert.Equal(t, 0, report.RoundtripFinalFail)
	assert.Equal(t, 1.0, report.Health())
	assert.Equal(t, 0, report.ExitCode())
}

func TestValidate_MojibakeNameIsRepairable(t *testing.T) {
	t.Parallel()

	name := toMojibake(t, "유저인터페이스/t.bmp")
	src := fakeArchiveSource{
		path: "ui.grf",
		enc:  textenc.CP949,
		entries: []archive.Entry{
			{RawName: []byte(name), Name: name, Flags: 0x01},
		},
	}

	report := validate.Validate([]validate.ArchiveResult{{Path: src.path, Archive: src}})

	require.Len(t, report.Entries, 1)
	c := report.Entries[0]
	assert.True(t, c.Mojibake)
	assert.True(t, c.RoundtripRawFail)
	assert.True(t, c.RoundtripRepairable)
	assert.Equal(t, "유저인터페이스/t.bmp", c.RepairedName)
	assert.Equal(t, 1, report.ExitCode(), "repairable-only report is warnings, not failure")

	generatedAt := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	rm := report.BuildRepairMap(generatedAt)
	assert.Equal(t, generatedAt, rm.GeneratedAt)
	require.Len(t, rm.GRFs, 1)
	assert.Equal(t, "ui.grf", rm.GRFs[0].File)
	assert.Equal(t, 1, rm.GRFs[0].TotalFiles)
	assert.Equal(t, 1, rm.GRFs[0].Mapped)
	assert.Equal(t, 1, rm.GRFs[0].Mojibake)
	assert.Equal(t, "cp949", rm.GRFs[0].DetectedEncoding)
	assert.Equal(t, "유저인터페이스/t.bmp", rm.Paths[name])
	assert.Equal(t, 1, rm.Summary.TotalMapped)
	assert.Equal(t, 1, rm.Summary.MojibakeFixed)
}

func TestValidate_BadUFFFDName(t *testing.T) {
	t.Parallel()

	src := fakeArchiveSource{
		path: "broken.grf",
		enc:  textenc.UTF8,
		entries: []archive.Entry{
			{RawName: []byte{0xff}, Name: "�", Flags: 0x01},
		},
	}

	report := validate.Validate([]validate.ArchiveResult{{Path: src.path, Archive: src}})

	assert.Equal(t, 1, report.BadUFFFD)
	assert.Less(t, report.Health(), 1.0)
	assert.Equal(t, 1, report.ExitCode())
}

func TestValidate_LoadFailureForcesExitCode2(t *testing.T) {
	t.Parallel()

	report := validate.Validate([]validate.ArchiveResult{
		{Path: "missing.grf", Err: errors.New("no such file")},
	})

	assert.Len(t, report.LoadFailures, 1)
	assert.Equal(t, 2, report.ExitCode())
}

func TestValidate_NonAddressableEntriesStillCounted(t *testing.T) {
	t.Parallel()

	src := fakeArchiveSource{
		path: "dirs.grf",
		enc:  textenc.UTF8,
		entries: []archive.Entry{
			{RawName: []byte("data"), Name: "data", Flags: 0}, // directory placeholder
		},
	}
	report := validate.Validate([]validate.ArchiveResult{{Path: src.path, Archive: src}})
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 0, report.ExitCode())
}
