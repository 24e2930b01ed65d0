package archive

import (
	"fmt"
	"io"
	"os"
)

// Source is the narrow capability an Archive needs from its underlying byte
// container: positioned reads and a total length. Expressing it this way
// rather than requiring a concrete *os.File lets an Archive be opened over
// an in-memory buffer (tests, or an archive already read into RAM) just as
// easily as a file on disk (§9 design note: "Dynamic dispatch... express it
// as a narrow capability rather than inheritance").
type Source interface {
	io.ReaderAt
	Len() int64
}

// ErrTruncatedRead is returned by Read when the underlying Source has fewer
// bytes available than requested; a short read is always surfaced as an
// error, never silently returned shorter than asked.
var ErrTruncatedRead = fmt.Errorf("archive: truncated read")

// Read performs a positioned read of exactly length bytes at position.
func Read(src Source, position int64, length int) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	if position < 0 || length < 0 || position+int64(length) > src.Len() {
		return nil, fmt.Errorf("archive: read [%d,%d) out of bounds (len=%d): %w",
			position, position+int64(length), src.Len(), ErrTruncatedRead)
	}
	buf := make([]byte, length)
	n, err := src.ReadAt(buf, position)
	if n != length {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("archive: short read at %d (got %d of %d): %w: %w",
			position, n, length, ErrTruncatedRead, err)
	}
	return buf, nil
}

// FileSource is a Source backed by an *os.File opened from disk. One
// FileSource is owned per Archive; reads may be interleaved from multiple
// goroutines since os.File.ReadAt is safe for concurrent use.
type FileSource struct {
	f    *os.File
	size int64
}

// OpenFile opens name and wraps it as a Source.
func OpenFile(name string) (*FileSource, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileSource{f: f, size: fi.Size()}, nil
}

// ReadAt implements io.ReaderAt.
func (s *FileSource) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }

// Len returns the file size in bytes.
func (s *FileSource) Len() int64 { return s.size }

// Close closes the underlying file.
func (s *FileSource) Close() error { return s.f.Close() }

// MemSource is a Source backed by an in-memory byte slice.
type MemSource struct {
	data []byte
}

// NewMemSource wraps b as a Source. b is not copied; callers must not
// mutate it afterwards.
func NewMemSource(b []byte) *MemSource { return &MemSource{data: b} }

// ReadAt implements io.ReaderAt.
func (s *MemSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(s.data)) {
		return 0, fmt.Errorf("archive: offset %d out of range", off)
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Len returns the length of the wrapped slice.
func (s *MemSource) Len() int64 { return int64(len(s.data)) }
