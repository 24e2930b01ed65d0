package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// MaxUncompressedSize is the hard ceiling on the uncompressed size Inflate
// will ever produce. Archives that declare a larger size are rejected
// outright, before any decompression work happens, as a guard against a
// corrupt or hostile size field driving an unbounded allocation.
const MaxUncompressedSize = 512 * 1024 * 1024 // 512 MiB

// InflateError wraps any zlib failure or size mismatch encountered while
// inflating a table or entry body.
type InflateError struct {
	Err error
}

func (e *InflateError) Error() string { return fmt.Sprintf("archive: inflate: %v", e.Err) }
func (e *InflateError) Unwrap() error { return e.Err }

// ErrSizeCeiling is wrapped into an InflateError when the caller-declared
// uncompressed size exceeds MaxUncompressedSize.
var ErrSizeCeiling = errors.New("uncompressed size exceeds 512 MiB ceiling")

// Inflate decodes a zlib-wrapped DEFLATE stream to exactly expectedSize
// bytes. Any zlib error, size-ceiling violation, or short/long result is
// reported as an *InflateError.
func Inflate(compressed []byte, expectedSize uint32) ([]byte, error) {
	if expectedSize > MaxUncompressedSize {
		return nil, &InflateError{Err: fmt.Errorf("%w: declared %d bytes", ErrSizeCeiling, expectedSize)}
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, &InflateError{Err: err}
	}
	defer zr.Close()

	out := make([]byte, expectedSize)
	n, err := io.ReadFull(zr, out)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, &InflateError{Err: fmt.Errorf("read %d of %d expected bytes: %w", n, expectedSize, err)}
	}
	if uint32(n) != expectedSize {
		return nil, &InflateError{Err: fmt.Errorf("decoded %d bytes, expected exactly %d", n, expectedSize)}
	}

	// Confirm the stream doesn't have more data than declared; a single
	// extra byte indicates the declared size was wrong.
	var extra [1]byte
	if m, _ := zr.Read(extra[:]); m > 0 {
		return nil, &InflateError{Err: fmt.Errorf("decoded data exceeds declared size %d", expectedSize)}
	}

	return out, nil
}
