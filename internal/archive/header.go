package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed size of the GRF header, in bytes.
const HeaderSize = 46

const signature = "Master of Magic"

// Version identifies a supported GRF format version.
type Version uint32

const (
	Version200 Version = 0x200
	Version300 Version = 0x300
)

// ErrBadHeader is returned when the signature doesn't match or the header is
// too short to read. A nonzero encryption key is reported as
// ErrUnsupportedEncryption instead (the legacy DES encryption scheme is out
// of scope; §1 Non-goals).
var ErrBadHeader = errors.New("archive: bad header")

// ErrUnsupportedVersion is returned when the header declares a version
// other than 0x200 or 0x300.
var ErrUnsupportedVersion = errors.New("archive: unsupported version")

// header is the parsed 46-byte GRF header.
type header struct {
	tableOffset uint32
	seed        uint32
	nFiles      uint32
	version     Version
}

// effectiveEntryCount is the real number of file entries to expect in the
// table, correcting for the historical off-by-(seed+7) quirk of the
// format.
func (h header) effectiveEntryCount() uint32 {
	n := int64(h.nFiles) - int64(h.seed) - 7
	if n < 0 {
		return 0
	}
	return uint32(n)
}

func parseHeader(buf []byte) (header, error) {
	if len(buf) < HeaderSize {
		return header{}, fmt.Errorf("%w: short header (%d bytes)", ErrBadHeader, len(buf))
	}

	sig := string(trimNUL(buf[0:16]))
	if sig != signature {
		return header{}, fmt.Errorf("%w: signature %q", ErrBadHeader, sig)
	}

	encKey := buf[16:30]
	for _, b := range encKey {
		if b != 0 {
			return header{}, fmt.Errorf("archive: %w: archive-level encryption key set", ErrUnsupportedEncryption)
		}
	}

	h := header{
		tableOffset: binary.LittleEndian.Uint32(buf[30:34]),
		seed:        binary.LittleEndian.Uint32(buf[34:38]),
		nFiles:      binary.LittleEndian.Uint32(buf[38:42]),
		version:     Version(binary.LittleEndian.Uint32(buf[42:46])),
	}

	if h.version != Version200 && h.version != Version300 {
		return header{}, fmt.Errorf("%w: 0x%x", ErrUnsupportedVersion, uint32(h.version))
	}

	return h, nil
}

func trimNUL(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}
