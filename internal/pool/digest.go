package pool

import (
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"

	hperrors "hotpool/internal/errors"
)

// Digest is a cheap content fingerprint. It detects byte-level change only.
// The zero value is the unreadable sentinel and never equals anything,
// itself included.
type Digest struct {
	sum   uint64
	valid bool
}

// Unreadable is returned when a source could not be read.
var Unreadable = Digest{}

// Sum fingerprints data.
func Sum(data []byte) Digest {
	return Digest{sum: xxhash.Sum64(data), valid: true}
}

// Valid reports whether d came from a successful read.
func (d Digest) Valid() bool { return d.valid }

// Equal reports whether both digests were computed and match.
func (d Digest) Equal(other Digest) bool {
	return d.valid && other.valid && d.sum == other.sum
}

func (d Digest) String() string {
	if !d.valid {
		return "unreadable"
	}
	return fmt.Sprintf("%016x", d.sum)
}

// Fingerprinter digests task sources.
type Fingerprinter struct {
	fs     afero.Fs
	layout Layout
}

// NewFingerprinter creates a fingerprinter over fs.
func NewFingerprinter(fs afero.Fs, layout Layout) *Fingerprinter {
	return &Fingerprinter{fs: fs, layout: layout.WithDefaults()}
}

// Digest hashes the full source of id. On failure it returns Unreadable and
// an error of kind DigestUnreadable.
func (f *Fingerprinter) Digest(id string) (Digest, error) {
	path := f.layout.Path(id)
	file, err := f.fs.Open(path)
	if err != nil {
		return Unreadable, hperrors.NewPathError(hperrors.DigestUnreadable, path, err)
	}
	defer file.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, file); err != nil {
		return Unreadable, hperrors.NewPathError(hperrors.DigestUnreadable, path, err)
	}
	return Digest{sum: h.Sum64(), valid: true}, nil
}
