package pool

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hperrors "hotpool/internal/errors"
)

func TestDigestDetectsByteChange(t *testing.T) {
	fs := afero.NewMemMapFs()
	fp := NewFingerprinter(fs, Layout{Dir: "/pool"})

	writeFile(t, fs, "/pool/a.task", "message: X")
	first, err := fp.Digest("a")
	require.NoError(t, err)
	again, err := fp.Digest("a")
	require.NoError(t, err)
	assert.True(t, first.Equal(again), "unchanged bytes give equal digests")

	writeFile(t, fs, "/pool/a.task", "message: Y")
	changed, err := fp.Digest("a")
	require.NoError(t, err)
	assert.False(t, first.Equal(changed))
	assert.Equal(t, Sum([]byte("message: Y")), changed)
}

func TestDigestIsNameIndependent(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/pool/a.task", "same")
	writeFile(t, fs, "/pool/b.task", "same")
	fp := NewFingerprinter(fs, Layout{Dir: "/pool"})

	a, err := fp.Digest("a")
	require.NoError(t, err)
	b, err := fp.Digest("b")
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
}

func TestDigestUnreadableSentinel(t *testing.T) {
	fp := NewFingerprinter(afero.NewMemMapFs(), Layout{Dir: "/pool"})

	d, err := fp.Digest("gone")
	require.Error(t, err)
	assert.Equal(t, hperrors.DigestUnreadable, hperrors.KindOf(err))
	assert.False(t, d.Valid())
	assert.Equal(t, "unreadable", d.String())

	assert.False(t, d.Equal(Unreadable), "sentinel never equals, even itself")
	assert.False(t, d.Equal(Sum(nil)))
	assert.False(t, Sum(nil).Equal(d))
}

func TestDigestString(t *testing.T) {
	d := Sum([]byte("abc"))
	assert.Len(t, d.String(), 16)
	assert.True(t, d.Valid())
}
