package cryptoutil

import (
	"os"
	"path/filepath"
	"testing"

	commonerrors "github.com/deploymenttheory/go-model-retrain/internal/common/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.bin")
	require.NoError(t, os.WriteFile(path, []byte("weights"), 0644))

	for _, algorithm := range []HashAlgorithm{SHA256, SHA512, BLAKE2B} {
		t.Run(string(algorithm), func(t *testing.T) {
			hasher, err := NewHasher(algorithm)
			require.NoError(t, err)

			checksum, err := hasher.Checksum(path)
			require.NoError(t, err)

			_, parsed := ParseChecksum(checksum)
			assert.Equal(t, algorithm, parsed)

			ok, err := VerifyFileChecksum(path, checksum)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestVerifyFileChecksumDetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.bin")
	require.NoError(t, os.WriteFile(path, []byte("weights"), 0644))

	hasher, err := NewHasher(SHA256)
	require.NoError(t, err)
	checksum, err := hasher.Checksum(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0644))
	ok, err := VerifyFileChecksum(path, checksum)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKnownSHA256Digest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	ok, err := VerifyFileChecksum(path, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewHasherErrors(t *testing.T) {
	_, err := NewHasher("md4")
	assert.ErrorIs(t, err, commonerrors.ErrInvalidArgument)

	hasher, err := NewHasher(SHA256)
	require.NoError(t, err)
	_, err = hasher.HashFile(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, commonerrors.ErrFileNotFound)
}
