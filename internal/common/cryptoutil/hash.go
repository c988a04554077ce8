// Package cryptoutil computes and verifies artifact checksums
package cryptoutil

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	commonerrors "github.com/deploymenttheory/go-model-retrain/internal/common/errors"
	"golang.org/x/crypto/blake2b"
)

// HashAlgorithm represents supported hash algorithms
type HashAlgorithm string

const (
	SHA256  HashAlgorithm = "sha256"
	SHA512  HashAlgorithm = "sha512"
	BLAKE2B HashAlgorithm = "blake2b"
)

// Hasher hashes files and readers with a single algorithm
type Hasher struct {
	algorithm HashAlgorithm
	newHash   func() (hash.Hash, error)
}

// NewHasher creates a new Hasher for the specified algorithm
func NewHasher(algorithm HashAlgorithm) (*Hasher, error) {
	var newHashFunc func() (hash.Hash, error)

	switch HashAlgorithm(strings.ToLower(string(algorithm))) {
	case SHA256:
		newHashFunc = func() (hash.Hash, error) { return sha256.New(), nil }
	case SHA512:
		newHashFunc = func() (hash.Hash, error) { return sha512.New(), nil }
	case BLAKE2B:
		newHashFunc = func() (hash.Hash, error) { return blake2b.New256(nil) }
	default:
		return nil, fmt.Errorf("%w: unsupported hash algorithm '%s'", commonerrors.ErrInvalidArgument, algorithm)
	}

	return &Hasher{
		algorithm: HashAlgorithm(strings.ToLower(string(algorithm))),
		newHash:   newHashFunc,
	}, nil
}

// Algorithm returns the algorithm this hasher computes
func (h *Hasher) Algorithm() HashAlgorithm {
	return h.algorithm
}

// HashReader hashes data from a reader and returns the hex digest
func (h *Hasher) HashReader(reader io.Reader) (string, error) {
	hasher, err := h.newHash()
	if err != nil {
		return "", fmt.Errorf("%w: %v", commonerrors.ErrInvalidHasher, err)
	}
	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("hash operation failed: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// HashFile hashes the content of a file
func (h *Hasher) HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", commonerrors.ErrFileNotFound, path)
		}
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return h.HashReader(file)
}

// Checksum hashes a file and returns it in "<algorithm>:<hex>" form
func (h *Hasher) Checksum(path string) (string, error) {
	digest, err := h.HashFile(path)
	if err != nil {
		return "", err
	}
	return FormatChecksum(h.algorithm, digest), nil
}

// FormatChecksum joins an algorithm and a hex digest
func FormatChecksum(algorithm HashAlgorithm, digest string) string {
	return string(algorithm) + ":" + digest
}

// ParseChecksum splits a "sha256:1234abcd..." string. A bare digest is
// reported with an empty algorithm.
func ParseChecksum(checksum string) (string, HashAlgorithm) {
	parts := strings.SplitN(checksum, ":", 2)
	if len(parts) == 2 {
		switch algorithm := HashAlgorithm(strings.ToLower(parts[0])); algorithm {
		case SHA256, SHA512, BLAKE2B:
			return parts[1], algorithm
		}
	}
	return checksum, ""
}

// VerifyFileChecksum checks a file against a prefixed checksum. A bare
// digest is assumed to be sha256.
func VerifyFileChecksum(path, checksum string) (bool, error) {
	digest, algorithm := ParseChecksum(checksum)
	if algorithm == "" {
		algorithm = SHA256
	}

	hasher, err := NewHasher(algorithm)
	if err != nil {
		return false, err
	}

	actual, err := hasher.HashFile(path)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(actual, digest), nil
}
