// Package compression packs model artifacts into compressed tar archives.
package compression

import (
	"fmt"
	"io"
	"strings"

	errors "github.com/deploymenttheory/go-model-retrain/internal/common/errors"
)

// Format identifies the compression applied on top of the tar stream
type Format string

const (
	FormatGZIP  Format = "gzip"
	FormatBZIP2 Format = "bzip2"
	FormatXZ    Format = "xz"
)

// ParseFormat validates a configured format name
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(name))) {
	case FormatGZIP:
		return FormatGZIP, nil
	case FormatBZIP2:
		return FormatBZIP2, nil
	case FormatXZ:
		return FormatXZ, nil
	default:
		return "", fmt.Errorf("%w: %q", errors.ErrUnsupportedCompression, name)
	}
}

// Extension returns the file suffix used for archives of this format
func (f Format) Extension() string {
	switch f {
	case FormatGZIP:
		return ".tar.gz"
	case FormatBZIP2:
		return ".tar.bz2"
	case FormatXZ:
		return ".tar.xz"
	default:
		return ".tar"
	}
}

// NewWriter wraps w with a compressor for the given format
func NewWriter(format Format, w io.Writer) (io.WriteCloser, error) {
	switch format {
	case FormatGZIP:
		return newGZIPWriter(w)
	case FormatBZIP2:
		return newBZIP2Writer(w)
	case FormatXZ:
		return newXZWriter(w)
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnsupportedCompression, format)
	}
}

// NewReader wraps r with a decompressor for the given format
func NewReader(format Format, r io.Reader) (io.ReadCloser, error) {
	switch format {
	case FormatGZIP:
		return newGZIPReader(r)
	case FormatBZIP2:
		return newBZIP2Reader(r)
	case FormatXZ:
		return newXZReader(r)
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnsupportedCompression, format)
	}
}
