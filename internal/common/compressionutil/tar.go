package compression

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	errors "github.com/deploymenttheory/go-model-retrain/internal/common/errors"
)

// PackDir writes every regular file under src into a compressed tar archive at dst.
// Entry names are relative to src and use forward slashes.
func PackDir(src, dst string, format Format) (err error) {
	outFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := outFile.Close(); err == nil {
			err = closeErr
		}
	}()

	cw, err := NewWriter(format, outFile)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(cw)

	walkErr := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		relPath, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(relPath)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		_, err = io.Copy(tw, file)
		return err
	})
	if walkErr != nil {
		return fmt.Errorf("failed to pack %s: %w", src, walkErr)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("failed to finish %s stream: %w", format, err)
	}
	return nil
}

// ReadEntry returns the contents of a single named entry inside an archive
func ReadEntry(archive string, format Format, name string) ([]byte, error) {
	file, err := os.Open(archive)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", errors.ErrFileNotFound, archive)
		}
		return nil, err
	}
	defer file.Close()

	cr, err := NewReader(format, file)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidArchive, err)
	}
	defer cr.Close()

	tr := tar.NewReader(cr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrInvalidArchive, err)
		}
		if hdr.Name != name {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrInvalidArchive, err)
		}
		return data, nil
	}

	return nil, fmt.Errorf("%w: %s not found in %s", errors.ErrInvalidArchive, name, archive)
}
