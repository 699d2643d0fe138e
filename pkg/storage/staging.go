package storage

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ChunkSize is the buffer size used when streaming uploads to disk.
const ChunkSize = 64 * 1024

// ErrTooLarge is returned by Stage when the upload exceeds its size limit.
var ErrTooLarge = errors.New("archive too large")

// Stager writes uploaded archives to a per-course scratch directory before they
// are copied into durable storage.
type Stager struct {
	root string
}

// NewStager returns a stager rooted at dir.
func NewStager(dir string) *Stager {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "import_staging")
	}
	return &Stager{root: dir}
}

// Dir returns the staging directory for a course. The course key is base64url
// encoded so it is safe as a single path segment.
func (s *Stager) Dir(courseKey string) string {
	return filepath.Join(s.root, base64.URLEncoding.EncodeToString([]byte(courseKey)))
}

// Stage streams r into {root}/{encoded course}/{filename} in ChunkSize pieces
// and returns the staged path. The directory is created if missing. Writing
// stops with an error once more than maxBytes have been read (0 disables the
// limit). A partially written file is removed on every error.
func (s *Stager) Stage(courseKey, filename string, r io.Reader, maxBytes int64) (string, error) {
	base := filepath.Base(filename)
	if base == "." || base == string(filepath.Separator) {
		return "", fmt.Errorf("invalid staging filename %q", filename)
	}
	dir := s.Dir(courseKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}
	target := filepath.Join(dir, base)
	file, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	written, err := io.CopyBuffer(file, src, make([]byte, ChunkSize))
	closeErr := file.Close()
	switch {
	case err != nil:
		err = fmt.Errorf("write staging file: %w", err)
	case maxBytes > 0 && written > maxBytes:
		err = fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, maxBytes)
	case closeErr != nil:
		err = fmt.Errorf("close staging file: %w", closeErr)
	}
	if err != nil {
		_ = s.Remove(target)
		return "", err
	}
	return target, nil
}

// Remove deletes a staged file and its course directory when it is empty.
func (s *Stager) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove staging file: %w", err)
	}
	_ = os.Remove(filepath.Dir(path))
	return nil
}
