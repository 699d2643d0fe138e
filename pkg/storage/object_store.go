package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrObjectNotFound is returned when a stored object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore persists course archives and export artifacts durably. Save may
// store the object under a different name than requested when the name is
// already taken; the returned path is the one to use afterwards.
type ObjectStore interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Exists(ctx context.Context, name string) (bool, error)
	Delete(ctx context.Context, name string) error
}

// LocalStore keeps objects on disk under a base directory.
type LocalStore struct {
	baseDir string
}

var _ ObjectStore = (*LocalStore)(nil)

// NewLocalStore ensures the base directory exists and returns a handle.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if baseDir == "" {
		baseDir = "./data/storage"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

// Save copies r into a new file, picking a free name when name is taken.
func (s *LocalStore) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	clean, err := cleanName(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(s.resolve(clean)), 0o755); err != nil {
		return "", fmt.Errorf("prepare storage directory: %w", err)
	}

	var file *os.File
	stored := clean
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			stored, err = alternateName(clean)
			if err != nil {
				return "", err
			}
		}
		file, err = os.OpenFile(s.resolve(stored), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) || attempt >= 10 {
			return "", fmt.Errorf("create stored file %s: %w", stored, err)
		}
	}
	defer file.Close() //nolint:errcheck

	if _, err := io.Copy(file, contextReader{ctx: ctx, r: r}); err != nil {
		_ = os.Remove(file.Name())
		return "", fmt.Errorf("write stored file %s: %w", stored, err)
	}
	return stored, nil
}

// Open returns a read handle for the stored object.
func (s *LocalStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	clean, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(s.resolve(clean))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("open %s: %w", clean, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("open stored file %s: %w", clean, err)
	}
	return file, nil
}

// Exists reports whether name is stored.
func (s *LocalStore) Exists(ctx context.Context, name string) (bool, error) {
	clean, err := cleanName(name)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(s.resolve(clean)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat stored file %s: %w", clean, err)
	}
	return true, nil
}

// Delete removes a stored object if present.
func (s *LocalStore) Delete(ctx context.Context, name string) error {
	clean, err := cleanName(name)
	if err != nil {
		return err
	}
	if err := os.Remove(s.resolve(clean)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete stored file %s: %w", clean, err)
	}
	return nil
}

func (s *LocalStore) resolve(name string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(name))
}

// cleanName normalises an object name and rejects names escaping the store.
func cleanName(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("object name required")
	}
	clean := path.Clean("/" + filepath.ToSlash(name))[1:]
	if clean == "" || clean == "." {
		return "", fmt.Errorf("invalid object name %q", name)
	}
	return clean, nil
}

// alternateName inserts a short random suffix before the extension, keeping
// compound extensions such as .tar.gz intact.
func alternateName(name string) (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate object suffix: %w", err)
	}
	dir, base := path.Split(name)
	ext := path.Ext(base)
	if strings.HasSuffix(base, ".tar.gz") {
		ext = ".tar.gz"
	}
	stem := strings.TrimSuffix(base, ext)
	return dir + stem + "_" + hex.EncodeToString(buf)[:7] + ext, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
