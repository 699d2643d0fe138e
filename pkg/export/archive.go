// Package export builds and checks OLX course archives.
package export

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

const (
	// ArchiveRoot is the top level directory of exported archives.
	ArchiveRoot = "course"
	// CourseXML is the entry point of an OLX course.
	CourseXML = "course.xml"
)

// ErrInvalidArchive reports an archive that cannot be imported.
var ErrInvalidArchive = errors.New("invalid course archive")

// Manifest summarises a verified archive.
type Manifest struct {
	Root    string
	Entries int
	Bytes   int64
}

// Verify reads a gzipped tarball and checks that it contains a course.xml at
// its root or one directory below, and that no entry escapes the archive.
func Verify(r io.Reader) (Manifest, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer gz.Close() //nolint:errcheck

	var manifest Manifest
	found := false
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
		}
		name := path.Clean(strings.TrimPrefix(hdr.Name, "./"))
		if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
			return Manifest{}, fmt.Errorf("%w: entry %q escapes archive", ErrInvalidArchive, hdr.Name)
		}
		if hdr.Typeflag == tar.TypeSymlink || hdr.Typeflag == tar.TypeLink {
			return Manifest{}, fmt.Errorf("%w: link entry %q", ErrInvalidArchive, hdr.Name)
		}
		n, err := io.Copy(io.Discard, tr)
		if err != nil {
			return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
		}
		manifest.Entries++
		manifest.Bytes += n

		if found || path.Base(name) != CourseXML {
			continue
		}
		switch dir := path.Dir(name); {
		case dir == ".":
			manifest.Root, found = ".", true
		case !strings.Contains(dir, "/"):
			manifest.Root, found = dir, true
		}
	}
	if !found {
		return Manifest{}, fmt.Errorf("%w: %s not found", ErrInvalidArchive, CourseXML)
	}
	return manifest, nil
}
