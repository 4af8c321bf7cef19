package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ferrite-media/ferrite/internal/mediafile"
)

// FileEntry is one candidate media file found by the walker.
type FileEntry struct {
	Path string
	Size int64
}

// Walk enumerates a root recursively, yielding files whose extension matches
// the media class for the library kind. Hidden directories and sample files
// are skipped. Unreadable subtrees are skipped, not fatal.
func Walk(root, kind string) ([]FileEntry, error) {
	var out []FileEntry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || isSampleFile(name) {
			return nil
		}
		if !mediafile.MatchesKind(path, kind) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		out = append(out, FileEntry{Path: path, Size: info.Size()})
		return nil
	})
	return out, err
}

// statFile returns the size of a regular file, or an error for directories
// and vanished paths.
func statFile(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if fi.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return fi.Size(), nil
}

func isSampleFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasPrefix(lower, "sample") || strings.Contains(lower, ".sample.")
}
