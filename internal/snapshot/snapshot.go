package snapshot

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// StampLayout is the archive directory timestamp format.
const StampLayout = "20060102-150405"

type Generation int

const (
	// Mirror is the always-latest single copy of a file.
	Mirror Generation = iota
	// Archive is a historical copy kept under the retention windows.
	Archive
)

func (g Generation) String() string {
	if g == Mirror {
		return "mirror"
	}
	return "archive"
}

// Entry is one immutable file version, keyed by (RelPath, Timestamp).
type Entry struct {
	RelPath    string
	Timestamp  time.Time
	Size       int64
	Generation Generation
	Path       string
}

// Store reads and maintains the on-disk snapshot layout for one project:
//
//	<root>/current/<rel>            mirror generation
//	<root>/archive/<stamp>/<rel>    archived versions
//
// The execution pipeline writes this layout; the store only reads and,
// on an explicit apply, deletes.
type Store struct {
	root string
}

func NewStore(backupRoot, project string) *Store {
	return &Store{root: filepath.Join(backupRoot, project)}
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) archiveDir() string {
	return filepath.Join(s.root, "archive")
}

func (s *Store) mirrorDir() string {
	return filepath.Join(s.root, "current")
}

// ScanArchive lists every archived entry across all stamps.
func (s *Store) ScanArchive() ([]Entry, error) {
	dir := s.archiveDir()
	stamps, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read archive dir: %w", err)
	}

	var entries []Entry
	for _, stamp := range stamps {
		if !stamp.IsDir() {
			continue
		}

		ts, err := time.ParseInLocation(StampLayout, stamp.Name(), time.Local)
		if err != nil {
			continue
		}

		stampDir := filepath.Join(dir, stamp.Name())
		err = filepath.WalkDir(stampDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}

			info, err := d.Info()
			if err != nil {
				return err
			}

			rel, err := filepath.Rel(stampDir, path)
			if err != nil {
				return err
			}

			entries = append(entries, Entry{
				RelPath:    filepath.ToSlash(rel),
				Timestamp:  ts,
				Size:       info.Size(),
				Generation: Archive,
				Path:       path,
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", stampDir, err)
		}
	}

	return entries, nil
}

// ScanPath returns the mirror copy (if present) and all archived versions of
// one relative path.
func (s *Store) ScanPath(rel string) (*Entry, []Entry, error) {
	rel = filepath.ToSlash(rel)

	var mirror *Entry
	mirrorPath := filepath.Join(s.mirrorDir(), filepath.FromSlash(rel))
	if info, err := os.Stat(mirrorPath); err == nil && !info.IsDir() {
		mirror = &Entry{
			RelPath:    rel,
			Timestamp:  info.ModTime(),
			Size:       info.Size(),
			Generation: Mirror,
			Path:       mirrorPath,
		}
	}

	all, err := s.ScanArchive()
	if err != nil {
		return mirror, nil, err
	}

	var versions []Entry
	for _, e := range all {
		if e.RelPath == rel {
			versions = append(versions, e)
		}
	}

	return mirror, versions, nil
}

// CountMirrorFiles returns the number of files in the current mirror.
func (s *Store) CountMirrorFiles() (int, error) {
	count := 0
	err := filepath.WalkDir(s.mirrorDir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Apply deletes the given archived entries and prunes any stamp directories
// left empty. Mirror entries are never deleted.
func (s *Store) Apply(deletes []Entry) (int, error) {
	removed := 0
	for _, e := range deletes {
		if e.Generation != Archive {
			continue
		}

		if err := os.Remove(e.Path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, fmt.Errorf("failed to delete %s: %w", e.Path, err)
		}
		removed++
	}

	s.pruneEmptyStamps()
	return removed, nil
}

func (s *Store) pruneEmptyStamps() {
	stamps, err := os.ReadDir(s.archiveDir())
	if err != nil {
		return
	}

	for _, stamp := range stamps {
		if !stamp.IsDir() {
			continue
		}
		// Remove succeeds only on empty directory trees.
		removeEmptyTree(filepath.Join(s.archiveDir(), stamp.Name()))
	}
}

func removeEmptyTree(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}

	empty := true
	for _, e := range entries {
		if e.IsDir() && removeEmptyTree(filepath.Join(dir, e.Name())) {
			continue
		}
		empty = false
	}

	if empty {
		return os.Remove(dir) == nil
	}
	return false
}
