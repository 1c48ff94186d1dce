package relation

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// OpenReader opens a read-only handle on one relation file.
type OpenReader func(path string) (*sql.DB, error)

// Directory keeps every relation in its own database file and hands out one
// read-only handle per relation, so a query can never name another session's
// table. Files left by an earlier process are removed when it opens.
type Directory struct {
	dir   string
	ext   string
	owned bool
	open  OpenReader

	mu      sync.Mutex
	readers map[string]*sql.DB
}

// OpenDirectory prepares dir for relation files ending in ext. An empty dir
// uses a private temporary directory that Close removes.
func OpenDirectory(dir, ext string, open OpenReader) (*Directory, error) {
	d := &Directory{ext: ext, open: open, readers: map[string]*sql.DB{}}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		tmp, err := os.MkdirTemp("", "sheetquery-relations-")
		if err != nil {
			return nil, fmt.Errorf("create relation dir: %w", err)
		}
		d.dir = tmp
		d.owned = true
		return d, nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create relation dir %q: %w", dir, err)
	}
	d.dir = dir
	if err := d.sweep(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Directory) Dir() string {
	return d.dir
}

// sweep removes relation files no live session can own.
func (d *Directory) sweep() error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return fmt.Errorf("read relation dir %q: %w", d.dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !d.isRelationFile(entry.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(d.dir, entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale relation file %q: %w", entry.Name(), err)
		}
	}
	return nil
}

// isRelationFile matches <name><ext> and the journal, WAL and staging files
// an engine writes next to it.
func (d *Directory) isRelationFile(base string) bool {
	idx := strings.Index(base, d.ext)
	if idx <= 0 {
		return false
	}
	return ValidateName(base[:idx]) == nil
}

func (d *Directory) path(name string) string {
	return filepath.Join(d.dir, name+d.ext)
}

// StagingPath returns a fresh path the engine can build a replacement
// relation file at before Publish swaps it in.
func (d *Directory) StagingPath(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	file, err := os.CreateTemp(d.dir, name+d.ext+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create staging file for %s: %w", name, err)
	}
	path := file.Name()
	_ = file.Close()
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("reset staging file for %s: %w", name, err)
	}
	return path, nil
}

// Discard removes a staging file and anything the engine wrote beside it.
func (d *Directory) Discard(staging string) {
	matches, _ := filepath.Glob(staging + "*")
	for _, match := range matches {
		_ = os.Remove(match)
	}
}

// Publish moves staging into place as relation name and swaps its reader.
func (d *Directory) Publish(name, staging string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.readers[name]; ok {
		_ = old.Close()
		delete(d.readers, name)
	}
	if err := os.Rename(staging, d.path(name)); err != nil {
		d.Discard(staging)
		return fmt.Errorf("publish relation %s: %w", name, err)
	}
	d.Discard(staging)

	reader, err := d.open(d.path(name))
	if err != nil {
		_ = os.Remove(d.path(name))
		return fmt.Errorf("open relation %s: %w", name, err)
	}
	d.readers[name] = reader
	return nil
}

// Reader returns the read-only handle of relation name.
func (d *Directory) Reader(name string) (*sql.DB, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	reader, ok := d.readers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	return reader, nil
}

// Remove closes the reader of relation name and deletes its files.
func (d *Directory) Remove(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removeLocked(name)
}

func (d *Directory) removeLocked(name string) error {
	var closeErr error
	if reader, ok := d.readers[name]; ok {
		closeErr = reader.Close()
		delete(d.readers, name)
	}
	matches, err := filepath.Glob(filepath.Join(d.dir, name+d.ext+"*"))
	if err != nil {
		return err
	}
	for _, match := range matches {
		if err := os.Remove(match); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove relation file %q: %w", match, err)
		}
	}
	return closeErr
}

// Check reports whether the directory is still usable.
func (d *Directory) Check() error {
	info, err := os.Stat(d.dir)
	if err != nil {
		return fmt.Errorf("relation dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("relation dir %q is not a directory", d.dir)
	}
	return nil
}

// Close releases every relation and deletes its files.
func (d *Directory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for name := range d.readers {
		errs = append(errs, d.removeLocked(name))
	}
	if d.owned {
		errs = append(errs, os.RemoveAll(d.dir))
	}
	return errors.Join(errs...)
}
