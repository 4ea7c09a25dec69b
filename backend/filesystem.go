package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const tempPrefix = ".tmp-"

// Filesystem implements Backend on a local directory.
// Writes are atomic using a temp file and rename pattern.
type Filesystem struct {
	root string
}

// NewFilesystem creates a filesystem backend rooted at root, creating the
// directory if needed.
func NewFilesystem(root string) (*Filesystem, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root path: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}
	return &Filesystem{root: absRoot}, nil
}

// Root returns the root directory path.
func (fsb *Filesystem) Root() string {
	return fsb.root
}

// Write stores data at key using an atomic write.
func (fsb *Filesystem) Write(ctx context.Context, key string, r io.Reader) (int64, error) {
	dst, err := fsb.keyToPath(key)
	if err != nil {
		return 0, err
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, contextReader{ctx: ctx, r: r})
	if err != nil {
		return 0, fmt.Errorf("writing data: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("syncing file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return 0, fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return n, nil
}

// Read opens the file at key.
func (fsb *Filesystem) Read(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := fsb.keyToPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening file: %w", err)
	}
	return f, nil
}

// Delete removes the file at key along with any directories it leaves empty.
func (fsb *Filesystem) Delete(_ context.Context, key string) error {
	p, err := fsb.keyToPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing file: %w", err)
	}
	fsb.pruneEmptyDirs(filepath.Dir(p))
	return nil
}

// Stat describes the file at key.
func (fsb *Filesystem) Stat(_ context.Context, key string) (Info, error) {
	p, err := fsb.keyToPath(key)
	if err != nil {
		return Info{}, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, ErrNotFound
		}
		return Info{}, fmt.Errorf("stat file: %w", err)
	}
	if fi.IsDir() {
		return Info{}, ErrNotFound
	}
	return Info{Key: key, Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

// List describes every file under prefix. In-progress writes are skipped.
func (fsb *Filesystem) List(_ context.Context, prefix string) ([]Info, error) {
	return fsb.walk(prefix, false)
}

// ListIncomplete describes the temp files of writes under prefix that have
// not been renamed into place, including ones abandoned by a crash.
func (fsb *Filesystem) ListIncomplete(_ context.Context, prefix string) ([]Info, error) {
	return fsb.walk(prefix, true)
}

// walk lists completed files, or temp files when temp is set.
func (fsb *Filesystem) walk(prefix string, temp bool) ([]Info, error) {
	dir, err := fsb.keyToPath(prefix)
	if err != nil {
		return nil, err
	}

	fi, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat path: %w", err)
	}
	if !fi.IsDir() {
		if temp != strings.HasPrefix(fi.Name(), tempPrefix) {
			return nil, nil
		}
		return []Info{{Key: prefix, Size: fi.Size(), ModTime: fi.ModTime()}}, nil
	}

	var infos []Info
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || temp != strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(fsb.root, p)
		if err != nil {
			return err
		}
		infos = append(infos, Info{Key: filepath.ToSlash(rel), Size: fi.Size(), ModTime: fi.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}
	return infos, nil
}

// keyToPath converts a key to a filesystem path under root.
func (fsb *Filesystem) keyToPath(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := path.Clean(key)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(fsb.root, filepath.FromSlash(clean)), nil
}

// pruneEmptyDirs removes dir and its parents up to root while they are empty.
func (fsb *Filesystem) pruneEmptyDirs(dir string) {
	for dir != fsb.root && strings.HasPrefix(dir, fsb.root+string(filepath.Separator)) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// contextReader stops a copy when ctx is cancelled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

var _ Backend = (*Filesystem)(nil)
