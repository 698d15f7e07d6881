package disk

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"
)

var _ File = (*unixFile)(nil)
var _ FS = (*unixFS)(nil)

type unixFile struct {
	fd   int
	name string
}

func (f *unixFile) Name() string {
	return f.name
}

func (f *unixFile) ReadAt(p []byte, off int64) (int, error) {
	var n = 0
	for n < len(p) {
		m, err := unix.Pread(f.fd, p[n:], off+int64(n))
		if err != nil {
			return n, fmt.Errorf("read %s at %d: %w", f.name, off, err)
		}
		if m == 0 {
			return n, io.EOF
		}
		n += m
	}
	return n, nil
}

func (f *unixFile) WriteAt(p []byte, off int64) (int, error) {
	var n = 0
	for n < len(p) {
		m, err := unix.Pwrite(f.fd, p[n:], off+int64(n))
		if err != nil {
			return n, fmt.Errorf("write %s at %d: %w", f.name, off, err)
		}
		n += m
	}
	return n, nil
}

func (f *unixFile) Truncate(size int64) error {
	if err := unix.Ftruncate(f.fd, size); err != nil {
		return fmt.Errorf("truncate %s: %w", f.name, err)
	}
	return nil
}

func (f *unixFile) Sync() error {
	// NOTE: on macOS, this flushes to the drive but doesn't actually issue a
	// disk barrier; F_FULLFSYNC is needed for that.
	if err := unix.Fsync(f.fd); err != nil {
		return fmt.Errorf("fsync %s: %w", f.name, err)
	}
	return nil
}

func (f *unixFile) Size() (int64, error) {
	var stat unix.Stat_t
	if err := unix.Fstat(f.fd, &stat); err != nil {
		return 0, fmt.Errorf("stat %s: %w", f.name, err)
	}
	return stat.Size, nil
}

func (f *unixFile) Close() error {
	return unix.Close(f.fd)
}

type unixFS struct {
	dir   string
	dirfd int
}

// NewUnixFS opens (creating if needed) the log directory dir.
func NewUnixFS(dir string) (FS, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	fd, err := unix.Open(dir, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return nil, fmt.Errorf("open directory %s: %w", dir, err)
	}
	return &unixFS{dir: dir, dirfd: fd}, nil
}

func (fs *unixFS) path(name string) string {
	return filepath.Join(fs.dir, name)
}

func (fs *unixFS) open(name string, flags int) (File, error) {
	fd, err := unix.Open(fs.path(name), flags, 0644)
	if err == unix.ENOENT {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return &unixFile{fd: fd, name: name}, nil
}

func (fs *unixFS) Create(name string) (File, error) {
	return fs.open(name, unix.O_RDWR|unix.O_CREAT|unix.O_TRUNC)
}

func (fs *unixFS) Open(name string) (File, error) {
	return fs.open(name, unix.O_RDWR)
}

func (fs *unixFS) Rename(from, to string) error {
	if err := unix.Rename(fs.path(from), fs.path(to)); err != nil {
		return fmt.Errorf("rename %s to %s: %w", from, to, err)
	}
	return nil
}

func (fs *unixFS) Remove(name string) error {
	err := unix.Unlink(fs.path(name))
	if err == unix.ENOENT {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return err
}

func (fs *unixFS) List(prefix string) ([]string, error) {
	ents, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range ents {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (fs *unixFS) SyncDir() error {
	if err := unix.Fsync(fs.dirfd); err != nil {
		return fmt.Errorf("fsync directory %s: %w", fs.dir, err)
	}
	return nil
}

func (fs *unixFS) Close() error {
	return unix.Close(fs.dirfd)
}
