package scan

import (
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
)

// Mapped is a read-only memory map of a log file, for offline inspection.
type Mapped struct {
	f *os.File
	m mmap.MMap
}

func OpenMapped(path string) (*Mapped, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Mapped{f: f, m: m}, nil
}

func (mf *Mapped) Size() int64 {
	return int64(len(mf.m))
}

func (mf *Mapped) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(mf.m)) {
		return 0, io.EOF
	}
	n := copy(p, mf.m[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (mf *Mapped) Close() error {
	err := mf.m.Unmap()
	if cerr := mf.f.Close(); err == nil {
		err = cerr
	}
	return err
}
