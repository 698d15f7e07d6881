package disk

import (
	"io"
	"sort"
	"strings"
	"sync"

	gdisk "github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-slotlog/util"
)

// memData is the storage of one in-memory file: a goose block disk large
// enough for the file's capacity plus the file's logical size.
type memData struct {
	mu   *sync.Mutex
	d    gdisk.Disk
	cap  int64
	size int64
}

func mkMemData(capacity int64) *memData {
	nblocks := util.RoundUp(uint64(capacity), gdisk.BlockSize)
	return &memData{
		mu:  new(sync.Mutex),
		d:   gdisk.NewMemDisk(nblocks),
		cap: int64(nblocks * gdisk.BlockSize),
	}
}

// blocks applies f to the bytes [off, off+n) block by block, writing each
// block back if dirty.
//
// Assumes caller holds data.mu
func (data *memData) blocks(off int64, n int64, dirty bool, f func(blk []byte, pos int64)) {
	bs := int64(gdisk.BlockSize)
	for pos := off; pos < off+n; {
		a := uint64(pos / bs)
		blk := data.d.Read(a)
		start := pos % bs
		end := util.MinInt64(bs, start+(off+n-pos))
		f(blk[start:end], pos)
		if dirty {
			data.d.Write(a, blk)
		}
		pos += end - start
	}
}

var _ FS = (*MemFS)(nil)

// MemFS is an in-memory FS. Every file has a fixed capacity.
type MemFS struct {
	mu        *sync.Mutex
	fileCap   int64
	files     map[string]*memData
	failWrite error
	failSync  error
	dirSyncs  uint64
}

func NewMemFS(fileCap int64) *MemFS {
	return &MemFS{
		mu:      new(sync.Mutex),
		fileCap: fileCap,
		files:   make(map[string]*memData),
	}
}

// FailWrites makes every subsequent WriteAt fail with err (nil clears it).
func (fs *MemFS) FailWrites(err error) {
	fs.mu.Lock()
	fs.failWrite = err
	fs.mu.Unlock()
}

// FailSyncs makes every subsequent Sync and SyncDir fail with err.
func (fs *MemFS) FailSyncs(err error) {
	fs.mu.Lock()
	fs.failSync = err
	fs.mu.Unlock()
}

func (fs *MemFS) DirSyncs() uint64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.dirSyncs
}

func (fs *MemFS) writeErr() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.failWrite
}

func (fs *MemFS) syncErr() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.failSync
}

func (fs *MemFS) Create(name string) (File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	data := mkMemData(fs.fileCap)
	fs.files[name] = data
	return &memFile{fs: fs, name: name, data: data}, nil
}

func (fs *MemFS) Open(name string) (File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	data, ok := fs.files[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &memFile{fs: fs, name: name, data: data}, nil
}

func (fs *MemFS) Rename(from, to string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	data, ok := fs.files[from]
	if !ok {
		return ErrNotFound
	}
	delete(fs.files, from)
	fs.files[to] = data
	return nil
}

func (fs *MemFS) Remove(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.files[name]; !ok {
		return ErrNotFound
	}
	delete(fs.files, name)
	return nil
}

func (fs *MemFS) List(prefix string) ([]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var names []string
	for name := range fs.files {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (fs *MemFS) SyncDir() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.failSync != nil {
		return fs.failSync
	}
	fs.dirSyncs++
	return nil
}

func (fs *MemFS) Close() error { return nil }

var _ File = (*memFile)(nil)

type memFile struct {
	fs     *MemFS
	name   string
	data   *memData
	closed bool
}

func (f *memFile) Name() string {
	return f.name
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	data := f.data
	data.mu.Lock()
	defer data.mu.Unlock()
	if f.closed {
		return 0, ErrClosed
	}
	if off >= data.size {
		return 0, io.EOF
	}
	n := util.MinInt64(int64(len(p)), data.size-off)
	data.blocks(off, n, false, func(blk []byte, pos int64) {
		copy(p[pos-off:], blk)
	})
	if n < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	if err := f.fs.writeErr(); err != nil {
		return 0, err
	}
	data := f.data
	data.mu.Lock()
	defer data.mu.Unlock()
	if f.closed {
		return 0, ErrClosed
	}
	if off+int64(len(p)) > data.cap {
		return 0, ErrNoSpace
	}
	data.blocks(off, int64(len(p)), true, func(blk []byte, pos int64) {
		copy(blk, p[pos-off:])
	})
	if off+int64(len(p)) > data.size {
		data.size = off + int64(len(p))
	}
	return len(p), nil
}

func (f *memFile) Truncate(size int64) error {
	data := f.data
	data.mu.Lock()
	defer data.mu.Unlock()
	if size > data.cap {
		return ErrNoSpace
	}
	if size < data.size {
		data.blocks(size, data.size-size, true, func(blk []byte, pos int64) {
			for i := range blk {
				blk[i] = 0
			}
		})
	}
	data.size = size
	return nil
}

func (f *memFile) Sync() error {
	if err := f.fs.syncErr(); err != nil {
		return err
	}
	f.data.d.Barrier()
	return nil
}

func (f *memFile) Size() (int64, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()
	return f.data.size, nil
}

func (f *memFile) Close() error {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()
	f.closed = true
	return nil
}
