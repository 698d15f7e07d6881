// Package logfile manages the lifecycle of log files: creating the next file
// (from a preallocated one when available), preallocation, validating
// existing files when the log is opened, and archiving old files.
package logfile

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/mit-pdos/go-slotlog/common"
	"github.com/mit-pdos/go-slotlog/disk"
	"github.com/mit-pdos/go-slotlog/record"
	"github.com/mit-pdos/go-slotlog/util"
)

var ErrBadName = errors.New("malformed log file name")

func name(prefix string, id uint32) string {
	return fmt.Sprintf("%s.%010d", prefix, id)
}

func LogName(id uint32) string  { return name(common.LogFilename, id) }
func PrepName(id uint32) string { return name(common.LogPrepname, id) }
func TmpName(id uint32) string  { return name(common.LogTmpname, id) }

// ParseID extracts the file number from a log file name.
func ParseID(fname string) (uint32, error) {
	i := strings.LastIndexByte(fname, '.')
	if i < 0 {
		return 0, fmt.Errorf("%w: %s", ErrBadName, fname)
	}
	id, err := strconv.ParseUint(fname[i+1:], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrBadName, fname)
	}
	return uint32(id), nil
}

// ReadHeader reads and validates the header of an open log file.
func ReadHeader(f disk.File) (record.FileHeader, error) {
	b := make([]byte, common.FileHdrSize)
	if _, err := f.ReadAt(b, 0); err != nil {
		return record.FileHeader{}, fmt.Errorf("%s: read header: %w", f.Name(), err)
	}
	fh, err := record.DecodeFileHeader(b)
	if err != nil {
		return fh, err
	}
	if err := fh.Check(); err != nil {
		return fh, fmt.Errorf("%s: %w", f.Name(), err)
	}
	return fh, nil
}

// Manager owns the log directory. Its methods are safe for concurrent use.
type Manager struct {
	mu      *sync.Mutex
	fs      disk.FS
	fileMax int64
	ids     []uint32 // existing log files, ascending
	prepID  uint32   // preallocated file, 0 if none
	missed  uint64   // Create calls that found no preallocated file
}

// Open scans fs for log files and validates their headers. A foreign or
// incompatible file fails the open.
func Open(fs disk.FS, fileMax int64) (*Manager, error) {
	m := &Manager{
		mu:      new(sync.Mutex),
		fs:      fs,
		fileMax: fileMax,
	}
	names, err := fs.List(common.LogFilename + ".")
	if err != nil {
		return nil, err
	}
	for _, n := range names {
		id, err := ParseID(n)
		if err != nil {
			return nil, err
		}
		f, err := fs.Open(n)
		if err != nil {
			return nil, err
		}
		_, err = ReadHeader(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		m.ids = append(m.ids, id)
	}
	sort.Slice(m.ids, func(i, j int) bool { return m.ids[i] < m.ids[j] })

	// Stale temporary and preallocated files are from an earlier run.
	for _, prefix := range []string{common.LogTmpname + ".", common.LogPrepname + "."} {
		stale, err := fs.List(prefix)
		if err != nil {
			return nil, err
		}
		for _, n := range stale {
			util.DPrintf(1, "logfile: removing stale %s\n", n)
			if err := fs.Remove(n); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// IDs returns the numbers of the existing log files in ascending order.
func (m *Manager) IDs() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint32, len(m.ids))
	copy(ids, m.ids)
	return ids
}

// MaxID returns the newest file number, 0 if there are none.
func (m *Manager) MaxID() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ids) == 0 {
		return 0
	}
	return m.ids[len(m.ids)-1]
}

// Missed reports how many files had to be created without preallocation.
func (m *Manager) Missed() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.missed
}

// build writes a file with a header at tmp, sized to the configured maximum.
func (m *Manager) build(tmp string) error {
	f, err := m.fs.Create(tmp)
	if err != nil {
		return err
	}
	defer f.Close()
	hdr := make([]byte, common.FirstRecord)
	copy(hdr, record.MkFileHeader(m.fileMax).Encode())
	if _, err := f.WriteAt(hdr, 0); err != nil {
		return err
	}
	if err := f.Truncate(m.fileMax); err != nil {
		return err
	}
	return f.Sync()
}

// Prealloc prepares file id ahead of need, so a later Create is a rename.
func (m *Manager) Prealloc(id uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prepID >= id {
		return nil
	}
	if err := m.build(TmpName(id)); err != nil {
		return err
	}
	if err := m.fs.Rename(TmpName(id), PrepName(id)); err != nil {
		return err
	}
	m.prepID = id
	util.DPrintf(3, "logfile: preallocated %d\n", id)
	return nil
}

// Create makes log file id and returns it open, positioned for records at
// common.FirstRecord.
func (m *Manager) Create(id uint32) (disk.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prepID == id {
		if err := m.fs.Rename(PrepName(id), LogName(id)); err != nil {
			return nil, err
		}
		m.prepID = 0
	} else {
		m.missed++
		if err := m.build(TmpName(id)); err != nil {
			return nil, err
		}
		if err := m.fs.Rename(TmpName(id), LogName(id)); err != nil {
			return nil, err
		}
	}
	if err := m.fs.SyncDir(); err != nil {
		return nil, err
	}
	f, err := m.fs.Open(LogName(id))
	if err != nil {
		return nil, err
	}
	m.ids = append(m.ids, id)
	util.DPrintf(1, "logfile: created %s\n", LogName(id))
	return f, nil
}

// Archive removes every log file numbered below id and returns the oldest
// remaining number.
func (m *Manager) Archive(below uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []uint32
	var removed = false
	for _, id := range m.ids {
		if id < below {
			if err := m.fs.Remove(LogName(id)); err != nil && !errors.Is(err, disk.ErrNotFound) {
				return 0, err
			}
			util.DPrintf(1, "logfile: archived %s\n", LogName(id))
			removed = true
			continue
		}
		kept = append(kept, id)
	}
	m.ids = kept
	if removed {
		if err := m.fs.SyncDir(); err != nil {
			return 0, err
		}
	}
	if len(kept) == 0 {
		return below, nil
	}
	return kept[0], nil
}
