package wal

import (
	"sync"
	"sync/atomic"

	"github.com/mit-pdos/go-slotlog/common"
	"github.com/mit-pdos/go-slotlog/disk"
	"github.com/mit-pdos/go-slotlog/logfile"
	"github.com/mit-pdos/go-slotlog/lsn"
	"github.com/mit-pdos/go-slotlog/record"
	"github.com/mit-pdos/go-slotlog/slot"
	"github.com/mit-pdos/go-slotlog/util"
)

type retired struct {
	fh  disk.File
	end lsn.LSN
}

type Log struct {
	cfg    Config
	fs     disk.FS
	files  *logfile.Manager
	comp   record.Compressor
	bufMax int64

	// slotLock protects rotation: the pool's FREE slots, alloc and the
	// current file. The active index is also read without it.
	slotLock *sync.Mutex
	pool     []*slot.Slot
	active   int32
	alloc    lsn.LSN
	fileID   uint32
	fh       disk.File
	sealed   bool

	// logLock protects the LSNs below, the retiring handles and the sticky
	// error.
	logLock    *sync.Mutex
	condWrite  *sync.Cond
	condSync   *sync.Cond
	write      lsn.LSN
	writeStart lsn.LSN
	sync       lsn.LSN
	bgSync     lsn.LSN
	syncDir    lsn.LSN
	ckpt       lsn.LSN
	first      lsn.LSN
	trunc      lsn.LSN
	written    int64
	writeFH    disk.File
	closeFH    []retired
	err        error
	failed     int32
	closing    int32
	shutdown   bool
	nthread    uint64
	condShut   *sync.Cond
	stop       chan struct{}
	kick       chan struct{}

	// syncLock allows one fsync at a time.
	syncLock *sync.Mutex

	stats Stats
}

// LSNs is a snapshot of the log's positions.
type LSNs struct {
	Alloc      lsn.LSN
	Write      lsn.LSN
	WriteStart lsn.LSN
	Sync       lsn.LSN
	BgSync     lsn.LSN
	SyncDir    lsn.LSN
	Ckpt       lsn.LSN
	First      lsn.LSN
	Trunc      lsn.LSN
}

type Stats struct {
	Records      uint64
	SlotWrites   uint64
	DirectWrites uint64
	Rotations    uint64
	Rollovers    uint64
	Syncs        uint64
	DirSyncs     uint64
	Bytes        uint64
	PoolFull     uint64
}

func mkLog(fs disk.FS, cfg Config) (*Log, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	comp, err := record.LookupCompressor(cfg.Compressor)
	if err != nil {
		return nil, err
	}
	files, err := logfile.Open(fs, cfg.FileMax)
	if err != nil {
		return nil, err
	}
	id := files.MaxID() + 1
	fh, err := files.Create(id)
	if err != nil {
		return nil, err
	}
	start := lsn.MkLSN(id, common.FirstRecord)
	first := lsn.MkLSN(files.IDs()[0], common.FirstRecord)

	ll := new(sync.Mutex)
	l := &Log{
		cfg:        cfg,
		fs:         fs,
		files:      files,
		comp:       comp,
		bufMax:     cfg.SlotBufSize / 2,
		slotLock:   new(sync.Mutex),
		pool:       make([]*slot.Slot, cfg.PoolSize),
		alloc:      start,
		fileID:     id,
		fh:         fh,
		logLock:    ll,
		condWrite:  sync.NewCond(ll),
		condSync:   sync.NewCond(ll),
		write:      start,
		writeStart: start,
		sync:       start,
		bgSync:     start,
		syncDir:    start,
		ckpt:       first,
		first:      first,
		trunc:      lsn.Max(),
		writeFH:    fh,
		condShut:   sync.NewCond(ll),
		stop:       make(chan struct{}),
		kick:       make(chan struct{}, 1),
		syncLock:   new(sync.Mutex),
	}
	for i := range l.pool {
		l.pool[i] = slot.MkSlot(cfg.SlotBufSize)
	}
	l.pool[0].Activate(l.params(start, start, nil, slot.InitFlags))
	util.DPrintf(1, "mkLog: file %d, %d slots of %d bytes\n", id, cfg.PoolSize, cfg.SlotBufSize)
	return l, nil
}

// Open starts a new log file after any already in fs and starts the
// background logger.
func Open(fs disk.FS, cfg Config) (*Log, error) {
	l, err := mkLog(fs, cfg)
	if err != nil {
		return nil, err
	}
	l.startBackgroundThreads()
	return l, nil
}

func (l *Log) Config() Config {
	return l.cfg
}

func (l *Log) Compressor() record.Compressor {
	return l.comp
}

func (l *Log) LSNs() LSNs {
	l.slotLock.Lock()
	cur := l.pool[atomic.LoadInt32(&l.active)]
	alloc := l.alloc
	if st := cur.State(); st.IsActive() && !st.IsClosed() {
		alloc = cur.Start().Add(st.Joined())
	}
	l.slotLock.Unlock()

	l.logLock.Lock()
	defer l.logLock.Unlock()
	return LSNs{
		Alloc:      alloc,
		Write:      l.write,
		WriteStart: l.writeStart,
		Sync:       l.sync,
		BgSync:     l.bgSync,
		SyncDir:    l.syncDir,
		Ckpt:       l.ckpt,
		First:      l.first,
		Trunc:      l.trunc,
	}
}

func (l *Log) Stats() Stats {
	return Stats{
		Records:      atomic.LoadUint64(&l.stats.Records),
		SlotWrites:   atomic.LoadUint64(&l.stats.SlotWrites),
		DirectWrites: atomic.LoadUint64(&l.stats.DirectWrites),
		Rotations:    atomic.LoadUint64(&l.stats.Rotations),
		Rollovers:    atomic.LoadUint64(&l.stats.Rollovers),
		Syncs:        atomic.LoadUint64(&l.stats.Syncs),
		DirSyncs:     atomic.LoadUint64(&l.stats.DirSyncs),
		Bytes:        atomic.LoadUint64(&l.stats.Bytes),
		PoolFull:     atomic.LoadUint64(&l.stats.PoolFull),
	}
}

// Err returns the sticky error, if a write or sync has failed.
func (l *Log) Err() error {
	if atomic.LoadInt32(&l.failed) == 0 {
		return nil
	}
	l.logLock.Lock()
	defer l.logLock.Unlock()
	return l.err
}

func (l *Log) checkOpen() error {
	if atomic.LoadInt32(&l.closing) != 0 {
		return ErrClosed
	}
	return l.Err()
}

// Assumes logLock is held.
func (l *Log) failLocked(err error) {
	if l.err == nil {
		util.Errorf("wal: log failed: %v", err)
		l.err = &FailedError{Err: err}
		atomic.StoreInt32(&l.failed, 1)
	}
	l.condWrite.Broadcast()
	l.condSync.Broadcast()
}

func (l *Log) fail(err error) error {
	l.logLock.Lock()
	defer l.logLock.Unlock()
	l.failLocked(err)
	return l.err
}

// Checkpoint records that everything before ckpt is no longer needed for
// recovery. With archiving on, log files wholly before ckpt's file are
// removed.
func (l *Log) Checkpoint(ckpt lsn.LSN) error {
	l.logLock.Lock()
	if ckpt.Less(l.first) || l.sync.Less(ckpt) {
		l.logLock.Unlock()
		return ErrCheckpoint
	}
	l.ckpt = lsn.Max2(l.ckpt, ckpt)
	c := l.ckpt
	l.logLock.Unlock()

	util.DPrintf(1, "Checkpoint: %v\n", c)
	if !l.cfg.Archive {
		return nil
	}
	firstID, err := l.files.Archive(c.File)
	if err != nil {
		return err
	}
	l.logLock.Lock()
	l.first = lsn.Max2(l.first, lsn.Min(lsn.MkLSN(firstID, common.FirstRecord), l.ckpt))
	l.logLock.Unlock()
	return nil
}

// SetTruncLSN records where recovery truncated the log.
func (l *Log) SetTruncLSN(t lsn.LSN) {
	l.logLock.Lock()
	defer l.logLock.Unlock()
	l.trunc = t
}

// seal closes the active slot without replacing it and waits until it is
// written and synced. Threads still in the slot finish their appends; any
// later join fails with ErrClosed.
func (l *Log) seal() error {
	l.slotLock.Lock()
	l.sealed = true
	done := l.closeActive(l.pool[atomic.LoadInt32(&l.active)])
	target := l.alloc
	l.slotLock.Unlock()
	if done != nil {
		l.writeSlot(done)
	}
	return l.WaitForSync(target)
}

// Shutdown writes and syncs everything appended so far, stops the logger and
// closes the log files. It is safe to call more than once.
func (l *Log) Shutdown() error {
	if !atomic.CompareAndSwapInt32(&l.closing, 0, 1) {
		l.logLock.Lock()
		for !l.shutdown {
			l.condShut.Wait()
		}
		l.logLock.Unlock()
		return nil
	}
	util.DPrintf(1, "Shutdown: flushing\n")
	err := l.SyncAll()
	if serr := l.seal(); err == nil {
		err = serr
	}

	l.logLock.Lock()
	if l.nthread > 0 {
		close(l.stop)
	}
	for l.nthread > 0 {
		l.condShut.Wait()
	}
	pending := l.closeFH
	l.closeFH = nil
	l.shutdown = true
	l.condWrite.Broadcast()
	l.condSync.Broadcast()
	l.condShut.Broadcast()
	l.logLock.Unlock()

	for _, r := range pending {
		r.fh.Close()
	}
	l.slotLock.Lock()
	l.fh.Close()
	l.slotLock.Unlock()
	util.DPrintf(1, "Shutdown: done\n")
	return err
}
