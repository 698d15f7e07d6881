package slot

import (
	"sync"
	"sync/atomic"

	"github.com/mit-pdos/go-slotlog/disk"
	"github.com/mit-pdos/go-slotlog/lsn"
)

// Flags on a slot, set by joiners before they release.
const (
	Buffered uint32 = 0x01 // buffer writes
	CloseFH  uint32 = 0x02 // close the retiring file handle once published
	Sync     uint32 = 0x04 // fsync once written
	SyncDir  uint32 = 0x08 // also fsync the log directory
)

const InitFlags = Buffered

// Slot is one consolidation buffer of the pool.
//
// Fields other than the state word and flags are written only while the slot
// is FREE or unpublished (by the pool, under its lock) or after it is DONE
// (by the single writer); the CAS on state orders them.
type Slot struct {
	state int64
	flags uint32

	gen         uint64
	unbuffered  int64
	startOffset int64
	limit       int64
	release     lsn.LSN
	start       lsn.LSN
	end         lsn.LSN
	fh          disk.File
	closeFH     disk.File
	buf         []byte
	bufSize     int64

	errMu *sync.Mutex
	err   error
}

func MkSlot(bufSize int64) *Slot {
	return &Slot{
		state:   int64(Free),
		bufSize: bufSize,
		errMu:   new(sync.Mutex),
	}
}

func (s *Slot) State() State {
	return State(atomic.LoadInt64(&s.state))
}

func (s *Slot) cas(old State, new State) bool {
	return atomic.CompareAndSwapInt64(&s.state, int64(old), int64(new))
}

// Params describe a slot about to become the active slot.
type Params struct {
	Release lsn.LSN   // write LSN that must be reached before this slot publishes
	Start   lsn.LSN   // LSN of the first byte in the slot
	FH      disk.File // file the slot is written to
	CloseFH disk.File // handle retired by a rollover, closed after this slot
	Limit   int64     // most bytes the slot may take
	Flags   uint32

	// Direct is the size of a record written straight to the file. The slot
	// then starts out closed with Direct bytes joined, so no thread can join
	// it.
	Direct int64
}

// Activate resets a FREE slot for reuse. The state is stored last so a thread
// that joins sees the new fields.
func (s *Slot) Activate(p Params) {
	if s.buf == nil {
		s.buf = make([]byte, s.bufSize)
	}
	s.gen++
	s.unbuffered = p.Direct
	s.startOffset = p.Start.Offset
	s.limit = p.Limit
	s.release = p.Release
	s.start = p.Start
	s.end = p.Start.Add(p.Direct)
	s.fh = p.FH
	s.closeFH = p.CloseFH
	s.setErr(nil)
	atomic.StoreUint32(&s.flags, p.Flags)
	st := State(0)
	if p.Direct > 0 {
		st = MkState(p.Direct, 0, Close)
	}
	atomic.StoreInt64(&s.state, int64(st))
}

// Join reserves n bytes, returning their offset in the buffer. It fails,
// changing nothing, if the slot is not open or the bytes do not fit; the
// caller must then rotate to a new slot.
func (s *Slot) Join(n int64, bufMax int64) (int64, bool) {
	for {
		old := s.State()
		if !old.IsOpen(bufMax) || old.Joined()+n > s.limit {
			return 0, false
		}
		new := MkState(old.Joined()+n, old.Released(), old.Flags())
		if s.cas(old, new) {
			return old.Joined(), true
		}
	}
}

// Release marks n joined bytes as copied in and returns the resulting state.
// Exactly one Release or Close call observes IsDone on its result; that
// caller owns the write.
func (s *Slot) Release(n int64) State {
	for {
		old := s.State()
		new := MkState(old.Joined(), old.Released()+n, old.Flags())
		if s.cas(old, new) {
			return new
		}
	}
}

// Close stops further joins. It returns the resulting state and whether this
// call set CLOSE.
func (s *Slot) Close() (State, bool) {
	for {
		old := s.State()
		if !old.IsActive() || old&Close != 0 {
			return old, false
		}
		new := old | Close
		if s.cas(old, new) {
			return new, true
		}
	}
}

// MarkWritten moves a DONE slot to WRITTEN, recording its end.
func (s *Slot) MarkWritten(end lsn.LSN) {
	s.end = end
	atomic.StoreInt64(&s.state, int64(Written))
}

func (s *Slot) Free() {
	s.fh = nil
	s.closeFH = nil
	atomic.StoreInt64(&s.state, int64(Free))
}

// SetFlag ORs f into the slot's flags.
func (s *Slot) SetFlag(f uint32) {
	for {
		old := atomic.LoadUint32(&s.flags)
		if old&f == f || atomic.CompareAndSwapUint32(&s.flags, old, old|f) {
			return
		}
	}
}

func (s *Slot) HasFlag(f uint32) bool {
	return atomic.LoadUint32(&s.flags)&f != 0
}

func (s *Slot) setErr(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

// SetErr records the first error of the slot; later ones are dropped.
func (s *Slot) SetErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *Slot) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Copy writes p into the buffer at a joined offset and zeroes the pad up to
// size.
func (s *Slot) Copy(off int64, p []byte, size int64) {
	copy(s.buf[off:], p)
	pad := s.buf[off+int64(len(p)) : off+size]
	for i := range pad {
		pad[i] = 0
	}
}

// Buffered returns the consolidated bytes of a DONE slot.
func (s *Slot) Buffered() []byte {
	st := s.State()
	return s.buf[:st.Joined()-s.unbuffered]
}

func (s *Slot) Gen() uint64           { return s.gen }
func (s *Slot) Unbuffered() int64     { return s.unbuffered }
func (s *Slot) StartOffset() int64    { return s.startOffset }
func (s *Slot) Limit() int64          { return s.limit }
func (s *Slot) ReleaseLSN() lsn.LSN   { return s.release }
func (s *Slot) Start() lsn.LSN        { return s.start }
func (s *Slot) End() lsn.LSN          { return s.end }
func (s *Slot) FH() disk.File         { return s.fh }
func (s *Slot) RetiringFH() disk.File { return s.closeFH }
func (s *Slot) BufSize() int64        { return s.bufSize }
