package wal

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/mit-pdos/go-slotlog/common"
	"github.com/mit-pdos/go-slotlog/lsn"
	"github.com/mit-pdos/go-slotlog/record"
	"github.com/mit-pdos/go-slotlog/slot"
	"github.com/mit-pdos/go-slotlog/util"
)

// Handle is a reservation of log space returned by Join. The holder must
// Fill it (or Pad it) and then Release it.
type Handle struct {
	s      *slot.Slot
	idx    int32
	gen    uint64
	off    int64
	size   int64
	direct bool
	d      Durability

	LSN lsn.LSN // position of the record
	End lsn.LSN // position just past its reserved space
}

// Size is the aligned number of bytes reserved.
func (h *Handle) Size() int64 {
	return h.size
}

func (h *Handle) Direct() bool {
	return h.direct
}

// Fill copies the encoded record rec into the reserved space, zeroing the
// rest of it.
func (h *Handle) Fill(rec []byte) {
	if int64(len(rec)) > h.size {
		panic(fmt.Sprintf("Fill: %d byte record in %d byte reservation", len(rec), h.size))
	}
	if !h.direct {
		h.s.Copy(h.off, rec, h.size)
		return
	}
	buf := make([]byte, h.size)
	copy(buf, rec)
	if _, err := h.s.FH().WriteAt(buf, h.s.StartOffset()); err != nil {
		h.s.SetErr(err)
	}
}

// Pad fills the reservation with a padding record, for an append that is
// abandoned after Join.
func (h *Handle) Pad() {
	h.Fill(record.Pad(h.size))
}

func (l *Log) maxRecord() int64 {
	if l.cfg.ForceConsolidate {
		return util.MinInt64(l.cfg.SlotBufSize, l.cfg.FileMax-common.FirstRecord)
	}
	return util.MinInt64(slot.MaxJoined&^(common.LogAlign-1), l.cfg.FileMax-common.FirstRecord)
}

// Join reserves space for a record of size bytes (header included). Records
// up to half a slot buffer share the active slot with others; larger ones
// get a slot of their own and are written straight to the file, unless
// ForceConsolidate is set.
func (l *Log) Join(size int64, d Durability) (*Handle, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	n := util.AlignUp(size, common.LogAlign)
	if size <= 0 || n > l.maxRecord() {
		return nil, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, size)
	}
	if n > l.bufMax && !l.cfg.ForceConsolidate {
		return l.joinDirect(n, d)
	}
	for {
		idx := atomic.LoadInt32(&l.active)
		s := l.pool[idx]
		if off, ok := s.Join(n, l.bufMax); ok {
			h := &Handle{s: s, idx: idx, gen: s.Gen(), off: off, size: n, d: d}
			h.LSN = s.Start().Add(off)
			h.End = h.LSN.Add(n)
			l.setFlags(h)
			return h, nil
		}
		if err := l.rotate(idx, n); err != nil {
			return nil, err
		}
	}
}

func (l *Log) joinDirect(n int64, d Durability) (*Handle, error) {
	l.slotLock.Lock()
	done := l.closeActive(l.pool[atomic.LoadInt32(&l.active)])
	s, idx, err := l.prepare(n, true)
	if err != nil {
		l.slotLock.Unlock()
		if done != nil {
			l.writeSlot(done)
		}
		return nil, err
	}
	l.alloc = s.End()
	if _, next, err := l.prepare(0, false); err == nil {
		atomic.StoreInt32(&l.active, next)
	} else {
		// The closed slot stays active; the next joiner retries.
		util.DPrintf(1, "joinDirect: %v\n", err)
	}
	l.slotLock.Unlock()
	if done != nil {
		l.writeSlot(done)
	}
	h := &Handle{s: s, idx: idx, gen: s.Gen(), size: n, direct: true, d: d}
	h.LSN = s.Start()
	h.End = s.End()
	l.setFlags(h)
	return h, nil
}

func (l *Log) setFlags(h *Handle) {
	switch h.d {
	case WaitSync:
		h.s.SetFlag(slot.Sync)
	case WaitSyncDir:
		h.s.SetFlag(slot.Sync | slot.SyncDir)
	}
}

// Release hands the filled reservation back. If this is the last release of
// a closed slot, the slot is written by this thread. Appends that wait for
// durability close their slot early instead of waiting for it to fill.
func (l *Log) Release(h *Handle) error {
	atomic.AddUint64(&l.stats.Records, 1)
	if st := h.s.Release(h.size); st.IsDone() {
		l.writeSlot(h.s)
	}
	if h.d != NoWait && !h.direct {
		// The slot is closed either way; it is written by its last releaser.
		err := l.closeSlot(h.idx, h.gen)
		if err != nil && !errors.Is(err, ErrPoolExhausted) && !errors.Is(err, ErrClosed) {
			return err
		}
	}
	return l.Err()
}

// Wait blocks until h's record is as durable as d asks.
func (l *Log) Wait(h *Handle, d Durability) error {
	switch d {
	case WaitWrite:
		return l.Flush(h.End)
	case WaitSync:
		return l.WaitForSync(h.End)
	case WaitSyncDir:
		return l.waitForSyncDir(h.End)
	}
	return nil
}

// Write frames payload as a record, appends it and waits as d asks. It
// returns the record's LSN.
func (l *Log) Write(payload []byte, d Durability) (lsn.LSN, error) {
	rec := record.Encode(payload, l.comp)
	h, err := l.Join(int64(len(rec)), d)
	if err != nil {
		return lsn.LSN{}, err
	}
	h.Fill(rec)
	if err := l.Release(h); err != nil {
		return h.LSN, err
	}
	return h.LSN, l.Wait(h, d)
}
