package wal

import (
	"sync/atomic"

	"github.com/mit-pdos/go-slotlog/common"
	"github.com/mit-pdos/go-slotlog/disk"
	"github.com/mit-pdos/go-slotlog/lsn"
	"github.com/mit-pdos/go-slotlog/slot"
	"github.com/mit-pdos/go-slotlog/util"
)

// Assumes slotLock is held.
func (l *Log) params(release, start lsn.LSN, retiring disk.File, flags uint32) slot.Params {
	return slot.Params{
		Release: release,
		Start:   start,
		FH:      l.fh,
		CloseFH: retiring,
		Limit:   util.MinInt64(l.cfg.SlotBufSize, l.cfg.FileMax-start.Offset),
		Flags:   flags,
	}
}

// Assumes slotLock is held.
func (l *Log) freeSlot() (int32, bool) {
	n := int32(len(l.pool))
	cur := atomic.LoadInt32(&l.active)
	for i := int32(1); i <= n; i++ {
		idx := (cur + i) % n
		if l.pool[idx].State() == slot.Free {
			return idx, true
		}
	}
	return 0, false
}

// closeActive closes cur and moves alloc to its end. It returns cur if the
// close left it DONE, in which case the caller must write it after dropping
// slotLock. Assumes slotLock is held.
func (l *Log) closeActive(cur *slot.Slot) *slot.Slot {
	st, first := cur.Close()
	if !first {
		return nil
	}
	l.alloc = cur.Start().Add(st.Joined())
	atomic.AddUint64(&l.stats.Rotations, 1)
	if st.IsDone() {
		return cur
	}
	return nil
}

// prepare activates a FREE slot that starts at alloc, or at the start of a
// new file if n more bytes would not fit in this one. With direct set the
// slot is activated closed, holding just the n-byte record. The slot is not
// published. Once the log is sealed for shutdown no slot is activated.
// Assumes slotLock is held.
func (l *Log) prepare(n int64, direct bool) (*slot.Slot, int32, error) {
	if l.sealed {
		return nil, 0, ErrClosed
	}
	idx, ok := l.freeSlot()
	if !ok {
		atomic.AddUint64(&l.stats.PoolFull, 1)
		return nil, 0, ErrPoolExhausted
	}
	release := l.alloc
	flags := slot.InitFlags
	var retiring disk.File
	if l.alloc.Offset+n > l.cfg.FileMax {
		fh, err := l.files.Create(l.fileID + 1)
		if err != nil {
			return nil, 0, err
		}
		retiring = l.fh
		l.fh = fh
		l.fileID++
		l.alloc = lsn.MkLSN(l.fileID, common.FirstRecord)
		flags |= slot.CloseFH
		atomic.AddUint64(&l.stats.Rollovers, 1)
		util.DPrintf(1, "prepare: switch to file %d at %v\n", l.fileID, release)
		l.kickLogger()
	}
	p := l.params(release, l.alloc, retiring, flags)
	if direct {
		p.Direct = n
	}
	s := l.pool[idx]
	s.Activate(p)
	return s, idx, nil
}

// switchSlot closes cur and publishes a new active slot with room for n
// bytes. Assumes slotLock is held.
func (l *Log) switchSlot(cur *slot.Slot, n int64) (*slot.Slot, error) {
	done := l.closeActive(cur)
	_, idx, err := l.prepare(n, false)
	if err != nil {
		return done, err
	}
	atomic.StoreInt32(&l.active, idx)
	return done, nil
}

// rotate replaces the active slot idx, which could not take n bytes. If
// another thread rotated first, it does nothing.
func (l *Log) rotate(idx int32, n int64) error {
	l.slotLock.Lock()
	if atomic.LoadInt32(&l.active) != idx {
		l.slotLock.Unlock()
		return nil
	}
	cur := l.pool[idx]
	if st := cur.State(); st.IsOpen(l.bufMax) && st.Joined()+n <= cur.Limit() {
		l.slotLock.Unlock()
		return nil
	}
	done, err := l.switchSlot(cur, n)
	l.slotLock.Unlock()
	if done != nil {
		l.writeSlot(done)
	}
	return err
}

// closeSlot closes the active slot early so that it is written now, as long
// as it is still generation gen of slot idx and holds something. With
// gen zero any non-empty active slot is closed.
func (l *Log) closeSlot(idx int32, gen uint64) error {
	l.slotLock.Lock()
	cur := l.pool[atomic.LoadInt32(&l.active)]
	if gen != 0 && (atomic.LoadInt32(&l.active) != idx || cur.Gen() != gen) {
		l.slotLock.Unlock()
		return nil
	}
	st := cur.State()
	if !st.IsClosed() && st.Joined() == 0 {
		l.slotLock.Unlock()
		return nil
	}
	done, err := l.switchSlot(cur, 0)
	l.slotLock.Unlock()
	if done != nil {
		l.writeSlot(done)
	}
	return err
}

// flushAll closes the active slot and waits until everything allocated so
// far is written.
func (l *Log) flushAll() error {
	if err := l.closeSlot(0, 0); err != nil {
		return err
	}
	l.slotLock.Lock()
	target := l.alloc
	cur := l.pool[atomic.LoadInt32(&l.active)]
	if st := cur.State(); st.IsActive() && !st.IsClosed() && st.Joined() == 0 {
		// An empty slot may start a file nothing has been written to.
		target = cur.ReleaseLSN()
	}
	l.slotLock.Unlock()
	return l.WaitForWrite(target)
}

func (l *Log) kickLogger() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}
