package wal

import (
	"sync/atomic"

	"github.com/mit-pdos/go-slotlog/lsn"
	"github.com/mit-pdos/go-slotlog/slot"
	"github.com/mit-pdos/go-slotlog/util"
)

// writeSlot writes a DONE slot's buffer at its file offset and publishes it
// once the slots before it are written.
func (l *Log) writeSlot(s *slot.Slot) {
	st := s.State()
	end := s.Start().Add(st.Joined())
	if s.Err() == nil && l.Err() == nil {
		if b := s.Buffered(); len(b) > 0 {
			if _, err := s.FH().WriteAt(b, s.StartOffset()); err != nil {
				s.SetErr(err)
			} else {
				atomic.AddUint64(&l.stats.SlotWrites, 1)
			}
		}
		if s.Unbuffered() > 0 && s.Err() == nil {
			atomic.AddUint64(&l.stats.DirectWrites, 1)
		}
	}
	util.DPrintf(5, "writeSlot: %v..%v\n", s.Start(), end)
	s.MarkWritten(end)
	l.publish()
}

// Assumes logLock is held.
func (l *Log) nextWritten() *slot.Slot {
	for _, s := range l.pool {
		if s.State() == slot.Written && s.ReleaseLSN() == l.write {
			return s
		}
	}
	return nil
}

// publish advances the write LSN over every WRITTEN slot whose predecessor
// has been published, in LSN order, and frees them.
func (l *Log) publish() {
	var target lsn.LSN
	needSync, needDir, retire := false, false, false
	l.logLock.Lock()
	n := 0
	for s := l.nextWritten(); s != nil && l.err == nil; s = l.nextWritten() {
		if err := s.Err(); err != nil {
			l.failLocked(err)
			s.Free()
			break
		}
		l.writeStart = s.Start()
		l.write = lsn.Max2(l.write, s.End())
		l.written += s.End().Offset - s.Start().Offset
		atomic.AddUint64(&l.stats.Bytes, uint64(s.End().Offset-s.Start().Offset))
		l.writeFH = s.FH()
		if s.HasFlag(slot.CloseFH) {
			l.closeFH = append(l.closeFH, retired{fh: s.RetiringFH(), end: s.ReleaseLSN()})
			retire = true
		}
		if s.HasFlag(slot.Sync) {
			needSync = true
			target = lsn.Max2(target, s.End())
		}
		if s.HasFlag(slot.SyncDir) {
			needDir = true
		}
		s.Free()
		n++
	}
	if n > 0 {
		l.condWrite.Broadcast()
	}
	l.logLock.Unlock()

	if needSync || retire {
		if err := l.syncTo(target, needDir); err != nil {
			util.DPrintf(1, "publish: sync to %v: %v\n", target, err)
		}
	}
}

// syncTo fsyncs the log through target, which must already be written, and
// also the log directory if dir is set. Handles retired by a file switch
// are synced and closed first. A zero target only retires handles.
func (l *Log) syncTo(target lsn.LSN, dir bool) error {
	l.syncLock.Lock()
	defer l.syncLock.Unlock()

	l.logLock.Lock()
	if l.err != nil {
		err := l.err
		l.logLock.Unlock()
		return err
	}
	pending := l.closeFH
	l.closeFH = nil
	w, fh := l.write, l.writeFH
	needFile := l.sync.Less(target) && l.sync.Less(w)
	needDir := dir && l.syncDir.File < w.File
	l.logLock.Unlock()

	for _, r := range pending {
		if err := r.fh.Sync(); err != nil {
			return l.fail(err)
		}
		r.fh.Close()
		util.DPrintf(1, "syncTo: retired file ending at %v\n", r.end)
	}
	if needFile {
		if err := fh.Sync(); err != nil {
			return l.fail(err)
		}
		atomic.AddUint64(&l.stats.Syncs, 1)
	}
	if needDir {
		if err := l.fs.SyncDir(); err != nil {
			return l.fail(err)
		}
		atomic.AddUint64(&l.stats.DirSyncs, 1)
	}

	l.logLock.Lock()
	defer l.logLock.Unlock()
	if needFile {
		util.DPrintf(5, "syncTo: sync %v -> %v\n", l.sync, w)
		l.sync = lsn.Max2(l.sync, w)
		l.written = 0
	}
	if needDir {
		l.syncDir = lsn.Max2(l.syncDir, w)
	}
	if needFile || needDir || len(pending) > 0 {
		l.condSync.Broadcast()
	}
	return nil
}
