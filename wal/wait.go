package wal

import (
	"errors"
	"sync/atomic"

	"github.com/mit-pdos/go-slotlog/lsn"
)

// WaitForWrite blocks until the write LSN reaches target.
func (l *Log) WaitForWrite(target lsn.LSN) error {
	l.logLock.Lock()
	defer l.logLock.Unlock()
	for l.write.Less(target) {
		if l.err != nil {
			return l.err
		}
		if l.shutdown {
			return ErrClosed
		}
		l.condWrite.Wait()
	}
	return nil
}

// Flush closes the active slot if it holds bytes before target and waits
// until target is written.
func (l *Log) Flush(target lsn.LSN) error {
	l.slotLock.Lock()
	cur := l.pool[atomic.LoadInt32(&l.active)]
	st := cur.State()
	if st.IsActive() && st.Joined() > 0 && cur.Start().Less(target) {
		done, err := l.switchSlot(cur, 0)
		l.slotLock.Unlock()
		if done != nil {
			l.writeSlot(done)
		}
		if err != nil && !errors.Is(err, ErrPoolExhausted) && !errors.Is(err, ErrClosed) {
			return err
		}
	} else {
		l.slotLock.Unlock()
	}
	return l.WaitForWrite(target)
}

func (l *Log) waitSync(target lsn.LSN, dir bool) error {
	l.logLock.Lock()
	defer l.logLock.Unlock()
	for l.sync.Less(target) || (dir && l.syncDir.File < target.File) {
		if l.err != nil {
			return l.err
		}
		if l.shutdown {
			return ErrClosed
		}
		l.condSync.Wait()
	}
	return nil
}

func (l *Log) synced(target lsn.LSN, dir bool) bool {
	l.logLock.Lock()
	defer l.logLock.Unlock()
	return !l.sync.Less(target) && (!dir || l.syncDir.File >= target.File)
}

// WaitForSync blocks until the sync LSN reaches target, writing and syncing
// the log itself rather than waiting for the background logger.
func (l *Log) WaitForSync(target lsn.LSN) error {
	return l.waitForSync(target, false)
}

func (l *Log) waitForSyncDir(target lsn.LSN) error {
	return l.waitForSync(target, true)
}

func (l *Log) waitForSync(target lsn.LSN, dir bool) error {
	if l.synced(target, dir) {
		return nil
	}
	if err := l.Flush(target); err != nil {
		return err
	}
	if err := l.syncTo(target, dir); err != nil {
		return err
	}
	return l.waitSync(target, dir)
}

// SyncAll writes and syncs everything appended so far.
func (l *Log) SyncAll() error {
	if err := l.flushAll(); err != nil {
		return err
	}
	return l.WaitForSync(l.LSNs().Write)
}
