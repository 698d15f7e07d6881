package wal

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/mit-pdos/go-slotlog/lsn"
	"github.com/mit-pdos/go-slotlog/util"
)

// backgroundWork writes out a partly filled active slot and syncs what is
// written, so NoWait appends become durable within a sync interval.
func (l *Log) backgroundWork() {
	if err := l.closeSlot(0, 0); err != nil && !errors.Is(err, ErrPoolExhausted) && !errors.Is(err, ErrClosed) {
		util.DPrintf(1, "logger: close slot: %v\n", err)
	}
	l.logLock.Lock()
	w := l.write
	l.logLock.Unlock()
	if err := l.syncTo(w, false); err != nil {
		return
	}
	l.logLock.Lock()
	l.bgSync = lsn.Max2(l.bgSync, l.sync)
	l.logLock.Unlock()
}

func (l *Log) preallocNext() {
	if !l.cfg.Prealloc || atomic.LoadInt32(&l.closing) != 0 {
		return
	}
	l.slotLock.Lock()
	next := l.fileID + 1
	l.slotLock.Unlock()
	if err := l.files.Prealloc(next); err != nil {
		util.DPrintf(1, "logger: prealloc %d: %v\n", next, err)
	}
}

func (l *Log) logger() {
	var tick <-chan time.Time
	if l.cfg.SyncInterval > 0 {
		t := time.NewTicker(l.cfg.SyncInterval)
		defer t.Stop()
		tick = t.C
	}
	l.preallocNext()
	for {
		select {
		case <-l.stop:
			util.DPrintf(1, "logger: shutdown\n")
			l.logLock.Lock()
			l.nthread -= 1
			l.condShut.Signal()
			l.logLock.Unlock()
			return
		case <-tick:
			l.backgroundWork()
		case <-l.kick:
			l.preallocNext()
		}
	}
}

func (l *Log) startBackgroundThreads() {
	l.logLock.Lock()
	l.nthread += 1
	l.logLock.Unlock()
	go l.logger()
}
