// Package wal is the log manager: it hands out log positions, consolidates
// concurrently appended records into shared slots, writes each slot with one
// positioned write, and tracks how far the log is written and synced.
//
// The log stream:
//
//	[ archived | retained, synced  | written, unsynced | in slots ]
//	            ^                   ^                   ^          ^
//	            first               sync                write      alloc
//
// Appending threads join the active slot with a CAS on its state word, copy
// their record into the slot buffer without a lock and release it. Whoever
// observes the slot DONE writes it. Slots may be written out of order, but
// the write LSN only advances in LSN order: a slot written early waits in
// WRITTEN until the slot before it is published.
package wal

import (
	"errors"
	"fmt"
	"time"

	"github.com/mit-pdos/go-slotlog/common"
	"github.com/mit-pdos/go-slotlog/slot"
)

// Durability says how long an append waits.
type Durability int

const (
	NoWait      Durability = iota // return once the record is in its slot
	WaitWrite                     // wait until the record is written to the file
	WaitSync                      // wait until the record is fsynced
	WaitSyncDir                   // fsync and also sync the log directory
)

var (
	ErrPoolExhausted  = errors.New("wal: no free slot in the pool")
	ErrRecordTooLarge = errors.New("wal: record too large")
	ErrClosed         = errors.New("wal: log is shut down")
	ErrCheckpoint     = errors.New("wal: checkpoint LSN outside [first, sync]")
	ErrLogFailed      = errors.New("wal: log write failed")
	ErrConfig         = errors.New("wal: invalid config")
)

// FailedError is the sticky error after a write or sync failure. It matches
// both ErrLogFailed and the underlying I/O error.
type FailedError struct {
	Err error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("%v: %v", ErrLogFailed, e.Err)
}

func (e *FailedError) Unwrap() error {
	return e.Err
}

func (e *FailedError) Is(target error) bool {
	return target == ErrLogFailed
}

type Config struct {
	FileMax          int64 // bytes per log file
	SlotBufSize      int64
	PoolSize         int
	ForceConsolidate bool   // never write large records directly
	Compressor       string // "" or "zstd"
	Archive          bool   // remove log files before the checkpoint
	Prealloc         bool   // prepare the next log file in the background
	SyncInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		FileMax:      common.DefaultFileMax,
		SlotBufSize:  common.SlotBufSize,
		PoolSize:     common.SlotPool,
		Archive:      true,
		Prealloc:     true,
		SyncInterval: 50 * time.Millisecond,
	}
}

func (c Config) Validate() error {
	if c.SlotBufSize < 2*common.LogAlign || c.SlotBufSize%common.LogAlign != 0 {
		return fmt.Errorf("%w: slot buffer size %d", ErrConfig, c.SlotBufSize)
	}
	if c.SlotBufSize > slot.MaxJoined {
		return fmt.Errorf("%w: slot buffer size %d exceeds %d", ErrConfig, c.SlotBufSize, slot.MaxJoined)
	}
	if c.FileMax%common.LogAlign != 0 || c.FileMax < common.FirstRecord+common.LogAlign {
		return fmt.Errorf("%w: file size %d", ErrConfig, c.FileMax)
	}
	if c.PoolSize < 2 {
		return fmt.Errorf("%w: pool size %d", ErrConfig, c.PoolSize)
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("%w: negative sync interval", ErrConfig)
	}
	return nil
}
