// Package jrnl is the transaction-facing API on top of the slot log.
//
// The caller begins an operation Op, locks the keys it updates, buffers the
// operation's log entries with Put, and commits. A commit writes all of the
// operation's entries as one Commit record, so recovery sees either all of
// them or none. Locks are held until the commit record has its LSN, so
// operations on a common key are logged in the order they ran.
//
// Operations support asynchronous durability through the Durability passed
// to CommitWait: wal.NoWait commits are ordered with all others but may be
// lost in a crash until a later synchronous commit, Flush, or the background
// logger makes them durable.
//
// Checkpoint writes a Checkpoint record naming the position from which
// Replay must start, and lets the log archive the files before it.
package jrnl

import (
	"fmt"
	"sync/atomic"

	"github.com/mit-pdos/go-slotlog/disk"
	"github.com/mit-pdos/go-slotlog/lockmap"
	"github.com/mit-pdos/go-slotlog/lsn"
	"github.com/mit-pdos/go-slotlog/record"
	"github.com/mit-pdos/go-slotlog/scan"
	"github.com/mit-pdos/go-slotlog/util"
	"github.com/mit-pdos/go-slotlog/wal"
)

type Journal struct {
	log   *wal.Log
	locks *lockmap.LockMap
	txnid uint64
}

func MkJournal(log *wal.Log) *Journal {
	return &Journal{log: log, locks: lockmap.MkLockMap()}
}

func (j *Journal) Log() *wal.Log {
	return j.log
}

// Op is an in-progress journal operation.
//
// Call CommitWait to log the operation's entries.
// To abort the operation simply stop using it.
type Op struct {
	j        *Journal
	ops      [][]byte
	acquired []uint64
}

// Begin starts an operation with no entries.
func (j *Journal) Begin() *Op {
	op := &Op{j: j}
	util.DPrintf(3, "Begin: %p\n", op)
	return op
}

// Lock takes key's lock for the rest of the operation.
func (op *Op) Lock(key uint64) {
	for _, k := range op.acquired {
		if k == key {
			return
		}
	}
	op.j.locks.Acquire(key)
	op.acquired = append(op.acquired, key)
}

func (op *Op) releaseAll() {
	for len(op.acquired) != 0 {
		last := len(op.acquired) - 1
		op.j.locks.Release(op.acquired[last])
		op.acquired = op.acquired[:last]
	}
}

// Abort drops the buffered entries and releases the operation's locks.
func (op *Op) Abort() {
	op.ops = nil
	op.releaseAll()
}

// Put buffers one entry. The entry is copied.
func (op *Op) Put(entry []byte) {
	op.ops = append(op.ops, util.CloneByteSlice(entry))
}

func (op *Op) NOps() int {
	return len(op.ops)
}

// CommitWait logs the operation's entries as one record and waits as d
// asks. An operation with no entries writes nothing and returns a zero LSN.
// The operation's locks are released once the record is in the log,
// before any durability wait.
func (op *Op) CommitWait(d wal.Durability) (lsn.LSN, error) {
	if len(op.ops) == 0 {
		op.releaseAll()
		return lsn.Zero(), nil
	}
	txnid := atomic.AddUint64(&op.j.txnid, 1)
	util.DPrintf(3, "Commit %p txn %d n %d d %v\n", op, txnid, len(op.ops), d)
	log := op.j.log
	rec := record.Encode(record.PackCommit(txnid, op.ops), log.Compressor())
	h, err := log.Join(int64(len(rec)), d)
	if err != nil {
		op.releaseAll()
		return lsn.LSN{}, fmt.Errorf("commit txn %d: %w", txnid, err)
	}
	h.Fill(rec)
	op.releaseAll()
	if err := log.Release(h); err != nil {
		return h.LSN, fmt.Errorf("commit txn %d: %w", txnid, err)
	}
	if err := log.Wait(h, d); err != nil {
		return h.LSN, fmt.Errorf("commit txn %d: %w", txnid, err)
	}
	return h.LSN, nil
}

// Flush makes every operation committed so far durable.
func (j *Journal) Flush() error {
	return j.log.SyncAll()
}

// Printf logs a diagnostic Message record.
func (j *Journal) Printf(format string, a ...interface{}) (lsn.LSN, error) {
	return j.log.Write(record.PackMessage(fmt.Sprintf(format, a...)), wal.NoWait)
}

// Checkpoint makes all committed operations durable, logs a Checkpoint
// record naming the current end of the log, and advances the log's
// checkpoint there.
func (j *Journal) Checkpoint() (lsn.LSN, error) {
	if err := j.Flush(); err != nil {
		return lsn.LSN{}, err
	}
	ckpt := j.log.LSNs().Sync
	if _, err := j.log.Write(record.PackCheckpoint(ckpt), wal.WaitSync); err != nil {
		return ckpt, err
	}
	if err := j.log.Checkpoint(ckpt); err != nil {
		return ckpt, err
	}
	util.DPrintf(1, "Checkpoint: %v\n", ckpt)
	return ckpt, nil
}

// Replay calls fn for each committed operation after the newest checkpoint
// found in fs, in commit order, and returns the end of the log.
func Replay(fs disk.FS, c record.Compressor, fn func(at lsn.LSN, txnid uint64, ops [][]byte) error) (lsn.LSN, error) {
	from := lsn.Zero()
	_, err := scan.Scan(fs, from, c, func(r scan.Record) error {
		if t, err := record.TypeOf(r.Payload); err == nil && t == record.TypeCheckpoint {
			ckpt, err := record.UnpackCheckpoint(r.Payload)
			if err != nil {
				return err
			}
			from = lsn.Max2(from, ckpt)
		}
		return nil
	})
	if err != nil {
		return from, err
	}
	return scan.Scan(fs, from, c, func(r scan.Record) error {
		t, err := record.TypeOf(r.Payload)
		if err != nil || t != record.TypeCommit {
			return nil
		}
		txnid, ops, err := record.UnpackCommit(r.Payload)
		if err != nil {
			return fmt.Errorf("%v: %w", r.LSN, err)
		}
		return fn(r.LSN, txnid, ops)
	})
}
