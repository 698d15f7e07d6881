// Package slot implements the consolidation slot: a buffer that many threads
// join, fill in parallel and release, with all bookkeeping packed in one
// 64-bit word updated by compare-and-swap.
//
// State word layout:
//
//	bits  0-31  released bytes (signed 32-bit)
//	bits 32-61  joined bytes
//	bit  62     CLOSE: no more joins
//	bit  63     RESERVED: special states FREE (-1) and WRITTEN (-2)
package slot

import "math"

// State is one snapshot of a slot's state word.
type State int64

const (
	Free    State = -1 // available for allocation
	Written State = -2 // data written, waiting for its turn to advance the write LSN

	// Bits keeps the number of flag bits in the top half of the word.
	Bits = 2

	Close    State = 0x4000000000000000
	Reserved State = math.MinInt64

	maskOff State = 0x3fffffffffffffff

	// MaxJoined is the largest joined count the word can hold.
	MaxJoined = 1<<(32-Bits) - 1
)

func MkState(joined int64, released int64, flags State) State {
	return State(joined<<32) + State(uint32(released)) + flags
}

func (s State) Joined() int64 {
	return int64((s & maskOff) >> 32)
}

func (s State) Released() int64 {
	return int64(int32(s))
}

func (s State) Flags() State {
	return s &^ maskOff
}

// IsActive: the word is not one of the negative sentinels.
func (s State) IsActive() bool {
	return s >= 0
}

// IsOpen reports whether threads may still join. bufMax is half the slot
// buffer: past that the slot is full enough to be written.
func (s State) IsOpen(bufMax int64) bool {
	return s.IsActive() && s&Close == 0 && s.Joined() < bufMax
}

func (s State) IsClosed() bool {
	return s.IsActive() && s&Close != 0 && s&Reserved == 0
}

// IsDone: closed and every joined byte has been released.
func (s State) IsDone() bool {
	return s.IsClosed() && s.Released() == s.Joined()
}
