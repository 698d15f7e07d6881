// Package lsn defines log sequence numbers: positions in the logical log
// stream that spans every log file.
package lsn

import (
	"fmt"
	"math"
)

// LSN identifies a byte position in the log: File is the log file number and
// Offset the byte offset within that file.
type LSN struct {
	File   uint32
	Offset int64
}

// Init is the first valid position.
func Init() LSN {
	return LSN{File: 1, Offset: 0}
}

// Zero is the "unset" sentinel.
func Zero() LSN {
	return LSN{}
}

// Max is the "unreachable" sentinel.
func Max() LSN {
	return LSN{File: math.MaxUint32, Offset: math.MaxInt64}
}

func MkLSN(file uint32, offset int64) LSN {
	return LSN{File: file, Offset: offset}
}

func (l LSN) IsInit() bool {
	return l.File == 1 && l.Offset == 0
}

func (l LSN) IsZero() bool {
	return l.File == 0 && l.Offset == 0
}

func (l LSN) IsMax() bool {
	return l.File == math.MaxUint32 && l.Offset == math.MaxInt64
}

// Compare returns -1, 0 or 1 as a is before, equal to or after b.
func Compare(a, b LSN) int {
	if a.File != b.File {
		if a.File < b.File {
			return -1
		}
		return 1
	}
	if a.Offset != b.Offset {
		if a.Offset < b.Offset {
			return -1
		}
		return 1
	}
	return 0
}

func (l LSN) Less(o LSN) bool {
	return Compare(l, o) < 0
}

func (l LSN) LessEq(o LSN) bool {
	return Compare(l, o) <= 0
}

// Add advances the offset by n bytes within the same file.
func (l LSN) Add(n int64) LSN {
	return LSN{File: l.File, Offset: l.Offset + n}
}

func Min(a, b LSN) LSN {
	if a.Less(b) {
		return a
	}
	return b
}

func Max2(a, b LSN) LSN {
	if a.Less(b) {
		return b
	}
	return a
}

func (l LSN) String() string {
	return fmt.Sprintf("[%d,%d]", l.File, l.Offset)
}
