package util

import (
	"sync"

	"go.uber.org/zap"
)

const Debug uint64 = 1

var (
	logMu  = new(sync.RWMutex)
	logger = zap.NewNop().Sugar()
)

// SetLogger routes DPrintf and Errorf output to l.
func SetLogger(l *zap.Logger) {
	logMu.Lock()
	logger = l.Sugar()
	logMu.Unlock()
}

func sugar() *zap.SugaredLogger {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger
}

func DPrintf(level uint64, format string, a ...interface{}) {
	if level <= Debug {
		sugar().Debugf(format, a...)
	}
}

// Errorf logs unconditionally; used for failures that become sticky errors.
func Errorf(format string, a ...interface{}) {
	sugar().Errorf(format, a...)
}

func RoundUp(n uint64, sz uint64) uint64 {
	return (n + sz - 1) / sz
}

// AlignUp rounds n up to a multiple of sz.
func AlignUp(n int64, sz int64) int64 {
	return (n + sz - 1) / sz * sz
}

func MinInt64(n int64, m int64) int64 {
	if n < m {
		return n
	}
	return m
}

func CloneByteSlice(s []byte) []byte {
	s2 := make([]byte, len(s))
	copy(s2, s)
	return s2
}
