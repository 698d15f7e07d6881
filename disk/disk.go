// Package disk provides the file-handle abstraction the log writes through:
// positioned reads and writes, truncate, fsync and directory fsync.
package disk

import (
	"errors"
)

var (
	ErrNotFound = errors.New("file not found")
	ErrExists   = errors.New("file exists")
	ErrNoSpace  = errors.New("write beyond file capacity")
	ErrClosed   = errors.New("file is closed")
)

// File is an open log file.
type File interface {
	Name() string

	// ReadAt follows io.ReaderAt: a short read returns io.EOF.
	ReadAt(p []byte, off int64) (int, error)

	// WriteAt writes all of p at off, extending the file as needed.
	WriteAt(p []byte, off int64) (int, error)

	Truncate(size int64) error

	// Sync ensures data is persisted.
	//
	// When it returns, all completed writes to the file are durable.
	Sync() error

	Size() (int64, error)

	Close() error
}

// FS is a flat directory of log files.
type FS interface {
	// Create creates name, truncating any existing file.
	Create(name string) (File, error)

	Open(name string) (File, error)

	Rename(from, to string) error

	Remove(name string) error

	// List returns the sorted names in the directory starting with prefix.
	List(prefix string) ([]string, error)

	// SyncDir makes creates, renames and removes durable.
	SyncDir() error

	Close() error
}
