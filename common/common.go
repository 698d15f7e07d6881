package common

const (
	// LogAlign is the alignment of every record and slot write.
	LogAlign int64 = 128

	// FirstRecord is the file offset of the first record; the file header
	// occupies the block before it.
	FirstRecord int64 = LogAlign

	SlotBufSize int64 = 256 * 1024
	SlotPool    int   = 128

	DefaultFileMax int64 = 100 * 1024 * 1024

	LogMagic        uint32 = 0x101064
	LogMajorVersion uint16 = 1
	LogMinorVersion uint16 = 0

	// RecordHdrSize is the size of the fixed record header.
	RecordHdrSize int64 = 16
	// FileHdrSize is the size of the log file header.
	FileHdrSize int64 = 16
)

const (
	LogFilename = "SlotLog"
	LogPrepname = "SlotPreplog"
	LogTmpname  = "SlotTmplog"
)
