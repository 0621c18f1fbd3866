package domain

import "time"

type StorageMode string

const (
	StorageMemory StorageMode = "memory"
	StorageDisk   StorageMode = "disk"
)

// SessionSettings configure the download session. They are fixed when the
// session is created and apply to every attachment it hosts.
type SessionSettings struct {
	DataDir           string
	StorageMode       StorageMode
	MemoryLimitBytes  int64
	MemorySpillDir    string
	ListenPort        int
	DisableUTP        bool
	DisableTCP        bool
	DisableIPv6       bool
	NoDHT             bool
	NoUpload          bool
	DownloadRateLimit int64 // bytes/sec; 0 = unlimited
	MetadataTimeout   time.Duration
	// MaxOutstandingRequests caps how many block requests are kept in
	// flight ahead of verification. 0 keeps the library default.
	MaxOutstandingRequests int
}

// AttachSettings are passed to each attach call instead of being applied to
// the shared session.
type AttachSettings struct {
	MaxEstablishedConns int
	Trackers            []string
}
