// Package vfs defines the file contract the SQL engine's storage layer
// drives, plus a registry of named backends implementing it.
package vfs

import "errors"

// OpenFlag mirrors the engine's SQLITE_OPEN_* bits.
type OpenFlag int

const (
	OpenReadOnly      OpenFlag = 0x00000001
	OpenReadWrite     OpenFlag = 0x00000002
	OpenCreate        OpenFlag = 0x00000004
	OpenDeleteOnClose OpenFlag = 0x00000008
	OpenExclusive     OpenFlag = 0x00000010
	OpenAutoProxy     OpenFlag = 0x00000020
	OpenURI           OpenFlag = 0x00000040
	OpenMemory        OpenFlag = 0x00000080
	OpenMainDB        OpenFlag = 0x00000100
	OpenTempDB        OpenFlag = 0x00000200
	OpenTransientDB   OpenFlag = 0x00000400
	OpenMainJournal   OpenFlag = 0x00000800
	OpenTempJournal   OpenFlag = 0x00001000
	OpenSubJournal    OpenFlag = 0x00002000
	OpenSuperJournal  OpenFlag = 0x00004000
	OpenNoMutex       OpenFlag = 0x00008000
	OpenFullMutex     OpenFlag = 0x00010000
	OpenSharedCache   OpenFlag = 0x00020000
	OpenPrivateCache  OpenFlag = 0x00040000
	OpenWAL           OpenFlag = 0x00080000
)

type AccessFlag int

const (
	AccessExists    AccessFlag = 0
	AccessReadWrite AccessFlag = 1
	AccessRead      AccessFlag = 2
)

type LockType int

const (
	LockNone      LockType = 0
	LockShared    LockType = 1
	LockReserved  LockType = 2
	LockPending   LockType = 3
	LockExclusive LockType = 4
)

type SyncType int

const (
	SyncNormal   SyncType = 0x00002
	SyncFull     SyncType = 0x00003
	SyncDataOnly SyncType = 0x00010
)

// DeviceCharacteristic mirrors the engine's SQLITE_IOCAP_* bits.
type DeviceCharacteristic int

const (
	IocapAtomic              DeviceCharacteristic = 0x00000001
	IocapSafeAppend          DeviceCharacteristic = 0x00000200
	IocapSequential          DeviceCharacteristic = 0x00000400
	IocapUndeletableWhenOpen DeviceCharacteristic = 0x00000800
	IocapPowersafeOverwrite  DeviceCharacteristic = 0x00001000
	IocapImmutable           DeviceCharacteristic = 0x00002000
)

const DefaultSectorSize = 4096

var (
	ErrCannotOpen        = errors.New("cannot open file")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyRegistered = errors.New("vfs name already registered")
)

// Backend is one named filesystem implementation.
type Backend interface {
	Open(name string, flags OpenFlag) (File, OpenFlag, error)
	Delete(name string, dirSync bool) error
	Access(name string, flag AccessFlag) (bool, error)
	FullPathname(name string) string
}

// File is an open file handle. ReadAt follows the engine's short read
// convention: bytes past the end of the file are zero filled and io.EOF is
// returned with the count of real bytes.
type File interface {
	Close() error
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Truncate(size int64) error
	Sync(flag SyncType) error
	FileSize() (int64, error)
	Lock(lock LockType) error
	Unlock(lock LockType) error
	CheckReservedLock() (bool, error)
	// FileControl returns ErrNotFound for opcodes the file does not handle.
	FileControl(op int) error
	SectorSize() int64
	DeviceCharacteristics() DeviceCharacteristic
}
