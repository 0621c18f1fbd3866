//go:build !windows

package app

import (
	"io/fs"
	"syscall"
)

// allocatedBytes prefers the block count, which is smaller than the size
// for sparse piece files.
func allocatedBytes(fi fs.FileInfo) int64 {
	if fi == nil {
		return 0
	}
	if stat, ok := fi.Sys().(*syscall.Stat_t); ok && stat != nil && stat.Blocks > 0 {
		return int64(stat.Blocks) * 512
	}
	return max(fi.Size(), 0)
}
