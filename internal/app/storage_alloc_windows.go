//go:build windows

package app

import "io/fs"

func allocatedBytes(fi fs.FileInfo) int64 {
	if fi == nil {
		return 0
	}
	return max(fi.Size(), 0)
}
