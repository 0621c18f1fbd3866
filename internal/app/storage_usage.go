package app

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// StorageUsage is the on-disk footprint of one session directory.
type StorageUsage struct {
	Dir            string    `json:"dir"`
	Exists         bool      `json:"exists"`
	Files          int       `json:"files"`
	SizeBytes      int64     `json:"sizeBytes"`
	AllocatedBytes int64     `json:"allocatedBytes"`
	ScannedAt      time.Time `json:"scannedAt"`
}

// StorageUsage scans the directories the session writes to: the data dir,
// and the spill dir when memory storage spills.
func (c Config) StorageUsage() []StorageUsage {
	out := []StorageUsage{ScanStorageUsage(c.TorrentDataDir)}
	if c.MemorySpillDir != "" && filepath.Clean(c.MemorySpillDir) != filepath.Clean(c.TorrentDataDir) {
		out = append(out, ScanStorageUsage(c.MemorySpillDir))
	}
	return out
}

func ScanStorageUsage(dir string) StorageUsage {
	usage := StorageUsage{
		Dir:       filepath.Clean(dir),
		ScannedAt: time.Now().UTC(),
	}
	if dir == "" {
		usage.Dir = ""
		return usage
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return usage
	}
	usage.Exists = true

	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		usage.Files++
		usage.SizeBytes += fi.Size()
		usage.AllocatedBytes += allocatedBytes(fi)
		return nil
	})
	return usage
}
