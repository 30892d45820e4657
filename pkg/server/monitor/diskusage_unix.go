//go:build !windows

package monitor

import (
	"os"
	"syscall"
)

// diskUsage returns allocated bytes from stat blocks, which handles sparse
// badger value logs.
func diskUsage(_ string, info os.FileInfo) (int64, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.Size(), nil
	}
	// Blocks are 512 bytes regardless of filesystem block size
	return stat.Blocks * 512, nil
}
