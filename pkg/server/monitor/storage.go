package monitor

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

// diskCacheDuration bounds how often the archive directory is walked.
const diskCacheDuration = 10 * time.Second

// DiskMonitor reports disk used by the report archive, cached to avoid
// walking the directory on every health check.
type DiskMonitor struct {
	dataDir     string
	cachedUsage int64
	lastCheck   time.Time
	mu          sync.Mutex
}

// NewDiskMonitor creates a monitor for dataDir. An empty dataDir means the
// archive lives in memory and always reports zero.
func NewDiskMonitor(dataDir string) *DiskMonitor {
	return &DiskMonitor{dataDir: dataDir}
}

// Usage returns archive disk usage in bytes (cached).
func (dm *DiskMonitor) Usage() (int64, error) {
	if dm.dataDir == "" {
		return 0, nil
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	if !dm.lastCheck.IsZero() && time.Since(dm.lastCheck) < diskCacheDuration {
		return dm.cachedUsage, nil
	}

	usage, err := dirSize(dm.dataDir)
	if err != nil {
		return 0, err
	}
	dm.cachedUsage = usage
	dm.lastCheck = time.Now()
	return usage, nil
}

// dirSize sums allocated disk blocks under path, falling back to the logical
// size where the platform cannot tell.
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if actual, err := diskUsage(filePath, info); err == nil {
			size += actual
		} else {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
