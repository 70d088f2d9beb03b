// policy_usage.go - storage cap retention policy
package diskmanager

import (
	"context"

	"github.com/tphakala/motioncam/internal/logger"
)

// CheckStorage measures recording usage against the storage cap and the free
// space of the filesystem. Above 90% of the cap it runs the age policy and
// then evicts the oldest recordings until usage is at or below 90%.
func (e *Enforcer) CheckStorage(ctx context.Context) (StorageStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats, err := e.measureLocked()
	if err != nil {
		return e.stats, err
	}

	if stats.UsagePercent > usageCleanupPercent {
		e.log.Warn("Recording storage above threshold, cleaning up",
			logger.Float64("usage_percent", stats.UsagePercent),
			logger.Float64("threshold_percent", usageCleanupPercent),
			logger.Float64("max_storage_gb", e.policy.MaxStorageGB))

		if _, err := e.cleanupLocked(ctx); err != nil {
			return e.stats, err
		}
		if _, err := e.evictOldestLocked(ctx); err != nil {
			return e.stats, err
		}
		if stats, err = e.measureLocked(); err != nil {
			return e.stats, err
		}
	}

	return stats, nil
}

// measureLocked refreshes e.stats from the recordings directory and the filesystem.
func (e *Enforcer) measureLocked() (StorageStats, error) {
	bufp := getRecordingSlice()
	defer putRecordingSlice(bufp)

	recs, err := scanRecordings(*bufp, e.policy.StoragePath, e.policy.Extension)
	*bufp = recs
	if err != nil {
		return e.stats, err
	}

	var total int64
	for i := range recs {
		total += recs[i].Size
	}

	stats := e.stats
	stats.RecordedBytes = total
	stats.RecordingsCount = len(recs)
	stats.CapBytes = e.policy.CapBytes()
	stats.UsagePercent = float64(total) / float64(stats.CapBytes) * 100
	stats.LastCheck = e.now()

	if disk, err := e.diskUsage(e.policy.StoragePath); err != nil {
		e.log.Warn("Failed to read filesystem usage", logger.Error(err))
	} else {
		stats.DiskTotalBytes = disk.TotalBytes
		stats.DiskFreeBytes = disk.FreeBytes
		stats.LowFreeSpace = disk.FreeBytes < lowFreeSpaceBytes
		if stats.LowFreeSpace {
			e.log.Warn("Low free disk space",
				logger.Float64("free_gb", float64(disk.FreeBytes)/bytesPerGB),
				logger.String("path", e.policy.StoragePath))
		}
	}

	e.stats = stats
	return stats, nil
}

// evictOldestLocked deletes the oldest recordings until usage is at or below
// the threshold percentage of the cap.
func (e *Enforcer) evictOldestLocked(ctx context.Context) (CleanupResult, error) {
	var res CleanupResult

	bufp := getRecordingSlice()
	defer putRecordingSlice(bufp)

	recs, err := scanRecordings(*bufp, e.policy.StoragePath, e.policy.Extension)
	*bufp = recs
	if err != nil {
		return res, err
	}
	sortOldestFirst(recs)

	var total int64
	for i := range recs {
		total += recs[i].Size
	}
	target := int64(float64(e.policy.CapBytes()) * usageCleanupPercent / 100)

	for _, rec := range recs {
		if total <= target {
			break
		}
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		if res.Deleted >= e.policy.MaxDeletions {
			break
		}
		before := res.Deleted
		e.deleteFile(rec, "usage", &res)
		if res.Deleted > before {
			total -= rec.Size
		}
	}

	if res.Deleted > 0 || res.Failed > 0 {
		e.log.Info("Usage retention policy applied",
			logger.Int("files_deleted", res.Deleted),
			logger.Int("files_failed", res.Failed),
			logger.Int64("bytes_freed", res.FreedBytes),
			logger.Float64("remaining_gb", float64(total)/bytesPerGB))
	}

	return res, nil
}
