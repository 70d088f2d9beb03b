// policy_age.go - age retention policy
package diskmanager

import (
	"context"
	"time"

	"github.com/tphakala/motioncam/internal/logger"
)

// Cleanup deletes recordings whose modification time is older than the
// retention period. Failures are logged and skipped; the pass stops early when
// ctx is cancelled or the per-run deletion limit is reached.
func (e *Enforcer) Cleanup(ctx context.Context) (CleanupResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cleanupLocked(ctx)
}

func (e *Enforcer) cleanupLocked(ctx context.Context) (CleanupResult, error) {
	var res CleanupResult

	bufp := getRecordingSlice()
	defer putRecordingSlice(bufp)

	recs, err := scanRecordings(*bufp, e.policy.StoragePath, e.policy.Extension)
	*bufp = recs
	if err != nil {
		return res, err
	}

	now := e.now()
	cutoff := now.Add(-time.Duration(e.policy.RetentionDays) * 24 * time.Hour)

	for _, rec := range recs {
		if ctx.Err() != nil {
			res.Interrupted = true
			e.log.Info("Cleanup interrupted", logger.Int("deleted", res.Deleted))
			break
		}
		if !rec.Modified.Before(cutoff) {
			continue
		}
		e.deleteFile(rec, "age", &res)
		if res.Deleted >= e.policy.MaxDeletions {
			e.log.Debug("Reached maximum number of deletions", logger.Int("max", e.policy.MaxDeletions))
			break
		}
	}

	e.stats.LastCleanup = now

	if res.Deleted > 0 || res.Failed > 0 {
		e.log.Info("Age retention policy applied",
			logger.Int("files_deleted", res.Deleted),
			logger.Int("files_failed", res.Failed),
			logger.Int64("bytes_freed", res.FreedBytes),
			logger.Int("retention_days", e.policy.RetentionDays))
	}

	return res, nil
}
