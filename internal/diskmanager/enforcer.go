// Package diskmanager enforces retention of recording files.
//
// Two independent policies evict recordings: an age policy deleting files
// older than the retention period, and a usage policy evicting the oldest
// files when recordings exceed 90% of the storage cap.
package diskmanager

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
)

const componentName = "diskmanager"

const (
	bytesPerGB = 1 << 30

	// usageCleanupPercent of the storage cap triggers cleanup and is the eviction target.
	usageCleanupPercent = 90.0

	// lowFreeSpaceBytes triggers a warning about the filesystem itself.
	lowFreeSpaceBytes = 5 * bytesPerGB

	defaultMaxDeletions = 1000
)

// Policy is the retention policy.
type Policy struct {
	StoragePath   string
	Extension     string // recording extension without the dot
	RetentionDays int
	MaxStorageGB  float64
	MaxDeletions  int // per run; 0 uses the default of 1000
}

// CapBytes returns the storage cap in bytes.
func (p Policy) CapBytes() int64 {
	return int64(math.Round(p.MaxStorageGB * bytesPerGB))
}

// StorageStats is a snapshot of recording storage.
type StorageStats struct {
	RecordedBytes   int64     `json:"recordedBytes"`
	RecordingsCount int       `json:"recordingsCount"`
	CapBytes        int64     `json:"capBytes"`
	UsagePercent    float64   `json:"usagePercent"` // of the cap
	DiskTotalBytes  uint64    `json:"diskTotalBytes"`
	DiskFreeBytes   uint64    `json:"diskFreeBytes"`
	LowFreeSpace    bool      `json:"lowFreeSpace"`
	LastCleanup     time.Time `json:"lastCleanup,omitzero"`
	LastCheck       time.Time `json:"lastCheck,omitzero"`
}

// CleanupResult summarizes one retention pass.
type CleanupResult struct {
	Deleted     int   `json:"deleted"`
	Failed      int   `json:"failed"`
	FreedBytes  int64 `json:"freedBytes"`
	Interrupted bool  `json:"interrupted"`
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Enforcer) { e.now = now }
}

// WithDiskUsage replaces the filesystem capacity probe, for tests.
func WithDiskUsage(fn func(path string) (DiskSpaceInfo, error)) Option {
	return func(e *Enforcer) { e.diskUsage = fn }
}

// WithRemove replaces os.Remove, for tests.
func WithRemove(fn func(path string) error) Option {
	return func(e *Enforcer) { e.remove = fn }
}

// Enforcer applies the retention policy. All filesystem mutations are
// serialized so API deletes never race the frame loop's retention passes.
type Enforcer struct {
	mu sync.Mutex

	policy    Policy
	now       func() time.Time
	diskUsage func(path string) (DiskSpaceInfo, error)
	remove    func(path string) error

	stats        StorageStats
	totalDeleted uint64

	log logger.Logger
}

// NewEnforcer creates an Enforcer for policy.
func NewEnforcer(policy Policy, opts ...Option) (*Enforcer, error) {
	if policy.StoragePath == "" || policy.Extension == "" {
		return nil, errors.Newf("storage path and extension are required").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if policy.RetentionDays <= 0 || policy.MaxStorageGB <= 0 {
		return nil, errors.Newf("retention days %d and max storage %.1f GB must be positive",
			policy.RetentionDays, policy.MaxStorageGB).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if policy.MaxDeletions <= 0 {
		policy.MaxDeletions = defaultMaxDeletions
	}

	e := &Enforcer{
		policy:    policy,
		now:       time.Now,
		diskUsage: GetDetailedDiskUsage,
		remove:    os.Remove,
		log:       logger.Global().Module(componentName),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.stats.CapBytes = policy.CapBytes()

	return e, nil
}

// Policy returns the retention policy.
func (e *Enforcer) Policy() Policy {
	return e.policy
}

// Stats returns the last storage snapshot.
func (e *Enforcer) Stats() StorageStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// TotalDeleted returns the number of recordings deleted by retention since start.
func (e *Enforcer) TotalDeleted() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalDeleted
}

// ListRecordings returns all recordings, newest first.
func (e *Enforcer) ListRecordings() ([]Recording, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	recs, err := scanRecordings(nil, e.policy.StoragePath, e.policy.Extension)
	if err != nil {
		return nil, err
	}
	sortOldestFirst(recs)
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

// RecordingPath validates name and returns the full path of an existing recording.
func (e *Enforcer) RecordingPath(name string) (string, error) {
	if err := validateRecordingName(name, e.policy.Extension); err != nil {
		return "", err
	}

	path := filepath.Join(e.policy.StoragePath, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", errors.Newf("recording %q not found", name).
			Component(componentName).
			Category(errors.CategoryNotFound).
			Context("operation", "get_recording").
			Build()
	}
	return path, nil
}

// DeleteRecording deletes one recording by base name.
func (e *Enforcer) DeleteRecording(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	path, err := e.RecordingPath(name)
	if err != nil {
		return err
	}

	if err := e.remove(path); err != nil {
		if os.IsNotExist(err) {
			return errors.Newf("recording %q not found", name).
				Component(componentName).
				Category(errors.CategoryNotFound).
				Context("operation", "delete_recording").
				Build()
		}
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryFileIO).
			Context("operation", "delete_recording").
			Context("recording", name).
			Build()
	}

	e.log.Info("Recording deleted", logger.String("recording", name))
	return nil
}

// deleteFile removes rec, logging and counting failures instead of returning them.
func (e *Enforcer) deleteFile(rec Recording, reason string, res *CleanupResult) {
	if err := e.remove(rec.Path); err != nil {
		res.Failed++
		e.log.Warn("Failed to delete recording",
			logger.String("recording", rec.Name),
			logger.String("reason", reason),
			logger.Error(err))
		return
	}
	res.Deleted++
	res.FreedBytes += rec.Size
	e.totalDeleted++
	e.log.Debug("Recording deleted by retention",
		logger.String("recording", rec.Name),
		logger.String("reason", reason),
		logger.Int64("size_bytes", rec.Size))
}
