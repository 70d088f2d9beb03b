// disk_usage.go - filesystem capacity for the recordings directory

package diskmanager

import (
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/tphakala/motioncam/internal/errors"
)

// DiskSpaceInfo holds detailed disk space information.
type DiskSpaceInfo struct {
	TotalBytes uint64
	UsedBytes  uint64
	FreeBytes  uint64 // available to non-root users
}

// GetDetailedDiskUsage returns capacity of the filesystem containing path.
func GetDetailedDiskUsage(path string) (DiskSpaceInfo, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return DiskSpaceInfo{}, errors.New(err).
			Component(componentName).
			Category(errors.CategoryDiskUsage).
			Context("operation", "disk_usage").
			Context("path", path).
			Build()
	}

	return DiskSpaceInfo{
		TotalBytes: usage.Total,
		UsedBytes:  usage.Used,
		FreeBytes:  usage.Free,
	}, nil
}
