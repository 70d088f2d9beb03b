//go:build linux

package diskmanager

import (
	"os"
	"syscall"
	"time"
)

// creationTime returns the inode change time, the closest Linux offers to a
// creation timestamp, or fallback when unavailable.
func creationTime(info os.FileInfo, fallback time.Time) time.Time {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fallback
	}
	return time.Unix(int64(st.Ctim.Sec), int64(st.Ctim.Nsec)) //nolint:unconvert // int32 on 32-bit ARM
}
