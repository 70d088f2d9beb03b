//go:build !linux

package diskmanager

import (
	"os"
	"time"
)

func creationTime(_ os.FileInfo, fallback time.Time) time.Time {
	return fallback
}
