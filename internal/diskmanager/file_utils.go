// file_utils.go - recording file discovery and validation
package diskmanager

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/tphakala/motioncam/internal/errors"
)

// Recording describes one recording file.
type Recording struct {
	Name     string    `json:"name"`
	Path     string    `json:"-"`
	Size     int64     `json:"size"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// SizeMB returns the size in mebibytes.
func (r Recording) SizeMB() float64 {
	return float64(r.Size) / (1 << 20)
}

// scanRecordings appends every regular file in dir with the given extension to
// dst. Files that disappear during the scan are skipped.
func scanRecordings(dst []Recording, dir, ext string) ([]Recording, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return dst, errors.New(err).
			Component(componentName).
			Category(errors.CategoryFileIO).
			Context("operation", "scan_recordings").
			Context("path", dir).
			Build()
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !hasExtension(entry.Name(), ext) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		mod := info.ModTime()
		dst = append(dst, Recording{
			Name:     entry.Name(),
			Path:     filepath.Join(dir, entry.Name()),
			Size:     info.Size(),
			Created:  creationTime(info, mod),
			Modified: mod,
		})
	}

	return dst, nil
}

// sortOldestFirst orders recordings by modification time, oldest first.
func sortOldestFirst(recs []Recording) {
	slices.SortFunc(recs, func(a, b Recording) int {
		if c := a.Modified.Compare(b.Modified); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
}

func hasExtension(name, ext string) bool {
	return strings.EqualFold(filepath.Ext(name), "."+ext)
}

// validateRecordingName accepts only plain base names carrying the recording extension.
func validateRecordingName(name, ext string) error {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) ||
		name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return errors.Newf("invalid recording name %q", name).
			Component(componentName).
			Category(errors.CategoryValidation).
			Context("operation", "validate_name").
			Build()
	}
	if !hasExtension(name, ext) {
		return errors.Newf("recording %q is not a .%s file", name, ext).
			Component(componentName).
			Category(errors.CategoryValidation).
			Context("operation", "validate_name").
			Build()
	}
	return nil
}
