package recordings

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/diskmanager"
	"github.com/tphakala/motioncam/internal/errors"
)

func newTestEnforcer(t *testing.T, files map[string]time.Duration) (*diskmanager.Enforcer, string) {
	t.Helper()

	dir := t.TempDir()
	now := time.Now()
	for name, age := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("video"), 0o600))
		require.NoError(t, os.Chtimes(path, now.Add(-age), now.Add(-age)))
	}

	settings := &conf.Settings{}
	settings.Recording.StoragePath = dir
	settings.Recording.Format = "mp4"
	settings.Recording.RetentionDays = 7
	settings.Recording.MaxStorageGB = 1

	e, err := newEnforcer(settings)
	require.NoError(t, err)
	return e, dir
}

func TestListPrintsNewestFirst(t *testing.T) {
	t.Parallel()

	e, _ := newTestEnforcer(t, map[string]time.Duration{
		"cam_old.mp4": 2 * time.Hour,
		"cam_new.mp4": time.Minute,
		"notes.txt":   time.Minute,
	})

	var out bytes.Buffer
	require.NoError(t, list(&out, e))

	text := out.String()
	assert.Less(t, bytes.Index(out.Bytes(), []byte("cam_new.mp4")), bytes.Index(out.Bytes(), []byte("cam_old.mp4")))
	assert.NotContains(t, text, "notes.txt")
	assert.Contains(t, text, "2 recordings")
}

func TestRemoveStopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	e, dir := newTestEnforcer(t, map[string]time.Duration{"a.mp4": time.Minute})

	var out bytes.Buffer
	err := remove(&out, e, []string{"a.mp4", "missing.mp4"})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.Contains(t, out.String(), "deleted a.mp4")
	assert.NoFileExists(t, filepath.Join(dir, "a.mp4"))
}

func TestNewEnforcerRequiresSettings(t *testing.T) {
	t.Parallel()

	_, err := newEnforcer(nil)
	require.Error(t, err)

	_, err = newEnforcer(&conf.Settings{})
	require.Error(t, err)
}
