package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/motioncam/internal/buildinfo"
)

func TestRootCommandSubcommands(t *testing.T) {
	root := RootCommand(buildinfo.NewContext("1.2.0", "2025-03-10"))

	assert.Equal(t, "1.2.0 (built 2025-03-10)", root.Version)
	require.NotNil(t, root.PersistentFlags().Lookup("config"))
	require.NotNil(t, root.PersistentFlags().Lookup("debug"))

	for _, path := range [][]string{
		{"run"},
		{"recordings", "list"},
		{"recordings", "delete"},
		{"recordings", "cleanup"},
		{"thermal"},
	} {
		sub, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}

	run, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	for _, flag := range []string{"listen", "backend", "source", "storage"} {
		assert.NotNil(t, run.Flags().Lookup(flag), flag)
	}
}
