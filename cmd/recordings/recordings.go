// Package recordings implements the recordings command for inspecting and
// pruning stored recordings without starting the camera.
package recordings

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/diskmanager"
)

// Command creates the recordings command and its subcommands.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recordings",
		Short: "Manage stored recordings",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List recordings, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				enforcer, err := newEnforcer(conf.GetSettings())
				if err != nil {
					return err
				}
				return list(cmd.OutOrStdout(), enforcer)
			},
		},
		&cobra.Command{
			Use:   "delete <name>...",
			Short: "Delete recordings by file name",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				enforcer, err := newEnforcer(conf.GetSettings())
				if err != nil {
					return err
				}
				return remove(cmd.OutOrStdout(), enforcer, args)
			},
		},
		&cobra.Command{
			Use:   "cleanup",
			Short: "Apply the retention policy once",
			Long:  "Delete recordings older than the retention period, then evict the oldest recordings while usage is above 90% of the storage cap.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				enforcer, err := newEnforcer(conf.GetSettings())
				if err != nil {
					return err
				}
				return cleanup(cmd, enforcer)
			},
		},
	)

	return cmd
}

func newEnforcer(settings *conf.Settings) (*diskmanager.Enforcer, error) {
	if settings == nil {
		return nil, fmt.Errorf("settings not loaded")
	}
	return diskmanager.NewEnforcer(diskmanager.Policy{
		StoragePath:   settings.Recording.StoragePath,
		Extension:     settings.Recording.Format,
		RetentionDays: settings.Recording.RetentionDays,
		MaxStorageGB:  settings.Recording.MaxStorageGB,
	})
}

func list(w io.Writer, enforcer *diskmanager.Enforcer) error {
	recs, err := enforcer.ListRecordings()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE (MB)\tMODIFIED")
	var total int64
	for _, r := range recs {
		total += r.Size
		fmt.Fprintf(tw, "%s\t%.1f\t%s\n", r.Name, r.SizeMB(), r.Modified.Format(time.DateTime))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d recordings, %.1f MB\n", len(recs), float64(total)/(1<<20))
	return nil
}

func remove(w io.Writer, enforcer *diskmanager.Enforcer, names []string) error {
	for _, name := range names {
		if err := enforcer.DeleteRecording(name); err != nil {
			return fmt.Errorf("delete %s: %w", name, err)
		}
		fmt.Fprintf(w, "deleted %s\n", name)
	}
	return nil
}

func cleanup(cmd *cobra.Command, enforcer *diskmanager.Enforcer) error {
	res, err := enforcer.Cleanup(cmd.Context())
	if err != nil {
		return err
	}
	stats, err := enforcer.CheckStorage(cmd.Context())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "expired: deleted %d, failed %d, freed %.1f MB\n",
		res.Deleted, res.Failed, float64(res.FreedBytes)/(1<<20))
	fmt.Fprintf(w, "storage: %d recordings, %.1f%% of %.1f GB cap\n",
		stats.RecordingsCount, stats.UsagePercent, enforcer.Policy().MaxStorageGB)
	if stats.LowFreeSpace {
		fmt.Fprintln(w, "warning: less than 5 GB free on the recordings filesystem")
	}
	return nil
}
