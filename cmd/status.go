package cmd

import (
	"fmt"
	"os"
	"time"

	"packrat/internal/heartbeat"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and watchdog status",
	RunE: func(cmd *cobra.Command, args []string) error {
		hb := heartbeat.NewPublisher(cfg.StateDir)

		rec, err := heartbeat.Read(hb.Path())
		cond := heartbeat.Classify(rec, err, time.Now(), cfg.HeartbeatStaleAfter)

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Field", "Value")

		table.Append("Condition", string(cond))
		if err == nil {
			table.Append("Status", string(rec.Status))
			table.Append("Updated", time.Unix(rec.Timestamp, 0).Format("2006-01-02 15:04:05"))
			table.Append("PID", fmt.Sprintf("%d", rec.Pid))
			if rec.Project != "" {
				table.Append("Project", rec.Project)
			}
			if rec.LastBackup > 0 {
				table.Append("Last backup", time.Unix(rec.LastBackup, 0).Format("2006-01-02 15:04:05"))
				table.Append("Files", fmt.Sprintf("%d", rec.LastBackupFiles))
			}
			if rec.Status == heartbeat.StatusSyncing && rec.SyncingTotalProjects > 0 {
				table.Append("Sweep progress", fmt.Sprintf("%d/%d (%s)",
					rec.SyncingProjectIndex, rec.SyncingTotalProjects, rec.SyncingCurrentProject))
			}
			if rec.Error != "" {
				table.Append("Error", rec.Error)
			}
		}

		if wd, wdErr := heartbeat.ReadWatchdogStatus(heartbeat.WatchdogStatusPath(cfg.StateDir)); wdErr == nil {
			table.Append("Watchdog", string(wd.Status))
			table.Append("Watchdog checked", time.Unix(wd.LastCheck, 0).Format("2006-01-02 15:04:05"))
			table.Append("Daemons", fmt.Sprintf("%d", wd.DaemonCount))
		}

		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
