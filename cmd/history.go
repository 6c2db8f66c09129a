package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"packrat/internal/registry"
	"packrat/internal/retention"
	"packrat/internal/snapshot"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var historyProject string

var historyCmd = &cobra.Command{
	Use:   "history <file>",
	Short: "Show the version history of a backed-up file",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	repo := registry.NewRepository(gdb)

	projectPath := historyProject
	if projectPath == "" {
		projectPath = "."
	}
	project, err := repo.Register(projectPath)
	if err != nil {
		return err
	}

	abs, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(project.Path, abs)
	if err != nil || filepath.IsAbs(rel) {
		return fmt.Errorf("%s is not inside project %s", args[0], project.Name)
	}

	store := snapshot.NewStore(cfg.BackupRoot, project.Name)
	mirror, archived, err := store.ScanPath(rel)
	if err != nil {
		return err
	}

	versions := retention.History(filepath.ToSlash(rel), mirror, archived)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Version", "Generation", "Size")

	for _, v := range versions {
		if v.Current {
			table.Append(retention.CurrentLabel, "working copy", "-")
			continue
		}
		table.Append(
			v.Timestamp.Format("2006-01-02 15:04:05"),
			v.Generation.String(),
			humanize.Bytes(uint64(v.Size)),
		)
	}

	table.Render()
	return nil
}

func init() {
	historyCmd.Flags().StringVar(&historyProject, "project", "", "Project directory (defaults to the current directory)")
	rootCmd.AddCommand(historyCmd)
}
