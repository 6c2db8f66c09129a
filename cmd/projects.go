package cmd

import (
	"fmt"
	"os"

	"packrat/internal/registry"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var projectsReap bool

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List registered projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo := registry.NewRepository(gdb)

		if projectsReap {
			reaped, err := repo.ReapOrphans()
			if err != nil {
				return err
			}
			fmt.Printf("reaped %d orphaned project(s)\n", reaped)
		}

		projects, err := repo.All()
		if err != nil {
			return err
		}

		if len(projects) == 0 {
			fmt.Println("no projects registered, run 'packrat watch <path>' or 'packrat run <path>' first")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("ID", "Name", "Path", "Last backup", "Files")

		for _, p := range projects {
			lastBackup := "-"
			if p.LastBackupAt != nil {
				lastBackup = p.LastBackupAt.Format("2006-01-02 15:04:05")
			}

			exists := ""
			if _, err := os.Stat(p.Path); err != nil {
				exists = " (missing)"
			}

			table.Append(p.ProjectID, p.Name, p.Path+exists, lastBackup, fmt.Sprintf("%d", p.LastBackupFiles))
		}

		table.Render()
		return nil
	},
}

func init() {
	projectsCmd.Flags().BoolVar(&projectsReap, "reap", false, "Remove projects whose directory no longer exists")
	rootCmd.AddCommand(projectsCmd)
}
