package cmd

import (
	"fmt"
	"os"
	"time"

	"packrat/internal/registry"
	"packrat/internal/retention"
	"packrat/internal/snapshot"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var pruneApply bool

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Preview or apply snapshot retention across all projects",
	RunE:  runPrune,
}

func runPrune(cmd *cobra.Command, args []string) error {
	repo := registry.NewRepository(gdb)
	projects, err := repo.All()
	if err != nil {
		return err
	}

	tiers := retention.DefaultTiers()
	now := time.Now()

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Project", "Hourly", "Daily", "Weekly", "Monthly", "Prunable", "Freed")

	var totalFreed int64
	var totalDeletes int

	for _, p := range projects {
		store := snapshot.NewStore(cfg.BackupRoot, p.Name)
		entries, err := store.ScanArchive()
		if err != nil {
			return fmt.Errorf("failed to scan %s: %w", p.Name, err)
		}

		plan := retention.BuildPlan(entries, now, tiers)
		stats := retention.Count(entries, now, tiers)

		table.Append(p.Name,
			fmt.Sprintf("%d", stats.Hourly),
			fmt.Sprintf("%d", stats.Daily),
			fmt.Sprintf("%d", stats.Weekly),
			fmt.Sprintf("%d", stats.Monthly),
			fmt.Sprintf("%d", len(plan.Delete)),
			humanize.Bytes(uint64(plan.FreedBytes)),
		)

		totalFreed += plan.FreedBytes
		totalDeletes += len(plan.Delete)

		if pruneApply && len(plan.Delete) > 0 {
			removed, err := store.Apply(plan.Delete)
			if err != nil {
				return fmt.Errorf("failed to prune %s: %w", p.Name, err)
			}
			fmt.Printf("pruned %d snapshot(s) from %s\n", removed, p.Name)
		}
	}

	table.Render()

	if !pruneApply && totalDeletes > 0 {
		fmt.Printf("\n%d snapshot(s) prunable, %s reclaimable. Run with --apply to delete.\n",
			totalDeletes, humanize.Bytes(uint64(totalFreed)))
	}

	return nil
}

func init() {
	pruneCmd.Flags().BoolVar(&pruneApply, "apply", false, "Delete the prunable snapshots")
	rootCmd.AddCommand(pruneCmd)
}
