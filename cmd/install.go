package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"packrat/internal/daemonctl"

	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install [path]",
	Short: "Register the watch daemon and watchdog as services",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		execPath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to get executable path: %w", err)
		}

		path := "."
		if len(args) > 0 {
			path = args[0]
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}

		mgr := daemonctl.New()

		watchName := cfg.ServicePrefix + "watch-" + filepath.Base(abs)
		if err := mgr.Install(daemonctl.Service{
			Name:        watchName,
			Description: fmt.Sprintf("Packrat backup daemon for %s", abs),
			ExecStart:   fmt.Sprintf("%s watch %s", execPath, abs),
		}); err != nil {
			return err
		}

		if err := mgr.Install(daemonctl.Service{
			Name:        watchdogServiceName,
			Description: "Packrat heartbeat watchdog",
			ExecStart:   execPath + " watchdog",
		}); err != nil {
			return err
		}

		fmt.Printf("installed %s and %s\n", watchName, watchdogServiceName)
		return nil
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove all registered packrat services",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := daemonctl.New()

		names, err := mgr.List(cfg.ServicePrefix)
		if err != nil {
			return err
		}

		for _, name := range names {
			if err := mgr.Uninstall(name); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", name)
		}

		if len(names) == 0 {
			fmt.Println("no packrat services installed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
}
