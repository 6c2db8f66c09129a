package cmd

import (
	"fmt"
	"os"

	"packrat/internal/config"
	"packrat/internal/db"
	"packrat/internal/logger"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	cfg   *config.Config
	gdb   *gorm.DB
	debug bool
)

var rootCmd = &cobra.Command{
	Use:   "packrat",
	Short: "Continuous backup orchestration for project directories",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		logger.Init(debug)

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		// Client commands talk to the daemon or read state files only.
		clientCmds := map[string]bool{
			"status": true, "stop": true, "trigger": true,
			"install": true, "uninstall": true, "watchdog": true,
		}
		if !clientCmds[cmd.Name()] {
			if gdb, err = db.Open(cfg.DBPath); err != nil {
				return err
			}
		}

		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func daemonURL(path string) string {
	return fmt.Sprintf("http://localhost:%d%s", cfg.DaemonPort, path)
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}
