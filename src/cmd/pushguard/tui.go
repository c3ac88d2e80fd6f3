package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"pushguard/src/internal/guard"
	"pushguard/src/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Interactive task list",
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, err := openGateway()
		if err != nil {
			return err
		}
		defer gw.Close()

		// the alt screen owns the terminal, so logs go to a file
		logFile, err := os.OpenFile(filepath.Join(gw.Config.StorageDir, "pushguard.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		defer logFile.Close()
		setupLogging(logFile)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		return tui.Run(ctx, tui.Options{
			Backend:  gw.Client,
			Cache:    gw.Cache,
			HasToken: gw.HasToken,
			Guard:    gw.Config.Guard,
			OnBlock:  func(b guard.Block) { gw.RecordBlock(ctx, b) },
			Username: gw.Config.Backend.Username,
		})
	},
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}
