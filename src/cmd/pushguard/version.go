package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pushguard/src/internal/system"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show pushguard and backend versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("pushguard %s (%s)\n", version, system.GetInfo())

		gw, err := openGateway()
		if err != nil {
			return err
		}
		defer gw.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		backend, err := gw.Client.Version(ctx)
		if err != nil {
			fmt.Printf("backend unreachable: %v\n", err)
			return nil
		}
		fmt.Printf("backend %s (%s)\n", backend, gw.Config.Backend.BaseURL)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
