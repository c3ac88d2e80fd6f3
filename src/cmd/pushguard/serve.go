package main

import (
	"errors"
	"log/slog"
	"net"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pushguard/src/internal/api"
	"pushguard/src/internal/client"
	"pushguard/src/internal/system"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dev server: /api proxy, guard endpoints and the SPA",
	Long: `Serve the built console from server.static_dir and proxy /api to the
backend. Task listings passing through the proxy are sanitized into the
snapshot cache, exposed at /_guard/tasks and streamed on /_guard/ws.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, err := openGateway()
		if err != nil {
			return err
		}
		defer gw.Close()

		addr := gw.Config.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}
		if host, _, err := net.SplitHostPort(addr); err == nil && host != "127.0.0.1" && host != "localhost" && host != "::1" {
			slog.Warn("dev server bound to a non-loopback address", "addr", addr)
		}

		slog.Info("starting pushguard", "version", version, "runtime", system.GetInfo().String())
		server := api.NewServer(gw)
		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error {
			return server.ListenAndServe(ctx, addr)
		})
		g.Go(func() error {
			if !gw.HasToken() {
				slog.Info("not logged in, background refresh disabled")
				return nil
			}
			err := gw.Refresher.Run(ctx)
			if errors.Is(err, client.ErrUnauthorized) {
				// the browser keeps working through the proxy
				return nil
			}
			return err
		})
		err = g.Wait()
		system.LogMemoryUsage("serve shutdown")
		return err
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}
