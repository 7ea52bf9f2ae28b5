package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clinssen/bmtk/internal/api"
	"github.com/clinssen/bmtk/internal/mcp"
	"github.com/clinssen/bmtk/internal/ratelimit"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve recorded runs over HTTP",
		Long: `Start an HTTP server exposing recorded builds:

  GET /api/runs
  GET /api/runs/{run}
  GET /api/runs/{run}/populations?namespace=real|virtual
  GET /api/runs/{run}/populations/{population}/handles?ids=0,1&namespace=real|virtual

The run "latest" names the newest build.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			rate, _ := cmd.Flags().GetFloat64("rate")
			burst, _ := cmd.Flags().GetInt("burst")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var opts []api.Option
			if rate > 0 {
				opts = append(opts, api.WithLimiter(ratelimit.NewLimiter(rate, burst)))
			}
			return api.New(st, newLogger(cfg, cmd.ErrOrStderr()), opts...).ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().String("addr", "127.0.0.1:8787", "Listen address")
	cmd.Flags().Float64("rate", 10, "Requests per second allowed per client (0 disables limiting)")
	cmd.Flags().Int("burst", 20, "Burst size per client")

	return cmd
}

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Run as an MCP server over stdio",
		Long: `Expose recorded builds to AI tools via the Model Context Protocol.

Tools: pointnet_runs, pointnet_populations, pointnet_resolve
Resource: pointnet://runs/latest`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			// stdout carries the protocol; logs go to stderr.
			server, err := mcp.NewServer(&mcp.Config{
				Name:    "pointnet",
				Version: version,
				Store:   st,
				Logger:  newLogger(cfg, os.Stderr),
			})
			if err != nil {
				return fmt.Errorf("creating MCP server: %w", err)
			}

			return server.Run(cmd.Context())
		},
	}
}
