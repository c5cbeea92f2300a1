package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/matsen/litsearch/internal/server"
)

var (
	serveAddr  string
	serveWatch bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8080", "Listen address")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "Reload the index when another process publishes a snapshot")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve queries over HTTP",
	Long: `Serve the query engine over HTTP:

  POST /v1/query     {"query": "...", "k": 10, "filters": {...}}
  POST /v1/rebuild   {"mode": "full" | "incremental"}
  GET  /v1/stats
  GET  /healthz
  GET  /metrics      Prometheus metrics

The server keeps answering queries from the previous snapshot while a
rebuild runs and switches over once the new snapshot is published.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.engine.Active() == nil {
		logger.Warn("serving without an index; POST /v1/rebuild to build one")
	}

	srv := server.New(a.engine, a.registry, logger)

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		return srv.ListenAndServe(ctx, serveAddr)
	})
	if serveWatch {
		g.Go(func() error {
			if err := a.engine.Watch(ctx); err != nil {
				return fmt.Errorf("watching snapshots: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}
