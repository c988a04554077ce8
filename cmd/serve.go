package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/deploymenttheory/go-model-retrain/internal/bootstrap"
	"github.com/deploymenttheory/go-model-retrain/internal/config"
	"github.com/deploymenttheory/go-model-retrain/internal/scheduler"
	"github.com/deploymenttheory/go-model-retrain/internal/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the workflow on its schedule and serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Instance
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		schedule, err := scheduler.ParseSchedule(cfg.DAG.Schedule)
		if err != nil {
			return err
		}

		app, err := bootstrap.New(cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)
		sched := scheduler.New(ctx, schedule, app.Run, scheduler.WithRunOnStart(cfg.DAG.RunOnStart))
		api := server.New(app.History, sched, app.Registry)

		g.Go(func() error { return sched.Start(ctx) })
		g.Go(func() error { return api.ListenAndServe(ctx, cfg.Server.Addr) })
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides server.addr)")
}
