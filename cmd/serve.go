package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enricher/internal/model"
	"github.com/sells-group/contact-enricher/internal/monitoring"
	"github.com/sells-group/contact-enricher/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the job trigger server and schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		mb, err := initSearcher(ctx, cfg)
		if err != nil {
			return err
		}
		scanner := newScanner(st, mb, cfg)
		reconciler := newReconciler(st, initBullhorn(cfg), cfg)

		runner := server.NewRunner(ctx, map[model.RunKind]server.Job{
			model.RunKindScan:      scanner.Run,
			model.RunKindReconcile: reconciler.Run,
		})
		defer runner.Wait()

		sched, err := server.NewScheduler(runner, server.Schedules{
			Scan:      cfg.Server.ScanSchedule,
			Reconcile: cfg.Server.ReconcileSchedule,
			Timeout:   time.Duration(cfg.Server.JobTimeoutMins) * time.Minute,
		})
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()

		srv := server.New(server.Config{
			Port:           cfg.Server.Port,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}, runner, st)

		monCfg := monitoringConfig(cfg)
		collector := monitoring.NewCollector(st)
		srv.WithMetrics(func(ctx context.Context) (any, error) {
			return collector.Collect(ctx, monCfg.LookbackWindowHours)
		})
		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(monCfg), monCfg)
			go checker.Run(ctx)
		}

		err = srv.ListenAndServe(ctx)
		zap.L().Info("server stopped, waiting for running jobs")
		return err
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
