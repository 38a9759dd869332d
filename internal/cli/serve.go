package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tOgg1/approvalq/internal/api"
	"github.com/tOgg1/approvalq/internal/ingest"
	"github.com/tOgg1/approvalq/internal/logging"
	"github.com/tOgg1/approvalq/internal/scheduler"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, HTTP API and Kafka consumer",
	Long: `Run the long-lived engine: the periodic sweep, the HTTP API and, when
enabled, the Kafka approval-event consumer. Stops on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		eng, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		logger := logging.Component("serve")
		logger.Info().
			Str("version", appVersion).
			Strs("instances", eng.registry.Sorted()).
			Msg("approvalq starting")

		email := eng.cfg.Email
		logger.Debug().Fields(logging.RedactMap(map[string]any{
			"environment":      email.Environment,
			"transport_host":   email.TransportHost,
			"transport_port":   email.TransportPort,
			"transport_user":   email.TransportUser,
			"transport_secret": email.TransportSecret,
			"offline_mode":     email.OfflineMode,
		})).Msg("email transport")

		if err := eng.provider.ValidateConfig(); err != nil {
			logger.Warn().Err(err).Msg("notification provider is not usable; sweeps will report configuration errors")
		}

		g, gctx := errgroup.WithContext(ctx)

		if eng.cfg.Scheduler.Enabled {
			sched := scheduler.New(eng.sweeper, eng.cfg.Scheduler.SweepInterval)
			if err := sched.Start(gctx); err != nil {
				return err
			}
			g.Go(func() error {
				<-gctx.Done()
				sched.Stop()
				return nil
			})
		}

		if eng.cfg.HTTP.Enabled {
			server := api.NewServer(eng.enqueue, eng.sweeper, eng.registry, api.Options{
				Addr:           eng.cfg.HTTP.Addr,
				AllowedOrigins: eng.cfg.HTTP.AllowedOrigins,
			})
			g.Go(func() error { return server.ListenAndServe(gctx) })
		}

		if eng.cfg.Kafka.Enabled {
			consumer, err := ingest.NewConsumer(eng.cfg.Kafka, ingest.NewHandler(eng.enqueue))
			if err != nil {
				return err
			}
			g.Go(func() error {
				defer consumer.Close()
				err := consumer.Run(gctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		}

		err = g.Wait()
		logger.Info().Msg("approvalq stopped")
		return err
	},
}
