package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/example/reservation-agent/internal/cancelbus"
	"github.com/example/reservation-agent/internal/clock"
	"github.com/example/reservation-agent/internal/config"
	"github.com/example/reservation-agent/internal/db"
	"github.com/example/reservation-agent/internal/domain/reservation"
	"github.com/example/reservation-agent/internal/httpapi"
	"github.com/example/reservation-agent/internal/mailbox"
	"github.com/example/reservation-agent/internal/metrics"
	"github.com/example/reservation-agent/internal/migrate"
	"github.com/example/reservation-agent/internal/notifyrouter"
	"github.com/example/reservation-agent/internal/orchestrator"
	"github.com/example/reservation-agent/internal/platform"
	"github.com/example/reservation-agent/internal/platform/opentable"
	"github.com/example/reservation-agent/internal/platform/resy"
	"github.com/example/reservation-agent/internal/platform/venuecache"
	"github.com/example/reservation-agent/internal/sniper"
	"github.com/example/reservation-agent/internal/store/postgres"
	"github.com/example/reservation-agent/internal/supervisor"
	"github.com/example/reservation-agent/internal/taskregistry"
	"github.com/example/reservation-agent/internal/tracing"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the acquisition orchestrator and its Control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}

			profiles, err := config.LoadAcquisitionProfiles(cfg.AcquisitionProfilePath)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			shutdownTracing, err := tracing.Setup(ctx, cfg.OTELEndpoint, Version)
			if err != nil {
				return fmt.Errorf("tracing setup: %w", err)
			}
			defer shutdownTracing(context.Background())

			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.Ping(ctx); err != nil {
				return fmt.Errorf("db ping: %w", err)
			}
			if migrateUp {
				if err := migrate.Up(ctx, d); err != nil {
					return err
				}
			}

			st := postgres.New(d)

			var redisClient *redis.Client
			if cfg.RedisAddr != "" {
				redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			}

			resyAdapter := venuecache.New(platform.NewRateLimited(
				resy.New(resy.Credentials{APIKey: cfg.ResyAPIKey, AuthToken: cfg.ResyAuthToken}),
				rate.Limit(2), 4,
			), redisClient)
			openTableAdapter := venuecache.New(platform.NewRateLimited(
				opentable.New(opentable.Credentials{Token: cfg.OpenTableToken, PersistedQuerySHA256: cfg.OpenTablePQHash}),
				rate.Limit(2), 4,
			), redisClient)

			platforms := map[reservation.Platform]reservation.Adapter{
				reservation.PlatformResy:      resyAdapter,
				reservation.PlatformOpenTable: openTableAdapter,
			}

			clk := clock.Real()
			bus := cancelbus.New()
			tasks := taskregistry.New()

			orch := orchestrator.New(st, platforms, clk, bus)

			snipers := map[reservation.Platform]*sniper.Sniper{}
			for p := range platforms {
				p := p
				snipers[p] = sniper.New(st, clk, bus, func(ctx context.Context, requestID int64, platform reservation.Platform) (reservation.BookOutcome, error) {
					return orch.TryPlatform(ctx, requestID, platform)
				}, p)
			}
			orch.Sniper = func(ctx context.Context, requestID int64) error {
				return snipers[orchestrator.Primary].Run(ctx, requestID)
			}

			router := notifyrouter.New(st, clk, orch.AutoBook, tasks)

			transport := buildTransport(cfg)
			defer transport.Close()
			go func() {
				if err := transport.Consume(ctx, router.Handle); err != nil && ctx.Err() == nil {
					log.Error().Err(err).Msg("notification transport consume loop exited")
				}
			}()

			if cfg.MailboxIMAPAddr != "" {
				poller := mailbox.NewIMAPPoller(cfg.MailboxIMAPAddr, cfg.MailboxIMAPUser, cfg.MailboxIMAPPassword, cfg.MailboxPollInterval, transport)
				go func() {
					if err := poller.Run(ctx); err != nil && ctx.Err() == nil {
						log.Error().Err(err).Msg("mailbox poller exited")
					}
				}()
			}

			sup := supervisor.New(st, func(ctx context.Context, requestID int64, status reservation.Status) error {
				// Dispatch onto the task registry rather than running the
				// resume inline: Sniper.Run blocks for the full pre-T0 wait
				// plus poll loop, and Supervisor.Run must return once resumes
				// are dispatched, not once they complete (supervisor.go's own
				// doc comment on Run), so the Control API can start listening
				// while long-waiting snipes are still in flight.
				tasks.Go(requestID, func(ctx context.Context) error {
					return resumeRequest(ctx, orch, snipers, status, requestID)
				})
				return nil
			})
			if err := sup.Run(ctx); err != nil {
				log.Error().Err(err).Msg("supervisor resume pass failed")
			}

			reg := prometheus.NewRegistry()
			for _, c := range metrics.Registry() {
				reg.MustRegister(c)
			}

			api := httpapi.New(st, bus, tasks,
				func(ctx context.Context, id int64) error { return orch.Submit(ctx, id) },
				func(ctx context.Context, id int64) error { return orch.Retry(ctx, id) },
				func(ctx context.Context, id int64) error { return orch.Cancel(ctx, id) },
				reg, profiles,
			)

			log.Info().Str("addr", cfg.ListenAddr).Msg("listening")
			return api.Run(cfg.ListenAddr)
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	return cmd
}

// resumeRequest re-dispatches a request left over from a prior process
// (spec §4.7), routing to the Orchestrator or directly to the Sniper
// depending on which stage it was interrupted in.
func resumeRequest(ctx context.Context, orch *orchestrator.Orchestrator, snipers map[reservation.Platform]*sniper.Sniper, status reservation.Status, requestID int64) error {
	switch status {
	case reservation.StatusWaiting, reservation.StatusPolling:
		return snipers[orchestrator.Primary].Run(ctx, requestID)
	case reservation.StatusNotifyReceived:
		return orch.AutoBook(ctx, requestID, orchestrator.Primary)
	case reservation.StatusSearching:
		// Submit is a no-op on anything but pending, so a request interrupted
		// mid-search needs the same reset-then-resubmit Retry already does
		// (spec §4.7: "become a fresh ... Submit attempt").
		return orch.Retry(ctx, requestID)
	default:
		return orch.Submit(ctx, requestID)
	}
}

func buildTransport(cfg config.Config) notifyrouter.Transport {
	if len(cfg.KafkaBrokers) > 0 {
		return notifyrouter.NewKafkaTransport(cfg.KafkaBrokers, cfg.KafkaTopic, "reservation-agent")
	}
	return notifyrouter.NewLocalTransport(64)
}
