package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"

	"challenge-tasks/config"
	"challenge-tasks/database"
	"challenge-tasks/events"
	"challenge-tasks/handlers"
	"challenge-tasks/metrics"
	"challenge-tasks/models"
	"challenge-tasks/services"
	"challenge-tasks/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer kp.Close()
		publisher = kp
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing domain events to Kafka")
	}

	clock := clockwork.NewRealClock()
	calendar, err := utils.LoadCalendar(clock, cfg.Schedule.Timezone)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid TIMEZONE")
	}
	converter, err := utils.NewCurrencyConverter(cfg.DefaultCurrency)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid DEFAULT_CURRENCY")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	notifier := services.NewRedisNotifier(rdb, cfg.NotificationLimit, clock, publisher, logger)
	stats := services.NewStatsService(db, calendar, converter, logger)
	wallets := services.NewWalletService(db, clock, cfg.WalletHistoryLimit, publisher, m, logger)
	set := services.TaskSet{
		Reminders: services.NewReminderService(db, notifier, calendar, cfg.ReminderLeadDays, m, logger),
		Lifecycle: services.NewLifecycleService(db, stats, notifier, publisher, calendar, m, logger),
		Scores:    services.NewScoresService(db, wallets, stats, notifier, publisher, converter, calendar, cfg.ReleaseMaxAttempts, m, logger),
		Stats:     stats,
	}
	runner := services.NewRunner(services.MidnightTasks(set, cfg.Tasks), clock, m, logger)
	if _, err := runner.Plan(); err != nil {
		logger.Fatal().Err(err).Msg("invalid task graph")
	}

	opts := services.TriggerOptions{
		MaxRetries:   cfg.Schedule.MaxRetries,
		RetryBackoff: cfg.Schedule.RetryBackoff,
	}
	if cfg.R2.Enabled() {
		archive, err := utils.NewReportArchive(ctx, cfg.R2, cfg.ServiceName, calendar.Location())
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize R2 client")
		}
		opts.Archive = archive
	} else {
		logger.Info().Msg("R2 not configured, run reports will not be archived")
	}
	trigger := services.NewTrigger(db, runner, clock, opts, m, logger)

	scheduler, err := services.NewScheduler(ctx, trigger, calendar, cfg.Schedule.Cron, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create scheduler")
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	handlers.SetupAdminRoutes(app, &handlers.AdminHandler{
		Trigger:       trigger,
		Runner:        runner,
		Wallets:       wallets,
		Stats:         stats,
		Notifications: notifier,
		Checks: map[string]handlers.HealthCheck{
			"database": func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
			"redis": func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		},
		Logger: logger.With().Str("component", "http").Logger(),
	}, cfg.ServiceToken, registry)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("admin server listening")
		return app.Listen(cfg.HTTPAddr)
	})

	g.Go(func() error {
		scheduler.Start()
		if cfg.Schedule.RunOnStart {
			if _, err := trigger.Fire(gctx, models.TriggerManual); err != nil {
				logger.Error().Err(err).Msg("startup run failed")
			}
		}
		<-gctx.Done()
		return scheduler.Shutdown()
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("service stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("service stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var logger zerolog.Logger
	if cfg.LogPretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.With().Timestamp().Str("service", cfg.ServiceName).Logger()
}
