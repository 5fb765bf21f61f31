// cmd/notification-service/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"go.uber.org/zap"

	"crm-notifications/internal/api"
	"crm-notifications/internal/common/auth"
	"crm-notifications/internal/common/aws"
	"crm-notifications/internal/common/camunda"
	"crm-notifications/internal/common/config"
	"crm-notifications/internal/common/database"
	"crm-notifications/internal/common/logger"
	"crm-notifications/internal/common/observability"
	"crm-notifications/internal/notifications"
	pgsource "crm-notifications/internal/source/postgres"
	restsource "crm-notifications/internal/source/rest"
	digest "crm-notifications/internal/workers/notification/notification-digest"
	snooze "crm-notifications/internal/workers/notification/notification-snooze"
)

// retryWithBackoff retries operation with exponential backoff capped at 30s.
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		if err = operation(); err == nil {
			return nil
		}
		log.Warn("operation failed, retrying",
			zap.String("operation", operationName),
			zap.Int("attempt", i+1),
			zap.Int("maxRetries", maxRetries),
			zap.Duration("retryIn", delay),
			zap.Error(err),
		)
		time.Sleep(delay)
		delay *= 2
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}
	return err
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "console")
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("starting notification service",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
		zap.String("source", cfg.Upstream.Source),
	)

	obs := observability.New(cfg.App.Name, zapLog)
	defer obs.Shutdown(context.Background())

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Redis (view cache, realtime events, toasts) ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		if redis, err = database.NewRedis(cfg.Database.Redis); err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	checks := []api.Check{{Name: "redis", Probe: redis.Ping}}

	// --- Notification data source ---
	var store notifications.Store
	switch cfg.Upstream.Source {
	case config.SourceREST:
		store = restsource.New(restsource.Options{
			BaseURL:              cfg.Upstream.BaseURL,
			APIKey:               cfg.Upstream.APIKey,
			Timeout:              config.GetDuration(cfg.Upstream.Timeout),
			RenewalLookaheadDays: cfg.Notifications.RenewalLookaheadDays,
			NeglectThresholdDays: cfg.Notifications.NeglectThresholdDays,
		}, log)
		zapLog.Info("using REST notification source", zap.String("baseURL", cfg.Upstream.BaseURL))

	default:
		var pg *database.PostgresClient
		err = retryWithBackoff(func() error {
			var err error
			if pg, err = database.NewPostgres(cfg.Database.Postgres); err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()
		zapLog.Info("PostgreSQL connected successfully")

		store = pgsource.New(pg, pgsource.Options{
			RenewalLookaheadDays: cfg.Notifications.RenewalLookaheadDays,
			NeglectThresholdDays: cfg.Notifications.NeglectThresholdDays,
		})
		checks = append(checks, api.Check{Name: "postgres", Probe: pg.Ping})
	}

	// --- Notification service ---
	cache := notifications.NewRedisCache(redis.Client,
		cfg.Notifications.CacheTTLDuration(),
		cfg.Notifications.SnoozeCacheTTLDuration(),
	)

	var toaster notifications.Toaster = notifications.NewLogToaster(log)
	if cfg.Notifications.ToastChannel != "" {
		toaster = notifications.NewRedisToaster(redis.Client, cfg.Notifications.ToastChannel, log)
	}

	policy := notifications.SnoozeStrict
	if cfg.Notifications.UniversalSnoozeMatchesAll {
		policy = notifications.SnoozeUniversalMatchesAll
	}

	service := notifications.NewService(store, cache, toaster, notifications.Options{
		Policy:   policy,
		Years:    notifications.FixedYear(cfg.Notifications.EffectiveYear),
		Observer: obs,
	}, log)

	var wg sync.WaitGroup

	// --- Realtime subscriber ---
	subscriber := notifications.NewSubscriber(
		redis.Client,
		cfg.Notifications.EventsChannel,
		notifications.NewMerger(cache, log),
		log,
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := subscriber.Run(ctx); err != nil {
			zapLog.Error("realtime subscriber exited", zap.Error(err))
		}
	}()

	// --- Zeebe workers ---
	var workers []*camunda.CamundaWorker
	var zeebe *camunda.Client
	if cfg.Camunda.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
				GatewayAddress:         cfg.Camunda.BrokerAddress,
				UsePlaintextConnection: true,
				ConnectionTimeout:      10 * time.Second,
				RequestTimeout:         config.GetDuration(cfg.Camunda.RequestTimeout),
			})
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		defer zeebe.Close()
		zapLog.Info("Zeebe client connected successfully")
		checks = append(checks, api.Check{Name: "zeebe", Probe: zeebe.HealthCheck})

		workers = startWorkers(ctx, zeebe.GetClient(), cfg, service, obs, log)
	}

	// --- HTTP API ---
	tokens := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
	router := api.NewRouter(api.NewHandler(service, checks, log), tokens, log)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}
	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("HTTP server shutdown failed", zap.Error(err))
	}
	for _, w := range workers {
		w.Stop()
	}
	stop()
	wg.Wait()

	zapLog.Info("notification service stopped gracefully")
}

// startWorkers registers the notification job workers that are enabled.
func startWorkers(
	ctx context.Context,
	client zbc.Client,
	cfg *config.Config,
	service *notifications.Service,
	obs *observability.Observability,
	log logger.Logger,
) []*camunda.CamundaWorker {
	var workers []*camunda.CamundaWorker

	if config.IsWorkerEnabled(cfg, digest.TaskType) {
		var mailer digest.EmailSender
		var texter digest.SMSSender
		if cfg.Integrations.AWS.SES.Enabled || cfg.Integrations.AWS.SNS.Enabled {
			awsCfg, err := aws.LoadConfig(ctx, cfg.Integrations.AWS.Region)
			if err != nil {
				log.Error("AWS config load failed, digest delivery disabled", map[string]interface{}{"error": err})
			} else {
				if cfg.Integrations.AWS.SES.Enabled {
					mailer = aws.NewMailer(awsCfg, cfg.Integrations.AWS.SES.FromEmail)
				}
				if cfg.Integrations.AWS.SNS.Enabled {
					texter = aws.NewTexter(awsCfg, cfg.Integrations.AWS.SNS.DefaultSMSSenderID)
				}
			}
		}

		handler, err := digest.NewHandler(digest.ConfigFromApp(cfg), service, mailer, texter, log)
		if err != nil {
			log.Error("digest worker not started", map[string]interface{}{"error": err})
		} else if w := camunda.NewWorker(client, digest.TaskType, config.GetWorkerConfig(cfg, digest.TaskType), handler, obs, log); w != nil {
			workers = append(workers, w)
		}
	}

	if config.IsWorkerEnabled(cfg, snooze.TaskType) {
		wcfg := config.GetWorkerConfig(cfg, snooze.TaskType)
		handler := snooze.NewHandler(config.GetDuration(wcfg.Timeout), service, log)
		if w := camunda.NewWorker(client, snooze.TaskType, wcfg, handler, obs, log); w != nil {
			workers = append(workers, w)
		}
	}

	return workers
}
