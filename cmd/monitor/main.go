package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/regsentry/regulatory-monitor-backend/internal/api/rest"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/job"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/monitoring"
	"github.com/regsentry/regulatory-monitor-backend/internal/domain/notification"
	"github.com/regsentry/regulatory-monitor-backend/internal/infrastructure/cache"
	"github.com/regsentry/regulatory-monitor-backend/internal/infrastructure/config"
	"github.com/regsentry/regulatory-monitor-backend/internal/infrastructure/database"
	"github.com/regsentry/regulatory-monitor-backend/internal/infrastructure/fetch"
	"github.com/regsentry/regulatory-monitor-backend/internal/infrastructure/telemetry"
	"github.com/regsentry/regulatory-monitor-backend/internal/infrastructure/transport"
	"github.com/regsentry/regulatory-monitor-backend/internal/metrics"
	"github.com/regsentry/regulatory-monitor-backend/internal/service/assessor"
	"github.com/regsentry/regulatory-monitor-backend/internal/service/detector"
	"github.com/regsentry/regulatory-monitor-backend/internal/service/notifier"
	"github.com/regsentry/regulatory-monitor-backend/internal/service/scheduler"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatalf("monitor: %v", err)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	zapLogger, err := telemetry.NewZapLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer zapLogger.Sync()

	slogger, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create slog logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.InitializeOpenTelemetry(ctx, &telemetry.Config{
		ServiceName:    "regmon-backend",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		ExportTimeout:  cfg.Telemetry.ExportTimeout,
		BatchTimeout:   cfg.Telemetry.BatchTimeout,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			zapLogger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	registry, err := metrics.NewRegistry("regmon-backend")
	if err != nil {
		return fmt.Errorf("create metrics registry: %w", err)
	}

	pool, err := database.NewPool(ctx, &cfg.Database, zapLogger)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	redisClient, err := cache.NewRedisClient(&cfg.Redis, zapLogger)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisClient.Close()

	store := database.NewStore(pool)
	dashboard := transport.NewDashboardHub(zapLogger)

	notifierSvc := notifier.NewService(
		buildRouting(cfg.Routing),
		buildTransports(cfg, dashboard, zapLogger),
		cache.NewRedisDigestQueue(redisClient, zapLogger),
		cfg.Pipeline.DeliveryTimeout,
		zapLogger,
	).WithMetrics(registry)

	schedulerSvc := scheduler.NewService(
		buildSchedulerConfig(cfg),
		fetch.NewHTTPFetcher(cfg.Sources, cfg.Pipeline.FetchTimeout, zapLogger),
		fetch.NewComplianceClient(cfg.Compliance, zapLogger),
		store,
		detector.NewService(buildThresholds(cfg.Thresholds), zapLogger),
		assessor.NewService(zapLogger),
		notifierSvc,
		zapLogger,
	).WithMetrics(registry)

	for _, jobCfg := range cfg.Jobs {
		schedule := job.Schedule{
			Frequency: job.Frequency(jobCfg.Frequency),
			Hour:      jobCfg.Hour,
			Minute:    jobCfg.Minute,
			Weekday:   time.Weekday(jobCfg.Weekday),
		}
		if err := schedulerSvc.AddJob(jobCfg.Name, schedule, jobCfg.MaxRetries); err != nil {
			return fmt.Errorf("register job %s: %w", jobCfg.Name, err)
		}
	}

	schedulerSvc.Start(ctx)
	defer schedulerSvc.Stop()

	go runDigestFlusher(ctx, notifierSvc, buildRecipients(cfg.Recipients), zapLogger)

	var rateLimiter cache.RateLimiter
	if cfg.Server.RateLimit.Enabled {
		rateLimiter = cache.NewRedisRateLimiter(redisClient, zapLogger)
	}

	router := rest.NewRouter(rest.RouterConfig{
		Handler: rest.NewHandler(store, schedulerSvc, slogger),
		Health: rest.NewHealthHandler(map[string]rest.Pinger{
			"postgres": pool,
			"redis":    redisPinger{redisClient},
		}, slogger),
		Dashboard:         dashboard,
		RateLimiter:       rateLimiter,
		RequestsPerMinute: cfg.Server.RateLimit.RequestsPerMinute,
		Registry:          registry,
		Logger:            slogger,
	})

	server := rest.NewServer(&cfg.Server, router, slogger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	zapLogger.Info("monitor started",
		zap.String("environment", cfg.Environment),
		zap.Int("sources", len(cfg.Sources)),
		zap.Int("jobs", len(cfg.Jobs)))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	return server.Shutdown(context.Background())
}

type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// runDigestFlusher delivers accumulated digests on their configured cadence:
// daily digests every morning, weekly digests on Monday morning.
func runDigestFlusher(ctx context.Context, svc *notifier.Service, recipients []notification.Recipient, logger *zap.Logger) {
	const flushHour = 7

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Hour() != flushHour {
				continue
			}
			for _, rcpt := range recipients {
				period := rcpt.Preference.Digest
				if period == notification.DigestNone || period == "" {
					continue
				}
				if period == notification.DigestWeekly && now.Weekday() != time.Monday {
					continue
				}
				for _, channel := range rcpt.Preference.DigestChannels {
					if _, err := svc.FlushDigest(ctx, rcpt, channel, string(period)); err != nil {
						logger.Warn("digest flush failed",
							zap.String("recipient", rcpt.ID),
							zap.String("channel", string(channel)),
							zap.Error(err))
					}
				}
			}
		}
	}
}

func buildThresholds(cfg config.ThresholdsConfig) detector.Thresholds {
	thresholds := detector.DefaultThresholds()
	if cfg.NoChange > 0 {
		thresholds.NoiseFloor = cfg.NoChange
	}
	if cfg.Clarified > 0 {
		thresholds.ClarifiedMin = cfg.Clarified
	}
	if cfg.Medium > 0 {
		thresholds.ModifiedMedMin = cfg.Medium
	}
	if cfg.High > 0 {
		thresholds.ModifiedHiMin = cfg.High
	}
	return thresholds
}

func buildRouting(raw map[string][]string) notification.RoutingTable {
	if len(raw) == 0 {
		return notification.DefaultRoutingTable()
	}
	table := make(notification.RoutingTable, len(raw))
	for severity, channels := range raw {
		converted := make([]notification.Channel, 0, len(channels))
		for _, channel := range channels {
			converted = append(converted, notification.Channel(channel))
		}
		table[monitoring.Severity(severity)] = converted
	}
	return table
}

func buildRecipients(raw []config.RecipientConfig) []notification.Recipient {
	recipients := make([]notification.Recipient, 0, len(raw))
	for _, rc := range raw {
		channels := make([]notification.Channel, 0, len(rc.Channels))
		for _, c := range rc.Channels {
			channels = append(channels, notification.Channel(c))
		}
		digestChannels := make([]notification.Channel, 0, len(rc.DigestChannels))
		for _, c := range rc.DigestChannels {
			digestChannels = append(digestChannels, notification.Channel(c))
		}
		recipients = append(recipients, notification.Recipient{
			ID: rc.ID,
			Preference: notification.Preference{
				Recipient:      rc.ID,
				NotifyCritical: rc.NotifyCritical,
				NotifyHigh:     rc.NotifyHigh,
				NotifyMedium:   rc.NotifyMedium,
				NotifyLow:      rc.NotifyLow,
				Channels:       channels,
				Digest:         notification.DigestFrequency(rc.Digest),
				DigestChannels: digestChannels,
			},
		})
	}
	return recipients
}

func buildTransports(cfg *config.Config, dashboard *transport.DashboardHub, logger *zap.Logger) map[notification.Channel]notifier.Transport {
	addresses := make(map[string]string)
	phones := make(map[string]string)
	webhooks := make(map[string]string)
	for _, rc := range append(append([]config.RecipientConfig{}, cfg.Recipients...), cfg.Operators...) {
		if rc.Email != "" {
			addresses[rc.ID] = rc.Email
		}
		if rc.Phone != "" {
			phones[rc.ID] = rc.Phone
		}
		if rc.WebhookURL != "" {
			webhooks[rc.ID] = rc.WebhookURL
		}
	}

	return map[notification.Channel]notifier.Transport{
		notification.ChannelEmail:     transport.NewEmailTransport(cfg.Transports.Email, addresses, logger),
		notification.ChannelSMS:       transport.NewSMSTransport(cfg.Transports.SMS, phones, logger),
		notification.ChannelWebhook:   transport.NewWebhookTransport(cfg.Transports.Webhook, webhooks, logger),
		notification.ChannelDashboard: dashboard,
		notification.ChannelInApp:     dashboard,
	}
}

func buildSchedulerConfig(cfg *config.Config) scheduler.Config {
	sources := make([]scheduler.SourceRef, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		sources = append(sources, scheduler.SourceRef{
			SourceID:     src.SourceID,
			RegulationID: src.RegulationID,
		})
	}
	systems := make([]scheduler.SystemRef, 0, len(cfg.Systems))
	for _, sys := range cfg.Systems {
		systems = append(systems, scheduler.SystemRef{
			SystemID:    sys.SystemID,
			Regulations: sys.Regulations,
		})
	}
	return scheduler.Config{
		Sources:           sources,
		Systems:           systems,
		Recipients:        buildRecipients(cfg.Recipients),
		Operators:         buildRecipients(cfg.Operators),
		Workers:           cfg.Pipeline.Workers,
		FetchTimeout:      cfg.Pipeline.FetchTimeout,
		SourceMinInterval: cfg.Pipeline.SourceMinInterval,
		BaseRetryDelay:    cfg.Pipeline.BaseRetryDelay,
		MaxRetryDelay:     cfg.Pipeline.MaxRetryDelay,
		AlertCooldown:     cfg.Pipeline.AlertCooldown,
		AllOrNothing:      cfg.Pipeline.AllOrNothing,
		TopActions:        cfg.Pipeline.TopActions,
	}
}
