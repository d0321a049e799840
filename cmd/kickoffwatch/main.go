package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rewired-gh/kickoffwatch/internal/config"
	"github.com/rewired-gh/kickoffwatch/internal/discord"
	"github.com/rewired-gh/kickoffwatch/internal/feed"
	"github.com/rewired-gh/kickoffwatch/internal/logger"
	"github.com/rewired-gh/kickoffwatch/internal/metrics"
	"github.com/rewired-gh/kickoffwatch/internal/monitor"
	"github.com/rewired-gh/kickoffwatch/internal/names"
	"github.com/rewired-gh/kickoffwatch/internal/notify"
	"github.com/rewired-gh/kickoffwatch/internal/publish"
	"github.com/rewired-gh/kickoffwatch/internal/schedule"
	"github.com/rewired-gh/kickoffwatch/internal/storage"
	"github.com/rewired-gh/kickoffwatch/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()
	logger.Info("Configuration loaded from %s", *configPath)

	// Name matching
	normalizer, err := names.DefaultNormalizer().WithExtensions(cfg.Monitor.ExtraAbbreviations, cfg.Monitor.ExtraStopWords)
	if err != nil {
		logger.Fatal("Invalid name tables: %v", err)
	}
	matcher, err := names.NewMatcher(normalizer, cfg.Monitor.FuzzyMatchThreshold)
	if err != nil {
		logger.Fatal("Invalid matcher: %v", err)
	}

	mon := monitor.New(matcher, monitor.Options{
		ToleranceMinutes: cfg.Monitor.TimeVariationToleranceMinutes,
		IncludeLeague:    cfg.Monitor.IncludeLeague,
		GenericLeagues:   cfg.Monitor.GenericLeagues,
		MinLeadTime:      cfg.Monitor.MinLeadTime,
	})

	// Initialize storage
	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	sources, err := feedSources(cfg)
	if err != nil {
		logger.Fatal("Invalid source: %v", err)
	}
	feedClient := feed.NewClient(feed.Options{
		Timeout:        cfg.Feed.Timeout,
		MaxRetries:     cfg.Feed.MaxRetries,
		RetryDelayBase: cfg.Feed.RetryDelayBase,
		Concurrency:    cfg.Feed.Concurrency,
		Reference:      cfg.Location(),
	})

	planner := schedule.NewPlanner(schedule.Options{
		MinInterval:      cfg.Schedule.MinInterval,
		MaxInterval:      cfg.Schedule.MaxInterval,
		FallbackInterval: cfg.Schedule.FallbackInterval,
		BackoffBase:      cfg.Schedule.BackoffBase,
		BackoffMax:       cfg.Schedule.BackoffMax,
	})

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if cfg.Metrics.Enabled {
		srv := metrics.StartServer(cfg.Metrics.Addr, reg, store.Ping)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("Metrics server listening on %s", cfg.Metrics.Addr)
	}

	// Notifiers
	fanout := notify.NewFanout()
	fanout.OnFailure(func(name string, _ error) {
		m.NotificationsFailed.WithLabelValues(name).Inc()
	})

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		fanout.Add(telegramClient)
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	if cfg.Discord.Enabled {
		dn, err := discord.NewNotifier(cfg.Discord.BotToken, cfg.Discord.ChannelID)
		if err != nil {
			logger.Fatal("Failed to initialize Discord notifier: %v", err)
		}
		defer dn.Close()
		fanout.Add(dn)
		logger.Info("Discord notifier initialized for channel %s", cfg.Discord.ChannelID)
	}

	if cfg.Redis.Enabled {
		rp, err := publish.NewRedisPublisher(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel)
		if err != nil {
			logger.Fatal("Failed to initialize Redis publisher: %v", err)
		}
		defer rp.Close()
		fanout.Add(rp)
		logger.Info("Publishing conflicts to Redis channel %s", cfg.Redis.Channel)
	}

	if cfg.Kafka.Enabled {
		kp := publish.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kp.Close()
		fanout.Add(kp)
		logger.Info("Publishing conflicts to Kafka topic %s", cfg.Kafka.Topic)
	}

	svc := &service{
		cfg:      cfg,
		feed:     feedClient,
		sources:  sources,
		planner:  planner,
		mon:      mon,
		store:    store,
		notifier: fanout,
		metrics:  m,
	}

	logger.Info("Starting monitoring service (sources: %d, threshold: %.2f, tolerance: %.0fm, timezone: %s)",
		len(sources),
		cfg.Monitor.FuzzyMatchThreshold,
		cfg.Monitor.TimeVariationToleranceMinutes,
		cfg.Monitor.Timezone,
	)

	consecutiveFailures := 0

	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Monitoring cycle failed: %v", err)
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(ctx, err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
		} else {
			if consecutiveFailures > 0 && telegramClient != nil {
				if sendErr := telegramClient.SendRecovery(ctx, consecutiveFailures); sendErr != nil {
					logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
				}
			}
			consecutiveFailures = 0
		}
	}

	// Run initial cycle immediately, then let the planner pick the cadence
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return

		case <-timer.C:
			now := time.Now().In(cfg.Location())
			res, err := svc.runCycle(ctx, now)
			handleCycleResult(err)

			svc.prune(ctx, now)
			svc.logSourceReliability(ctx, now)

			next := cfg.Schedule.FallbackInterval
			if err == nil {
				next = planner.NextInterval(res.records, now)
			}
			logger.Info("Next cycle in %v", next)
			timer.Reset(next)
		}
	}
}
