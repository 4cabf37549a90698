package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/0xPuncker/job-scheduler/internal/api"
	"github.com/0xPuncker/job-scheduler/internal/config"
	"github.com/0xPuncker/job-scheduler/internal/metrics"
	"github.com/0xPuncker/job-scheduler/internal/notifications"
	"github.com/0xPuncker/job-scheduler/internal/scheduler"
	"github.com/0xPuncker/job-scheduler/internal/store"
	"github.com/dimiro1/banner"
	"github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"
)

const bannerText = `
{{ .Title "Job Scheduler" "" 0 }}
{{ .AnsiBackground.BrightBlue }}{{ .AnsiColor.White }}
{{ .AnsiReset }}
`

func main() {
	banner.Init(colorable.NewColorableStdout(), true, true, strings.NewReader(bannerText))

	configPath := flag.String("config", "config/config.json", "path to config file")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:          false,
		DisableTimestamp:       false,
		TimestampFormat:        "2006-01-02T15:04:05-07:00",
		DisableLevelTruncation: false,
		PadLevelText:           false,
	})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		level, err := logrus.ParseLevel(lvl)
		if err != nil {
			logger.Warnf("Invalid LOG_LEVEL %q, keeping %s", lvl, logger.GetLevel())
		} else {
			logger.SetLevel(level)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, store.Config{Driver: cfg.Store.Driver, DSN: cfg.Store.DSN})
	if err != nil {
		logger.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()
	logger.WithField("driver", cfg.Store.Driver).Info("Store ready")

	sched := scheduler.New(st, logger, schedulerConfig(logger, cfg))

	var notifier *notifications.NotificationService
	if cfg.Slack.WebhookURL != "" {
		slack, err := notifications.NewSlackService(logger, cfg.Slack.WebhookURL)
		if err != nil {
			logger.Warnf("Failed to initialize Slack service: %v", err)
		} else {
			notifier = notifications.NewNotificationService(slack, cfg.Slack.NotifyOn)
			sched.SetNotifier(notifier)
		}
	}

	if cfg.Redis.Addr != "" {
		redisMetrics := metrics.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := redisMetrics.Ping(ctx); err != nil {
			logger.Warnf("Redis metrics disabled: %v", err)
			redisMetrics.Close()
		} else {
			sched.SetMetrics(redisMetrics)
			defer redisMetrics.Close()
		}
	}

	seeds, err := config.LoadJobSeeds(cfg.JobsFile)
	if err != nil {
		logger.Fatalf("Failed to load job seeds: %v", err)
	}
	if n, err := sched.SeedJobs(ctx, seeds); err != nil {
		logger.Fatalf("Failed to seed jobs: %v", err)
	} else if n > 0 {
		logger.WithField("jobs", n).Info("Seeded jobs")
	}

	readTimeout, writeTimeout, err := cfg.Server.Timeouts()
	if err != nil {
		logger.Fatalf("Invalid server config: %v", err)
	}
	handler := api.NewHandler(st, sched, logger)
	server := api.NewServer(handler, api.ServerOptions{
		Port:         cfg.Server.Port,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	if err := sched.Start(ctx); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}
	if notifier != nil {
		go notifyStartup(ctx, logger, st, notifier)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	logger.Infof("Server started on port %s - Press Ctrl+C to stop.", cfg.Server.Port)

	<-stop
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	sched.Stop()
	cancel()

	logger.Info("Server stopped")
}

func schedulerConfig(logger *logrus.Logger, cfg *config.Config) scheduler.Config {
	interval, err := cfg.Scheduler.PollIntervalDuration()
	if err != nil {
		logger.Fatalf("Invalid scheduler config: %v", err)
	}
	timeout, err := cfg.Scheduler.JobTimeoutDuration()
	if err != nil {
		logger.Fatalf("Invalid scheduler config: %v", err)
	}
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		logger.Fatalf("Invalid scheduler config: %v", err)
	}

	return scheduler.Config{
		PollInterval:   interval,
		MaxConcurrent:  cfg.Scheduler.MaxConcurrent,
		JobTimeout:     timeout,
		MaxOutputBytes: cfg.Scheduler.MaxOutputBytes,
		Shell:          cfg.Scheduler.Shell,
		Location:       loc,
	}
}

func notifyStartup(ctx context.Context, logger *logrus.Logger, st store.Store, notifier *notifications.NotificationService) {
	jobs, err := st.ListJobs(ctx)
	if err != nil {
		logger.Warnf("Startup notification skipped: %v", err)
		return
	}
	enabled := 0
	for _, j := range jobs {
		if j.Enabled {
			enabled++
		}
	}
	if err := notifier.NotifyStartup(ctx, enabled, len(jobs)); err != nil {
		logger.Warnf("Failed to send startup notification: %v", err)
	}
}
