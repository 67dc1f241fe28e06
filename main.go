package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"crosspost/pkg/config"
	"crosspost/pkg/media"
	"crosspost/pkg/monitor"
	"crosspost/pkg/queue"
	"crosspost/pkg/server"
	"crosspost/pkg/store"
	"crosspost/pkg/telegram"
	"crosspost/pkg/tiktok"
	"crosspost/pkg/utils"
)

func main() {
	log.Println("==========================================")

	// --- 0. 讀取設定檔 ---
	cfg, err := config.Load("config.json")
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v\n", err)
	}
	monitor.SetupSlog(cfg.LogLevel)

	if err := media.EnsureAvailable(); err != nil {
		slog.Warn("ffmpeg not found; photo posts cannot fall back to slideshow video", "error", err)
	}

	// --- 1. 持久層 ---
	db, err := store.Open(cfg.StorageDBPath)
	if err != nil {
		log.Fatalf("❌ Failed to open store: %v\n", err)
	}
	defer db.Close()

	// --- 2. 監控 ---
	bus := monitor.NewBus()
	wsMonitor := monitor.NewWSMonitor()
	bus.Register(monitor.NewCLIMonitor())
	bus.Register(wsMonitor)
	defer bus.Stop()

	// --- 3. Telegram & TikTok clients ---
	tg, err := telegram.NewClient(cfg.TGBotToken)
	if err != nil {
		log.Fatalf("❌ Failed to init Telegram client: %v\n", err)
	}
	defer tg.Stop()

	api := tiktok.NewClient()
	oauth := tiktok.NewOAuth(db, api, cfg)
	publisher := tiktok.NewPublisher(api, media.NewFFmpeg(), cfg)
	limiter := utils.NewRateLimiter(cfg.RateLimitPerMinute)
	aggregator := telegram.NewAggregator(db, cfg.MediaGroupFlushSeconds)

	// --- 4. Pipeline ---
	tasks := queue.NewTasks(db, cfg, tg, aggregator, oauth, publisher, limiter, bus)
	worker := queue.NewWorker(tasks, 256)
	worker.Start()
	defer worker.Stop()

	// --- 5. Telegram ingress: webhook 或 long polling ---
	if cfg.UseTGWebhook {
		if cfg.TGWebhookSecret == "" {
			log.Fatalf("❌ use_tg_webhook requires tg_webhook_secret to be set\n")
		}
		webhookURL := fmt.Sprintf("%s/tg/webhook/%s",
			strings.TrimRight(cfg.AppBaseURL, "/"), cfg.TGWebhookSecret)
		if err := tg.SetWebhook(webhookURL); err != nil {
			log.Fatalf("❌ Failed to register Telegram webhook: %v\n", err)
		}
		slog.Info("Telegram webhook registered", "url", webhookURL)
	} else {
		poller := telegram.NewPoller(tg, func(update *tgbotapi.Update) {
			if err := tasks.IngestUpdate(context.Background(), update); err != nil {
				slog.Error("polled update ingestion failed", "error", err)
			}
		}, cfg.TGPollingTimeoutSeconds,
			time.Duration(cfg.TGPollingIntervalSeconds*float64(time.Second)))
		go poller.Run()
		slog.Info("Telegram long polling started",
			"timeout_seconds", cfg.TGPollingTimeoutSeconds)
	}

	// --- 6. HTTP surface ---
	httpServer := server.New(cfg, db, tasks, oauth, wsMonitor)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.ListenAndServe()
	}()

	slog.Info("Bridge is running", "listen_addr", cfg.ListenAddr,
		"posting_mode", cfg.PostingMode)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		slog.Info("Shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			slog.Error("HTTP server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
}
