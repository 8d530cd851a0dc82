package main

import (
	"context"
	"log"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "github.com/lib/pq"

	"github.com/gratefultolord/natal_chart_bot/internal/bot"
	"github.com/gratefultolord/natal_chart_bot/internal/config"
	"github.com/gratefultolord/natal_chart_bot/internal/files"
	"github.com/gratefultolord/natal_chart_bot/internal/logging"
	"github.com/gratefultolord/natal_chart_bot/internal/payment"
	"github.com/gratefultolord/natal_chart_bot/internal/pdf"
	"github.com/gratefultolord/natal_chart_bot/internal/report"
	"github.com/gratefultolord/natal_chart_bot/internal/storage"
	"github.com/gratefultolord/natal_chart_bot/internal/webhook"
)

const startupAttempts = 5

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	logger := logging.New(cfg.LogLevel)

	var store storage.Store
	if cfg.Storage == "memory" {
		store = storage.NewMemory()
		logger.Warn().Msg("using in-memory storage, data will not survive a restart")
	} else {
		pgStore, err := storage.NewPostgres(cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("cannot connect to database")
		}

		if err := pgStore.RunMigrations("db_scripts/init.sql"); err != nil {
			logger.Fatal().Err(err).Msg("cannot run migrations")
		}

		store = pgStore
	}
	defer store.Close()

	// Only one consumer may poll the bot token; a lingering previous
	// instance shows up as a startup conflict, so retry with backoff
	// before giving up.
	var botAPI *tgbotapi.BotAPI
	backoff := time.Second
	for attempt := 1; ; attempt++ {
		botAPI, err = tgbotapi.NewBotAPI(cfg.BotToken)
		if err == nil {
			break
		}

		if attempt == startupAttempts {
			logger.Fatal().Err(err).Int("attempts", attempt).Msg("cannot connect to telegram")
		}

		logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("telegram connect failed, retrying")
		time.Sleep(backoff)
		backoff *= 2
	}

	fileService, err := files.NewFileService(cfg.ReportsDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot create file service")
	}

	provider := payment.NewProvider(cfg.PaymentAPIURL, cfg.PaymentShopID, cfg.PaymentSecretKey)
	payments := payment.NewOrchestrator(store, provider, cfg.ReportPrice, cfg.PaymentReturnURL, logger)

	var generator report.Generator
	if cfg.OpenAIKey != "" {
		generator = report.NewOpenAIGenerator(cfg.OpenAIKey, cfg.OpenAIModel)
	} else {
		generator = report.StaticGenerator{}
		logger.Warn().Msg("OPENAI_API_KEY not set, static report text will be used")
	}

	renderer := pdf.NewRenderer(cfg.ReportFontPath)
	pipeline := report.NewPipeline(store, botAPI, generator, renderer, fileService, logger)

	botService := bot.New(botAPI, store, payments, pipeline, logger)
	payments.OnSucceeded(botService.NotifyPaymentSucceeded)

	mux := http.NewServeMux()
	webhook.NewHandler(payments, cfg.WebhookToken, logger).Register(mux)

	go func() {
		logger.Info().Str("addr", cfg.WebhookAddr).Msg("webhook server listening")
		if err := http.ListenAndServe(cfg.WebhookAddr, mux); err != nil {
			logger.Fatal().Err(err).Msg("webhook server failed")
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()

		for range ticker.C {
			marked, err := payments.DetectStuck(context.Background(), cfg.StuckThreshold)
			if err != nil {
				logger.Error().Err(err).Msg("stuck sweep failed")
				continue
			}

			if marked > 0 {
				logger.Warn().Int("marked", marked).Msg("stuck generations annotated")
			}
		}
	}()

	logger.Info().Str("username", botAPI.Self.UserName).Msg("bot started")

	botService.Start()
}
