package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	BotToken string

	Storage    string
	DBUser     string
	DBPassword string
	DBName     string
	DBHost     string
	DBPort     string

	PaymentShopID    string
	PaymentSecretKey string
	PaymentAPIURL    string
	PaymentReturnURL string
	ReportPrice      int64

	WebhookAddr  string
	WebhookToken string

	OpenAIKey   string
	OpenAIModel string

	ReportFontPath string
	ReportsDir     string

	StuckThreshold time.Duration
	SweepInterval  time.Duration

	LogLevel string
}

func Load() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Printf("config.Load: no .env file found - using env variables")
	}

	cfg := &Config{
		BotToken:         os.Getenv("BOT_TOKEN"),
		Storage:          os.Getenv("STORAGE"),
		DBUser:           os.Getenv("DB_USER"),
		DBPassword:       os.Getenv("DB_PASSWORD"),
		DBName:           os.Getenv("DB_NAME"),
		DBHost:           os.Getenv("DB_HOST"),
		DBPort:           os.Getenv("DB_PORT"),
		PaymentShopID:    os.Getenv("PAYMENT_SHOP_ID"),
		PaymentSecretKey: os.Getenv("PAYMENT_SECRET_KEY"),
		PaymentAPIURL:    os.Getenv("PAYMENT_API_URL"),
		PaymentReturnURL: os.Getenv("PAYMENT_RETURN_URL"),
		WebhookAddr:      os.Getenv("WEBHOOK_ADDR"),
		WebhookToken:     os.Getenv("WEBHOOK_TOKEN"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      os.Getenv("OPENAI_MODEL"),
		ReportFontPath:   os.Getenv("REPORT_FONT_PATH"),
		ReportsDir:       os.Getenv("REPORTS_DIR"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("config.Load: BOT_TOKEN is required")
	}

	if cfg.Storage == "" {
		cfg.Storage = "postgres"
	}

	if cfg.Storage != "postgres" && cfg.Storage != "memory" {
		return nil, fmt.Errorf("config.Load: STORAGE must be postgres or memory, got %q", cfg.Storage)
	}

	if cfg.Storage == "postgres" {
		if cfg.DBUser == "" || cfg.DBPassword == "" || cfg.DBName == "" {
			return nil, fmt.Errorf("config.Load: DB_USER, DB_PASSWORD, DB_NAME are required")
		}
	}

	if cfg.DBHost == "" {
		cfg.DBHost = "localhost"
	}

	if cfg.DBPort == "" {
		cfg.DBPort = "5432"
	}

	if cfg.PaymentShopID == "" || cfg.PaymentSecretKey == "" {
		return nil, fmt.Errorf("config.Load: PAYMENT_SHOP_ID and PAYMENT_SECRET_KEY are required")
	}

	if cfg.PaymentAPIURL == "" {
		cfg.PaymentAPIURL = "https://api.yookassa.ru/v3"
	}

	if cfg.PaymentReturnURL == "" {
		return nil, fmt.Errorf("config.Load: PAYMENT_RETURN_URL is required")
	}

	cfg.ReportPrice, err = envInt64("REPORT_PRICE_KOPECKS", 49900)
	if err != nil {
		return nil, err
	}

	if cfg.WebhookAddr == "" {
		cfg.WebhookAddr = ":8081"
	}

	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o"
	}

	if cfg.ReportsDir == "" {
		cfg.ReportsDir = "report_files"
	}

	thresholdMin, err := envInt64("STUCK_THRESHOLD_MINUTES", 30)
	if err != nil {
		return nil, err
	}
	cfg.StuckThreshold = time.Duration(thresholdMin) * time.Minute

	sweepMin, err := envInt64("SWEEP_INTERVAL_MINUTES", 10)
	if err != nil {
		return nil, err
	}
	cfg.SweepInterval = time.Duration(sweepMin) * time.Minute

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

func envInt64(name string, def int64) (int64, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config.Load: %s must be an integer: %w", name, err)
	}

	return v, nil
}
