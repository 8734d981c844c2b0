package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Port            string
	ModelDir        string
	OrtLibraryPath  string
	SessionPoolSize int
	OverlayAlpha    float64
	Compositor      string
	TelegramToken   string
	LogLevel        logrus.Level
	RequestTimeout  time.Duration
	MaxUploadMB     int64
}

// MaxUploadBytes предел размера загрузки в байтах.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

func Load() (*Config, error) {
	// Загружаем .env файл (игнорируем ошибку если файла нет)
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		ModelDir:       getEnv("MODEL_DIR", "./models"),
		OrtLibraryPath: os.Getenv("ORT_LIB_PATH"),
		Compositor:     getEnv("COMPOSITOR", "native"),
		TelegramToken:  os.Getenv("TELEGRAM_TOKEN"),
	}

	var err error
	if cfg.SessionPoolSize, err = strconv.Atoi(getEnv("SESSION_POOL_SIZE", "2")); err != nil || cfg.SessionPoolSize < 1 {
		return nil, fmt.Errorf("invalid SESSION_POOL_SIZE: %q", os.Getenv("SESSION_POOL_SIZE"))
	}
	if cfg.OverlayAlpha, err = strconv.ParseFloat(getEnv("OVERLAY_ALPHA", "0.4"), 64); err != nil || cfg.OverlayAlpha < 0 || cfg.OverlayAlpha > 1 {
		return nil, fmt.Errorf("invalid OVERLAY_ALPHA: %q", os.Getenv("OVERLAY_ALPHA"))
	}
	if cfg.LogLevel, err = logrus.ParseLevel(getEnv("LOG_LEVEL", "info")); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	if cfg.RequestTimeout, err = time.ParseDuration(getEnv("REQUEST_TIMEOUT", "30s")); err != nil || cfg.RequestTimeout <= 0 {
		return nil, fmt.Errorf("invalid REQUEST_TIMEOUT: %q", os.Getenv("REQUEST_TIMEOUT"))
	}
	if cfg.MaxUploadMB, err = strconv.ParseInt(getEnv("MAX_UPLOAD_MB", "10"), 10, 64); err != nil || cfg.MaxUploadMB < 1 {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_MB: %q", os.Getenv("MAX_UPLOAD_MB"))
	}
	switch cfg.Compositor {
	case "native", "gocv":
	default:
		return nil, fmt.Errorf("invalid COMPOSITOR: %q (native or gocv)", cfg.Compositor)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
