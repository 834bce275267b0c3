package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/petmarket/internal/app"
	"github.com/vladislavdragonenkov/petmarket/internal/version"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(parseLevel(level))
}

func parseLevel(raw string) log.Level {
	level, err := log.ParseLevel(strings.TrimSpace(raw))
	if err != nil {
		return log.InfoLevel
	}
	return level
}

func main() {
	// .env нужен только для локального запуска
	_ = godotenv.Load()

	setupLogger(os.Getenv(envLogLevel))
	cfg, warnings := readConfigFromEnv(osLookup)
	for _, w := range warnings {
		log.WithError(w).Warn("invalid env value, default is used")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":      cfg.HTTPAddr,
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"version":        version.GetVersion(),
	}).Info("запускаем маркетплейс")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("маркетплейс остановлен")
}
