package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"defect-vision/config"
	"defect-vision/internal/api/rest"
	"defect-vision/internal/api/telegram"
	"defect-vision/internal/container"
	"defect-vision/internal/infrastructure/describer"
	"defect-vision/internal/infrastructure/network"
	"defect-vision/internal/infrastructure/storage"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.SetLevel(cfg.LogLevel)

	// Без модели сервис не стартует
	model, err := network.LoadModel(cfg.ModelDir, network.BackboneOptions{
		LibraryPath: cfg.OrtLibraryPath,
		PoolSize:    cfg.SessionPoolSize,
	}, log)
	if err != nil {
		log.Fatalf("Failed to load model: %v", err)
	}
	defer model.Close()

	// Собираем сервисы приложения
	appContainer := container.New(
		storage.NewMemoryUserRepository(),
		network.NewClassifier(model, log.WithField("component", "classifier")),
		container.SelectCompositor(cfg.Compositor, log),
		describer.NewTextDescriber(),
		cfg.OverlayAlpha,
		log,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	gin.SetMode(gin.ReleaseMode)
	handler := rest.NewHandler(appContainer.PredictionService, cfg.RequestTimeout, log)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           rest.NewRouter(handler, cfg.MaxUploadBytes(), log.WithField("component", "http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.WithField("port", cfg.Port).Info("HTTP server is running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.TelegramToken != "" {
		bot, err := telegram.NewBot(cfg.TelegramToken, appContainer, cfg.RequestTimeout, cfg.MaxUploadBytes(), log.WithField("component", "telegram"))
		if err != nil {
			log.Fatalf("Failed to create bot: %v", err)
		}
		g.Go(func() error {
			log.Info("Bot is running...")
			return bot.Run(ctx)
		})
	} else {
		log.Info("TELEGRAM_TOKEN is not set, bot is disabled")
	}

	if err := g.Wait(); err != nil {
		log.Errorf("Server error: %v", err)
	}
	log.Info("stopped")
}
