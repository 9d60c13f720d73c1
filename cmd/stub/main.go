package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"go-symmetry-console/internal/config"
	"go-symmetry-console/internal/logger"
	"go-symmetry-console/internal/stubservice"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)
	gin.SetMode(gin.ReleaseMode)

	store, err := stubservice.OpenStore(cfg.StubDSN)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	pool := stubservice.NewWorkerPool(0)
	pool.Start()
	defer pool.Close()

	server := &http.Server{
		Addr:        cfg.StubAddress(),
		Handler:     stubservice.NewRouter(store, cfg.APIPrefix, cfg.MaxUploadSize, pool),
		ReadTimeout: cfg.RequestTimeout,
		// Analysis of large images can outlast the read deadline
		WriteTimeout: 2 * cfg.RequestTimeout,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"address": cfg.StubAddress(),
			"prefix":  cfg.APIPrefix,
		}).Info("Starting stub analysis service")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Logger.Info("Shutting down stub service...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Stub service forced to shutdown")
	}
	logger.Logger.Info("Stub service exited")
}
