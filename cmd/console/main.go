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
	"go-symmetry-console/internal/container"
	"go-symmetry-console/internal/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)
	gin.SetMode(gin.ReleaseMode)

	// Initialize dependency injection container
	c, err := container.NewContainer(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	c.Start(ctx)

	// Uploads outlive the request that confirms them, so only headers and
	// request bodies are bounded here
	server := &http.Server{
		Addr:              cfg.ServerAddress(),
		Handler:           c.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.RequestTimeout,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"address":      cfg.ServerAddress(),
			"service_url":  cfg.ServiceAPIURL(),
			"timeout":      cfg.RequestTimeout,
			"azure_images": cfg.AzureEnabled(),
		}).Info("Starting console server")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	// cancels in-flight uploads and disconnects websocket clients
	c.Close()
	stop()

	logger.Logger.Info("Server exited")
}
