package container

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go-symmetry-console/internal/client"
	"go-symmetry-console/internal/config"
	"go-symmetry-console/internal/logger"
	"go-symmetry-console/internal/observer"
	"go-symmetry-console/internal/repository"
	"go-symmetry-console/internal/service"
	"go-symmetry-console/internal/storage"
	"go-symmetry-console/internal/transport"
	"go-symmetry-console/pkg/validation"
)

// Container holds all application dependencies
type Container struct {
	config     *config.Config
	client     *client.HTTPClient
	events     *observer.EventPublisher
	metrics    *observer.MetricsObserver
	repository repository.ResultRepository
	workspaces service.WorkspaceService
	hub        *transport.Hub
	handler    http.Handler
}

// NewContainer builds the dependency graph from cfg
func NewContainer(cfg *config.Config) (*Container, error) {
	analysisClient, err := client.New(cfg.ServiceBaseURL, cfg.APIPrefix, cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis client: %w", err)
	}

	fetcher, err := newImageFetcher(cfg)
	if err != nil {
		return nil, err
	}

	events := observer.NewEventPublisher()
	metrics := observer.NewMetricsObserver()
	events.Subscribe(observer.NewLoggingObserver(logger.Logger))
	events.Subscribe(metrics)

	hub := transport.NewHub(cfg.AllowedOrigins)
	repo := repository.NewResultRepository(analysisClient, fetcher)
	validator := validation.NewFileValidatorWithOptions(validation.DefaultAllowedTypes, cfg.MaxUploadSize)
	workspaces := service.NewWorkspaceService(analysisClient, validator, repo, service.Options{
		GalleryPageSize: cfg.GalleryPageSize,
		MaxWorkspaces:   cfg.MaxWorkspaces,
		IdleTimeout:     cfg.IdleTimeout,
		Sink:            hub,
		Events:          events,
	})

	handler := transport.NewHandler(workspaces, hub, analysisClient, transport.Options{
		Metrics:        metrics,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimitRPS:   cfg.ConsoleRateRPS,
		MaxUploadSize:  cfg.MaxUploadSize,
		RequestTimeout: cfg.RequestTimeout,
	})

	return &Container{
		config:     cfg,
		client:     analysisClient,
		events:     events,
		metrics:    metrics,
		repository: repo,
		workspaces: workspaces,
		hub:        hub,
		handler:    handler,
	}, nil
}

// newImageFetcher routes blob URLs of the configured Azure account to the blob
// client and everything else over HTTP
func newImageFetcher(cfg *config.Config) (storage.ImageFetcher, error) {
	httpFetcher := storage.NewHTTPImageFetcher(cfg.RequestTimeout)
	if !cfg.AzureEnabled() {
		return httpFetcher, nil
	}
	blob, err := storage.NewBlobImageFetcher(cfg.AzureAccountName, cfg.AzureAccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob fetcher: %w", err)
	}
	return storage.NewRoutingFetcher(httpFetcher, blob), nil
}

// Start runs background workers until ctx is done
func (c *Container) Start(ctx context.Context) {
	go c.hub.Run(ctx)
	go c.workspaces.RunJanitor(ctx, janitorInterval(c.config.IdleTimeout))
}

// janitorInterval sweeps a few times per idle period, at most once a minute
func janitorInterval(idle time.Duration) time.Duration {
	interval := idle / 4
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// Close releases every open workspace
func (c *Container) Close() {
	c.workspaces.CloseAll()
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Metrics returns the workflow counters
func (c *Container) Metrics() *observer.MetricsObserver {
	return c.metrics
}
