// Package app wires a replica together from its configuration.
package app

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"asisaid.cn/versync/internal/common/config"
	"asisaid.cn/versync/internal/common/hashing"
	"asisaid.cn/versync/internal/common/logger"
	"asisaid.cn/versync/internal/metrics"
	"asisaid.cn/versync/internal/service"
	"asisaid.cn/versync/internal/storage"
	"asisaid.cn/versync/internal/version/store"
	"asisaid.cn/versync/internal/watcher"
	httpapi "asisaid.cn/versync/pkg/api/http"
)

// InitLogger initializes the global logger from cfg.
func InitLogger(cfg *config.Config) error {
	return logger.Init(logger.Config{
		Level:       cfg.Logger.Level,
		Format:      cfg.Logger.Format,
		Output:      cfg.Logger.Output,
		Development: cfg.Logger.Development,
	})
}

// BackendPath returns where the backend keeps its data. Without an explicit
// storage path, file based backends live in the metadata directory of the
// root.
func BackendPath(cfg *config.Config, root string) string {
	if cfg.Storage.Path != "" || cfg.Storage.Backend == "s3" {
		return cfg.Storage.Path
	}
	switch cfg.Storage.Backend {
	case "memory":
		return "memory"
	case "badger":
		return filepath.Join(root, cfg.Store.MetaDir, "db")
	default:
		return filepath.Join(root, cfg.Store.MetaDir)
	}
}

// OpenStore opens the storage backend and the object store of the
// configured root. The backend is closed with the store.
func OpenStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*store.ObjectStore, error) {
	root, err := filepath.Abs(cfg.Store.RootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root directory: %w", err)
	}

	hasher, err := hashing.New(hashing.Algorithm(strings.ToLower(cfg.Store.HashAlgorithm)))
	if err != nil {
		return nil, err
	}

	backend, err := storage.NewBackend(ctx, storage.Options{
		Type: cfg.Storage.Backend,
		Path: BackendPath(cfg, root),
		S3: storage.S3Config{
			Bucket:         cfg.Storage.S3.Bucket,
			Region:         cfg.Storage.S3.Region,
			Endpoint:       cfg.Storage.S3.Endpoint,
			KeyPrefix:      cfg.Storage.S3.KeyPrefix,
			ForcePathStyle: cfg.Storage.S3.ForcePathStyle,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	st, err := store.New(ctx, root, backend, store.Options{
		MetaDir:   cfg.Store.MetaDir,
		IndexFile: cfg.Store.IndexFile,
		ObjectDir: cfg.Store.ObjectDir,
		Hasher:    hasher,
		Metrics:   m,
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return st, nil
}

// NewRouter creates the gin engine serving the metadata API.
func NewRouter(cfg *config.Config, svc *service.MetadataService, m *metrics.Metrics) *gin.Engine {
	if !cfg.Logger.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger())

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	httpapi.NewHandler(svc, m, metricsPath).RegisterRoutes(router)
	return router
}

// Run serves a replica until ctx is done: the root is synced once, then
// kept up to date by the watcher while the API serves peers.
func Run(ctx context.Context, cfg *config.Config, version string) error {
	log := logger.WithComponent("main")
	log.Info("starting versync",
		zap.String("version", version),
		zap.String("root", cfg.Store.RootDir),
		zap.String("backend", cfg.Storage.Backend),
	)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	st, err := OpenStore(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer st.Close()

	svc := service.NewMetadataService(st, cfg.Peers, cfg.Store.Ignore)
	if err := svc.Sync(ctx); err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}

	if cfg.Watcher.Enabled {
		w, err := watcher.New(st, watcher.Options{
			QueueSize:    cfg.Watcher.QueueSize,
			PollInterval: cfg.Watcher.PollInterval,
			Ignore:       cfg.Store.Ignore,
			Metrics:      m,
		})
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
		svc.SetQuiescer(w)
	}

	if cfg.PeerCheckInterval > 0 && svc.Peers().Len() > 0 {
		if err := svc.Peers().Start(ctx, cfg.PeerCheckInterval); err != nil {
			return err
		}
		defer svc.Peers().Stop()
	}

	server := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      NewRouter(cfg, svc, m),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
	return nil
}

// ginLogger returns a Gin middleware that logs requests using zap.
func ginLogger() gin.HandlerFunc {
	log := logger.WithComponent("http")

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
