// Filedrift Server
//
// Features:
// - Multi-bucket file storage with role/owner permissions
// - Pluggable blob backends (filesystem, indexed, S3)
// - Cursor-paginated listings and streaming zip export
// - Anonymous web serving from web-enabled buckets
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/filedrift/filedrift/internal/api"
	"github.com/filedrift/filedrift/internal/auth"
	"github.com/filedrift/filedrift/internal/blob"
	indexedblob "github.com/filedrift/filedrift/internal/blob/indexed"
	localblob "github.com/filedrift/filedrift/internal/blob/local"
	s3blob "github.com/filedrift/filedrift/internal/blob/s3"
	"github.com/filedrift/filedrift/internal/bucket"
	"github.com/filedrift/filedrift/internal/config"
	"github.com/filedrift/filedrift/internal/file"
	"github.com/filedrift/filedrift/internal/gc"
	"github.com/filedrift/filedrift/internal/index"
	"github.com/filedrift/filedrift/internal/index/bolt"
	"github.com/filedrift/filedrift/internal/index/memory"
	"github.com/filedrift/filedrift/internal/index/postgres"
	"github.com/filedrift/filedrift/internal/logging"
	"github.com/filedrift/filedrift/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("Filedrift server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("tenant", cfg.TenantID),
		zap.String("index", cfg.IndexBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	idx, err := openIndex(cfg)
	if err != nil {
		logging.Fatal("indexed store init failed", zap.Error(err))
	}
	defer idx.Close()

	stores, err := openBlobStores(ctx, cfg, idx)
	if err != nil {
		logging.Fatal("blob store init failed", zap.Error(err))
	}

	authHandler := auth.New(idx, cfg.JWTSecret)
	if cfg.AdminPassword != "" {
		if err := authHandler.EnsureDefaultAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
			logging.Error("failed to ensure default admin", zap.Error(err))
		}
	}

	registry, err := bucket.NewRegistry(ctx, idx)
	if err != nil {
		logging.Fatal("bucket registry init failed", zap.Error(err))
	}
	files := file.New(cfg.TenantID, registry, stores, idx)

	if cfg.SweepInterval > 0 {
		sweeper := gc.NewSweeper(gc.Options{
			Tenant: cfg.TenantID,
			Files:  files,
			Stores: stores,
		})
		stop := sweeper.Start(ctx, cfg.SweepInterval)
		defer stop()
		logging.Info("garbage sweeper started", zap.Duration("interval", cfg.SweepInterval))
	}

	srv := api.NewServer(files, authHandler)

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}
	useTLS := cfg.TLSCertFile != "" && cfg.TLSKeyFile != ""
	if useTLS {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS13}
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		httpServer.Close()
		metricsServer.Close()
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr), zap.Bool("tls", useTLS))
	if useTLS {
		err = httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
	} else {
		err = httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
	logging.Info("server stopped")
}

func openIndex(cfg *config.Config) (index.Store, error) {
	switch cfg.IndexBackend {
	case "memory":
		return memory.New(), nil
	case "postgres":
		return postgres.New(cfg.DatabaseURL)
	default:
		return bolt.New(bolt.Config{Path: cfg.BoltPath})
	}
}

func openBlobStores(ctx context.Context, cfg *config.Config, idx index.Store) (blob.Stores, error) {
	stores := blob.Stores{}

	fs, err := localblob.New(localblob.Config{RootPath: cfg.FilesStorePath})
	if err != nil {
		return stores, err
	}
	stores.Filesystem = fs
	stores.Indexed = indexedblob.New(idx)

	if cfg.S3Bucket != "" {
		s3, err := s3blob.New(ctx, s3blob.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
		})
		if err != nil {
			return stores, err
		}
		stores.S3 = s3
	}
	return stores, nil
}
