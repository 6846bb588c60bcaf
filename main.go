package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/ctg-triage/internal/backendclient"
	"github.com/example/ctg-triage/internal/camera"
	"github.com/example/ctg-triage/internal/config"
	"github.com/example/ctg-triage/internal/ctg"
	"github.com/example/ctg-triage/internal/flow"
	"github.com/example/ctg-triage/internal/handlers"
	"github.com/example/ctg-triage/internal/logging"
	"github.com/example/ctg-triage/internal/metrics"
	"github.com/example/ctg-triage/internal/preview"
	"github.com/example/ctg-triage/internal/session"
	"github.com/example/ctg-triage/internal/usecase"
)

const sessionSweepInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	backend := backendclient.New(backendclient.Options{
		ScanBaseURL:    cfg.ScanAPIURL,
		PredictBaseURL: cfg.PredictAPIURL,
		Timeout:        cfg.OutboundTimeout,
		Breaker: backendclient.BreakerConfig{
			Enabled:      cfg.BreakerEnabled,
			MinRequests:  cfg.BreakerMinRequests,
			FailureRatio: cfg.BreakerFailureRatio,
			OpenTimeout:  cfg.BreakerOpenTimeout,
		},
		Metrics: m,
	}, logger)

	cache := initCache(ctx, cfg, logger)
	handoff := usecase.NewHandoffUseCase(cache, cfg.HandoffTTL, logger)

	var cam ctg.Camera
	if cfg.CameraSnapshotURL != "" {
		cam = camera.NewSnapshot(cfg.CameraSnapshotURL, nil, logger)
	}

	registry := session.NewRegistry(func(id string) *flow.Flow {
		return flow.New(id, flow.Options{
			Camera:   cam,
			Uploader: backend,
			Handoff:  handoff,
			Preview:  preview.DataURL,
			Metrics:  m,
			Logger:   logger,
		})
	}, cfg.SessionIdleTTL, m, logger)
	go registry.Run(ctx, sessionSweepInterval)

	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = handlers.MaxUploadSize

	handlers.RegisterRoutes(r, handlers.Dependencies{
		Sessions:  registry,
		Results:   usecase.NewResultUseCase(handoff, backend, preview.DataURL, m, logger),
		Dashboard: usecase.NewDashboardUseCase(backend, backend, logger),
		Metrics:   m,
		Logger:    logger,
	})

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	logger.Info("CTG gateway listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("scan_api", cfg.ScanAPIURL),
		zap.String("predict_api", cfg.PredictAPIURL),
		zap.Bool("camera", cam != nil),
	)
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// initCache selects Redis when an address is configured and the in-process cache otherwise.
func initCache(ctx context.Context, cfg config.Config, zapLogger *zap.Logger) usecase.Cache {
	if cfg.RedisAddr == "" {
		zapLogger.Info("using in-memory hand-off store")
		return usecase.NewMemoryCache()
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(pingCtx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return usecase.NewRedisCache(client)
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
