package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/postcard-messaging/internal/api"
	"github.com/LeventeLantos/postcard-messaging/internal/cache"
	"github.com/LeventeLantos/postcard-messaging/internal/client"
	"github.com/LeventeLantos/postcard-messaging/internal/config"
	"github.com/LeventeLantos/postcard-messaging/internal/logging"
	"github.com/LeventeLantos/postcard-messaging/internal/metrics"
	"github.com/LeventeLantos/postcard-messaging/internal/repo"
	"github.com/LeventeLantos/postcard-messaging/internal/scheduler"
	"github.com/LeventeLantos/postcard-messaging/internal/service"
	"github.com/LeventeLantos/postcard-messaging/internal/storage"
)

func main() {
	_ = godotenv.Load()

	if err := run(); err != nil {
		slog.Error("postcard-messaging exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadAll()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gateway, err := client.NewSendblueClient(client.SendblueConfig{
		APIKey:     cfg.Sendblue.APIKey,
		APISecret:  cfg.Sendblue.APISecret,
		FromNumber: cfg.Sendblue.FromNumber,
		BaseURL:    cfg.Sendblue.BaseURL,
		Timeout:    cfg.Sendblue.Timeout,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	lazyAWS := newAWSLoader(cfg.AWS)

	store, closeStore, err := openStore(ctx, cfg, lazyAWS)
	if err != nil {
		return err
	}
	defer closeStore()

	var msgCache cache.MessageCache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		msgCache = cache.NewRedisCache(rdb, cfg.Redis.TTL)
	}

	var images service.ImageUploader
	if cfg.Storage.Enabled {
		awsCfg, err := lazyAWS.load(ctx)
		if err != nil {
			return err
		}
		s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
				o.UsePathStyle = true
			}
		})
		images = storage.NewImageStore(s3Client, cfg.Storage.Bucket, cfg.Storage.PublicBaseURL, logger)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewPostcardMetrics(reg)

	wf := service.NewWorkflow(store, gateway, service.Options{
		SenderName:   cfg.Workflow.SenderName,
		MaxAttempts:  cfg.Workflow.MaxAttempts,
		RetryBackoff: cfg.Workflow.RetryBackoff,
		Cache:        msgCache,
		Images:       images,
		Metrics:      m,
		Logger:       logger,
	})

	sweeper, err := scheduler.New(cfg.Sweeper.Interval, func(ctx context.Context) {
		requested, failed, err := wf.RequestPending(ctx, cfg.Sweeper.MinAge, cfg.Sweeper.BatchSize)
		if err != nil {
			logger.Error("pending sweep failed", "error", err)
			return
		}
		if requested+failed > 0 {
			logger.Info("pending sweep completed", "requested", requested, "failed", failed)
		}
	}, scheduler.WithLogger(logger), scheduler.WithName("sweeper"))
	if err != nil {
		return err
	}
	if cfg.Sweeper.AutoStart {
		sweeper.Start()
	}
	defer sweeper.Stop()

	h := api.NewHandler(api.HandlerConfig{
		Sweeper:       sweeper,
		Workflow:      wf,
		Store:         store,
		Cache:         msgCache,
		Metrics:       m,
		Logger:        logger,
		WebhookSecret: cfg.Sendblue.WebhookSecret,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      api.Router(h, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}), loggingMiddleware),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("postcard-messaging starting",
		"addr", cfg.Server.Address,
		"store", cfg.Database.Backend,
		"redis", cfg.Redis.Enabled,
		"image_uploads", cfg.Storage.Enabled,
		"sweep_interval", cfg.Sweeper.Interval.String(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, loader *awsLoader) (repo.PostcardRepository, func(), error) {
	switch cfg.Database.Backend {
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.Database.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres ping: %w", err)
		}
		return repo.NewPostgresPostcardRepo(pool), pool.Close, nil

	case config.BackendDynamo:
		awsCfg, err := loader.load(ctx)
		if err != nil {
			return nil, nil, err
		}
		ddb := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		r, err := repo.NewDynamoPostcardRepo(ddb, cfg.Dynamo.Table)
		if err != nil {
			return nil, nil, err
		}
		return r, func() {}, nil

	default:
		slog.Warn("using in-memory postcard store; records are lost on restart")
		return repo.NewMemoryPostcardRepo(), func() {}, nil
	}
}

// awsLoader loads the shared AWS config at most once.
type awsLoader struct {
	region string
	cfg    *aws.Config
}

func newAWSLoader(c config.AWSConfig) *awsLoader {
	return &awsLoader{region: c.Region}
}

func (l *awsLoader) load(ctx context.Context) (aws.Config, error) {
	if l.cfg != nil {
		return *l.cfg, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(l.region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	l.cfg = &cfg
	return cfg, nil
}
