package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/follow-reconciler/internal/config"
	"github.com/Sternrassler/follow-reconciler/pkg/github"
	"github.com/Sternrassler/follow-reconciler/pkg/graph"
	"github.com/Sternrassler/follow-reconciler/pkg/logging"
	"github.com/Sternrassler/follow-reconciler/pkg/pagination"
	"github.com/Sternrassler/follow-reconciler/pkg/ratelimit"
	"github.com/Sternrassler/follow-reconciler/pkg/session"
	"github.com/Sternrassler/follow-reconciler/pkg/stats"
)

var errMissingToken = errors.New("no GitHub token: pass --token or set GH_TOKEN, GITHUB_TOKEN or FOLLOW_RECONCILER_GITHUB_TOKEN")

// app wires the engine from configuration.
type app struct {
	cfg       *config.Config
	client    *github.Client
	collector *pagination.Collector[graph.User]
	recorder  stats.Recorder
	redis     *redis.Client
	logger    zerolog.Logger
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := logging.NewLogger("follow-reconciler")

	var (
		redisClient *redis.Client
		store       ratelimit.Store
		recorder    stats.Recorder
	)
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Address, err)
		}
		logger.Info().Str("address", cfg.Redis.Address).Msg("Connected to Redis")
		store = ratelimit.NewRedisStore(redisClient, cfg.RateLimit.StateTTL)
		recorder = stats.NewRedisRecorder(redisClient)
	} else {
		store = ratelimit.NewMemoryStore()
		recorder = stats.NewMemoryRecorder()
	}

	tracker := ratelimit.NewTracker(store, logging.NewLogger("ratelimit"))
	tracker.SetThrottleDelay(cfg.RateLimit.ThrottleDelay)

	client, err := github.New(github.Config{
		BaseURL:     cfg.GitHub.BaseURL,
		UserAgent:   cfg.GitHub.UserAgent,
		APIVersion:  cfg.GitHub.APIVersion,
		Timeout:     cfg.GitHub.Timeout,
		RateLimiter: tracker,
	})
	if err != nil {
		if redisClient != nil {
			redisClient.Close()
		}
		return nil, fmt.Errorf("create github client: %w", err)
	}

	collector := pagination.NewCollector[graph.User](client, pagination.Config{
		PageSize: cfg.Pagination.PageSize,
		MaxPages: cfg.Pagination.MaxPages,
		Timeout:  cfg.Pagination.Timeout,
	})

	return &app{
		cfg:       cfg,
		client:    client,
		collector: collector,
		recorder:  recorder,
		redis:     redisClient,
		logger:    logger,
	}, nil
}

func (a *app) sessionConfig() session.Config {
	return session.Config{
		Mutator:   a.client,
		Collector: a.collector,
		Recorder:  a.recorder,
		WaveSize:  a.cfg.Batch.WaveSize,
	}
}

func (a *app) newSession() (*session.Session, error) {
	return session.New(a.sessionConfig())
}

func (a *app) token() (string, error) {
	if a.cfg.GitHub.Token == "" {
		return "", errMissingToken
	}
	return a.cfg.GitHub.Token, nil
}

func (a *app) Close() error {
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}
