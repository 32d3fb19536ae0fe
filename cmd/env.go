package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/numisdata/lotvalue/internal/cache"
	"github.com/numisdata/lotvalue/internal/comparable"
	"github.com/numisdata/lotvalue/internal/extract"
	"github.com/numisdata/lotvalue/internal/metalvalue"
	"github.com/numisdata/lotvalue/internal/pipeline"
	"github.com/numisdata/lotvalue/internal/predict"
	"github.com/numisdata/lotvalue/internal/resilience"
	"github.com/numisdata/lotvalue/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.SQLitePath
		if dsn == "" {
			dsn = "lotvalue.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// appEnv holds the store, the optional Redis client and the prediction
// service used by the lot commands.
type appEnv struct {
	Store   store.Store
	Redis   *redis.Client // may be nil
	Service *pipeline.Service
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv opens and migrates the store and builds the prediction service.
// Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	env := &appEnv{Store: st}

	var metals store.MetalsSource = st
	if cfg.Redis.Addr != "" {
		rdb, err := cache.NewClient(ctx, cache.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			zap.L().Warn("redis unavailable, metals prices will not be cached", zap.Error(err))
		} else {
			env.Redis = rdb
			metals = cache.NewMetalsCache(st, cache.NewRedisHashStore(rdb), time.Duration(cfg.Redis.TTLHours)*time.Hour)
			zap.L().Debug("metals price cache enabled", zap.String("addr", cfg.Redis.Addr))
		}
	}

	premiums := predict.DefaultPremiums()
	if cfg.Predict.PremiumsFile != "" {
		premiums, err = predict.LoadPremiums(cfg.Predict.PremiumsFile)
		if err != nil {
			env.Close()
			return nil, err
		}
	}

	env.Service = pipeline.New(pipeline.Deps{
		Lots:        st,
		Predictions: st,
		DLQ:         st,
		Extractor:   extract.New(),
		Metals:      metalvalue.NewCalculator(metals),
		Matcher: comparable.NewMatcher(st, comparable.Config{
			MinSamples:     cfg.Predict.MinSamples,
			MaxComparables: cfg.Predict.MaxComparables,
		}),
		Predictor: predict.New(predict.Config{
			MinSamples:    cfg.Predict.MinSamples,
			TargetSamples: cfg.Predict.TargetSamples,
			Premiums:      premiums,
		}),
	}, serviceConfig())

	return env, nil
}

func serviceConfig() pipeline.Config {
	return pipeline.Config{
		LookupTimeout: cfg.Resilience.LookupTimeout(),
		Concurrency:   cfg.Batch.Concurrency,
		Retry:         resilience.FromRetryConfig(cfg.Resilience.MaxAttempts, cfg.Resilience.InitialBackoffMs),
		Circuit:       resilience.FromCircuitConfig(cfg.Resilience.CircuitThreshold, cfg.Resilience.CircuitResetSecs),
	}
}
