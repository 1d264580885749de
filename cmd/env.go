package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/seo-pipeline/internal/calllog"
	"github.com/sells-group/seo-pipeline/internal/provider"
	"github.com/sells-group/seo-pipeline/internal/queue"
	"github.com/sells-group/seo-pipeline/internal/resolver"
	"github.com/sells-group/seo-pipeline/internal/scrape"
	"github.com/sells-group/seo-pipeline/internal/stage"
	"github.com/sells-group/seo-pipeline/internal/store"
)

// appEnv holds everything a pipeline command needs.
type appEnv struct {
	Store    store.Store
	Broker   queue.Broker
	Pipeline *stage.Pipeline
}

// Close releases the broker and the store.
func (e *appEnv) Close() {
	if e.Broker != nil {
		if err := e.Broker.Close(); err != nil {
			zap.L().Warn("close broker", zap.Error(err))
		}
	}
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initBroker(ctx context.Context) (queue.Broker, error) {
	visibility := time.Duration(cfg.Queue.VisibilityTimeout) * time.Second
	switch cfg.Queue.Backend {
	case "memory":
		return queue.NewMemoryBroker(visibility), nil
	case "redis":
		return queue.NewRedisBroker(ctx, queue.RedisConfig{
			Addr:       cfg.Queue.RedisAddr,
			Password:   cfg.Queue.RedisPassword,
			DB:         cfg.Queue.RedisDB,
			Prefix:     cfg.Queue.RedisPrefix,
			Visibility: visibility,
		})
	case "nats":
		return queue.NewNATSBroker(ctx, queue.NATSConfig{
			URL:        cfg.Queue.NATSURL,
			Stream:     cfg.Queue.NATSStream,
			Visibility: visibility,
		})
	default:
		return nil, eris.Errorf("unsupported queue backend: %s", cfg.Queue.Backend)
	}
}

// initEnv validates the config for mode and wires store, broker, provider,
// resolver and stages. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}

	broker, err := initBroker(ctx)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init broker")
	}
	env.Broker = broker

	res, err := initResolver(ctx, st)
	if err != nil {
		env.Close()
		return nil, err
	}

	deps := stage.Deps{
		Store:     st,
		Resolver:  res,
		Queue:     broker,
		Calls:     calllog.NewRecorder(st, cfg.Logging.AICalls),
		ForceJSON: cfg.Provider.ForceJSON,
	}
	if cfg.Scrape.Enabled {
		deps.Pages = scrape.New(cfg.ScrapeConfig())
	}
	env.Pipeline = stage.New(deps)
	return env, nil
}

func initResolver(ctx context.Context, st store.Store) (*resolver.Resolver, error) {
	pc := cfg.ProviderConfig()
	base, err := provider.New(ctx, pc)
	if err != nil {
		return nil, eris.Wrap(err, "init provider")
	}

	var opts []resolver.Option
	if path := cfg.Prompts.OverridesFile; path != "" {
		overrides, err := resolver.LoadFile(path)
		if err != nil {
			return nil, err
		}
		opts = append(opts, resolver.WithFileOverrides(overrides))
		zap.L().Info("loaded prompt overrides", zap.String("file", path), zap.Int("tasks", len(overrides)))
	}

	zap.L().Info("provider ready",
		zap.String("kind", string(base.Kind())),
		zap.Bool("call_log", cfg.Logging.AICalls),
	)
	return resolver.New(base, pc, st, opts...), nil
}

// newWorker builds a worker over env's broker with every handler of queues.
func newWorker(env *appEnv, queues []queue.Name) *queue.Worker {
	w := queue.NewWorker(env.Broker, env.Store, queue.WorkerConfig{
		Concurrency: cfg.Queue.Concurrency,
		Poll:        time.Duration(cfg.Queue.PollSecs) * time.Second,
		Retry:       cfg.Queue.Retry,
	})
	env.Pipeline.Register(w, queues...)
	return w
}
