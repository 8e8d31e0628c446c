package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealdesk/internal/benchmark"
	"github.com/sells-group/dealdesk/internal/comps"
	"github.com/sells-group/dealdesk/internal/deal"
	"github.com/sells-group/dealdesk/internal/document"
	"github.com/sells-group/dealdesk/internal/ocr"
	"github.com/sells-group/dealdesk/internal/orchestrator"
	"github.com/sells-group/dealdesk/internal/research"
	"github.com/sells-group/dealdesk/internal/resilience"
	"github.com/sells-group/dealdesk/internal/search"
	"github.com/sells-group/dealdesk/internal/store"
	"github.com/sells-group/dealdesk/internal/validation"
	anthropicpkg "github.com/sells-group/dealdesk/pkg/anthropic"
	"github.com/sells-group/dealdesk/pkg/geocode"
	"github.com/sells-group/dealdesk/pkg/jina"
	"github.com/sells-group/dealdesk/pkg/rentcast"
	"github.com/sells-group/dealdesk/pkg/tavily"
)

// appEnv holds the services shared by the server and the CLI commands.
type appEnv struct {
	Store        store.Store
	Deals        *deal.Service
	Documents    *document.Service
	Benchmarks   *benchmark.Service
	Validation   *validation.Service
	Comps        *comps.Combinator
	Orchestrator *orchestrator.Orchestrator

	closers []func() error
}

// Close releases resources in reverse order of acquisition.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close resource", zap.Error(err))
		}
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
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
	return st, nil
}

func initGeocoder() geocode.Client {
	opts := []geocode.Option{}
	if cfg.Google.GeocodeKey != "" {
		opts = append(opts, geocode.WithGoogleAPIKey(cfg.Google.GeocodeKey))
	}
	return geocode.NewClient(opts...)
}

func initSearcher() search.Searcher {
	var (
		name string
		base search.Searcher
	)
	switch cfg.Search.Provider {
	case "jina":
		name = "jina"
		base = search.NewJina(jina.NewClient(cfg.Jina.Key, jina.WithBaseURL(cfg.Jina.SearchBaseURL)))
	default:
		name = "tavily"
		base = search.NewTavily(tavily.NewClient(cfg.Tavily.Key, tavily.WithBaseURL(cfg.Tavily.BaseURL)))
	}

	breakers := resilience.NewBreakers(resilience.DefaultCircuitBreakerConfig())
	return search.NewDegrading(name, base, search.DegradingConfig{
		Timeout:    time.Duration(cfg.Search.TimeoutSecs) * time.Second,
		RatePerSec: cfg.Search.RatePerSec,
		Breaker:    breakers.Get(name),
	})
}

func initBlobStore(ctx context.Context) (document.BlobStore, func() error, error) {
	if cfg.Storage.Driver == "gcs" {
		gcs, err := document.NewGCSStore(ctx, cfg.Storage.GCSBucket)
		if err != nil {
			return nil, nil, err
		}
		return gcs, gcs.Close, nil
	}
	return document.NewLocalStore(cfg.Storage.UploadDir), func() error { return nil }, nil
}

// initEnv wires every service. mode is passed to config validation.
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st, closers: []func() error{st.Close}}

	catalog, err := research.LoadCatalog(cfg.Research.CatalogPath)
	if err != nil {
		env.Close()
		return nil, err
	}

	extractor, err := ocr.NewExtractor(cfg.OCR)
	if err != nil {
		env.Close()
		return nil, err
	}

	blobs, closeBlobs, err := initBlobStore(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.closers = append(env.closers, closeBlobs)

	llm := anthropicpkg.NewClient(cfg.Anthropic.Key)
	searcher := initSearcher()
	modelName, maxTokens := cfg.Anthropic.Model, cfg.Anthropic.MaxTokens

	agent := research.NewAgent(llm, searcher, catalog, research.Config{
		QuickRounds:  cfg.Research.QuickRounds,
		DeepRounds:   cfg.Research.DeepRounds,
		MaxResults:   cfg.Research.MaxResults,
		SnippetChars: cfg.Research.SnippetChars,
		Model:        modelName,
		MaxTokens:    maxTokens,
	})

	rentcastClient := rentcast.NewClient(cfg.Rentcast.Key, rentcast.WithBaseURL(cfg.Rentcast.BaseURL))

	env.Deals = deal.NewService(st, initGeocoder())
	env.Documents = document.NewService(st, blobs, extractor, llm, catalog, document.Config{Model: modelName, MaxTokens: maxTokens})
	env.Benchmarks = benchmark.NewService(st, llm, modelName, maxTokens)
	env.Validation = validation.NewService(st, agent)
	env.Comps = comps.NewCombinator(st,
		comps.NewRentcastProvider(rentcastClient, cfg.Rentcast.Key != "", cfg.Rentcast.RadiusMiles, cfg.Rentcast.Limit),
		comps.NewSearchProvider(searcher, llm, modelName, maxTokens),
	)

	opts := []orchestrator.Option{
		orchestrator.WithPoll(resilience.PollConfigFromMillis(
			cfg.Orchestrator.PollMaxAttempts, cfg.Orchestrator.PollInitialMS, cfg.Orchestrator.PollMaxMS,
		)),
	}
	if cfg.Redis.URL != "" {
		lease, err := orchestrator.NewRedisLeaseFromURL(cfg.Redis.URL, time.Duration(cfg.Redis.LeaseSecs)*time.Second)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.closers = append(env.closers, lease.Close)
		opts = append(opts, orchestrator.WithLease(lease))
		zap.L().Info("pipeline run lease enabled")
	}
	env.Orchestrator = orchestrator.New(st, env.Benchmarks, env.Validation, env.Comps, opts...)

	return env, nil
}
