package main

import (
	"context"
	"fmt"
	"time"

	"releasedash/src/aggregate"
	"releasedash/src/buildbot"
	"releasedash/src/cache"
	"releasedash/src/config"
	"releasedash/src/logger"
	"releasedash/src/model"
	"releasedash/src/results"
)

// dashboard bundles the wired components for one process run.
type dashboard struct {
	cfg        *config.Config
	cache      *cache.Cache
	source     *aggregate.BuildbotSource
	aggregator *aggregate.Aggregator
	log        logger.Logger
}

// setup loads configuration and wires the cache, source client, artifact
// reader, and aggregator together. forceRefresh drops the status TTL to
// effectively zero so every entry the previous run persisted is treated
// as expired (stale fallback still applies if sources are down).
func setup(configPath string, log logger.Logger, forceRefresh bool) (*dashboard, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	backend, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}

	store := cache.New(backend, nil, log)
	client := buildbot.NewClient(cfg.API.BaseURL, cfg.APITimeout())
	source := aggregate.NewBuildbotSource(client, cfg.BuildsPerBuilder, nil)
	reader := results.NewReader(cfg.Results.Dir)

	ttls := aggregate.TTLs{Status: cfg.StatusTTL()}
	if forceRefresh {
		ttls.Status = time.Nanosecond
	}
	aggregator := aggregate.New(store, source, reader, ttls, cfg.MinConsecutiveFailures, nil, log)

	return &dashboard{
		cfg:        cfg,
		cache:      store,
		source:     source,
		aggregator: aggregator,
		log:        log,
	}, nil
}

// pairs returns the tracked reference set: the config's explicit tracking
// section when present, otherwise pairs discovered from upstream builder
// tags.
func (d *dashboard) pairs(ctx context.Context) ([]model.Pair, error) {
	if pairs := d.cfg.Pairs(); len(pairs) > 0 {
		return pairs, nil
	}
	return d.source.DiscoverPairs(ctx)
}

func openBackend(cfg *config.Config) (cache.Backend, error) {
	switch cfg.Cache.Backend {
	case "memory":
		return cache.NewMemoryBackend(), nil
	case "leveldb":
		return cache.NewLevelBackend(cfg.Cache.Dir)
	case "postgres":
		return cache.NewPostgresBackend(cfg.Cache.DSN)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

func (d *dashboard) close() {
	if err := d.cache.Close(); err != nil {
		d.log.Error("failed to close cache: %v", err)
	}
}
