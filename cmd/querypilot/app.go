package main

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rahul/querypilot/internal/executor"
	"github.com/rahul/querypilot/internal/generation"
	"github.com/rahul/querypilot/internal/governance"
	"github.com/rahul/querypilot/internal/observability"
	"github.com/rahul/querypilot/internal/pipeline"
	"github.com/rahul/querypilot/internal/prompts"
	"github.com/rahul/querypilot/internal/store"
	"github.com/rahul/querypilot/internal/tenant"
	"github.com/rahul/querypilot/pkg/config"
)

// app holds the long-lived collaborators shared by every command.
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	registry *prometheus.Registry
	tenants  *tenant.FileRegistry
	store    *store.Store
	pipeline *pipeline.Orchestrator
}

// newApp wires the pipeline. Structured events go to logOut.
func newApp(cfg *config.Config, logOut io.Writer) (*app, error) {
	logger := observability.NewLoggerTo(logOut, cfg.App.LLMLog)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	tenants, err := tenant.LoadFile(cfg.Tenants.Path)
	if err != nil {
		return nil, fmt.Errorf("load tenants: %w", err)
	}
	log.Printf("Loaded %d tenants from %s", len(tenants.IDs()), cfg.Tenants.Path)

	pm := prompts.NewManager(cfg.Prompts.Directory)
	if err := pm.Validate(); err != nil {
		return nil, fmt.Errorf("prompts: %w", err)
	}

	pName, pCfg := cfg.GetDefaultProvider()
	if pName == "" {
		return nil, fmt.Errorf("no enabled provider found in config")
	}
	backend, err := generation.Open(pName, pCfg)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", pName, err)
	}
	log.Printf("Using provider %s (%s, %s backend)", pName, pCfg.Model, pCfg.Backend)
	gen := generation.NewClient(backend, logger, metrics)

	var guard governance.PolicyEngine = governance.NewReadOnlyPolicyEngine()
	if cfg.Pipeline.AllowWrites {
		log.Println("Warning: write statements are allowed against tenant databases")
		guard = governance.NewDefaultPolicyEngine()
	}
	exec := executor.New(executor.Options{
		StatementTimeout: cfg.Pipeline.StatementTimeout.Duration,
		MaxRows:          cfg.Pipeline.MaxRows,
		Guard:            guard,
		Logger:           logger,
		Metrics:          metrics,
	})

	st, err := store.Open(cfg.Memory.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Memory.Type, err)
	}
	log.Printf("Run history in %s store %s", cfg.Memory.Type, cfg.Memory.Path)

	orch := pipeline.New(gen, exec, tenants, pm, pipeline.Options{
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		RunTimeout:  cfg.Pipeline.RunTimeout.Duration,
		Logger:      logger,
		Metrics:     metrics,
		Recorder:    st,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		tenants:  tenants,
		store:    st,
		pipeline: orch,
	}, nil
}

func (a *app) ready(ctx context.Context) error {
	return a.store.Ping(ctx)
}

func (a *app) Close() error {
	return a.store.Close()
}
