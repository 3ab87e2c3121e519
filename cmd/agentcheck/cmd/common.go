package cmd

import (
	"fmt"

	"github.com/awe-dev/agentcheck/internal/analyser"
	"github.com/awe-dev/agentcheck/internal/artifacts"
	"github.com/awe-dev/agentcheck/internal/config"
	"github.com/awe-dev/agentcheck/internal/engine"
	"github.com/awe-dev/agentcheck/internal/fusion"
	"github.com/awe-dev/agentcheck/internal/logging"
	"github.com/awe-dev/agentcheck/internal/risk"
	"github.com/awe-dev/agentcheck/internal/runner"
	"github.com/awe-dev/agentcheck/internal/sandbox"
	"github.com/awe-dev/agentcheck/internal/service"
	"github.com/awe-dev/agentcheck/internal/store"
)

// deps bundles every collaborator a CLI command needs, built once from the
// layered configuration: the Service and the store/sandbox/runner wiring
// beneath it.
type deps struct {
	cfg       *config.Config
	logger    *logging.Logger
	repo      store.Repository
	artifacts *artifacts.Store
	runnerSvc *runner.Runner
	sandboxM  *sandbox.Manager
	engine    *engine.Engine
	service   *service.Service
	analyser  *analyser.Analyser
	providers *runner.ProviderTable
	riskWatch *risk.Watcher
}

// buildDeps assembles the full dependency graph from the resolved config.
// The caller owns closing repo via deps.Close().
func buildDeps() (*deps, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	repo, err := openRepository(cfg.Store.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening task repository: %w", err)
	}

	artifactStore := artifacts.New(cfg.Artifacts.Root)
	sandboxMgr := sandbox.New(sandbox.ResolveBase(cfg.Sandbox.Base, cfg.Sandbox.UsePublicBase))

	table := runner.NewProviderTable(cfg.ProviderCmds)
	for provider, cmdline := range cfg.Runner.Adapters {
		table.Register(provider, cmdline)
	}
	runnerSvc := runner.New(table, logger, cfg.DryRun, cfg.Runner.TimeoutRetries)

	eng := engine.New(engine.Deps{
		Repo:      repo,
		Artifacts: artifactStore,
		Runner:    runnerSvc,
		Sandbox:   sandboxMgr,
		Logger:    logger,
		Promotion: fusion.PromotionGuardConfig{
			Enabled:         cfg.Promotion.GuardEnabled,
			RequireClean:    cfg.Promotion.RequireClean,
			AllowedBranches: cfg.Promotion.AllowedBranches,
		},
		ConsensusStallAttempts:    cfg.Engine.ConsensusStallAttempts,
		TaskTimeoutSeconds:        cfg.Engine.TaskTimeoutSeconds,
		ParticipantTimeoutSeconds: cfg.Runner.TimeoutSeconds,
		CommandTimeoutSeconds:     cfg.Runner.CommandTimeout,
	})

	// A live watcher keeps the overnight driver current with policy-contract
	// edits; one-shot commands just see the load-time contract.
	riskWatcher, err := risk.NewWatcher(".", logger)
	if err != nil {
		return nil, fmt.Errorf("loading risk policy contract: %w", err)
	}

	svc := service.New(service.Deps{
		Repo:                 repo,
		Artifacts:            artifactStore,
		Sandbox:              sandboxMgr,
		SupportedProvider:    table.IsSupported,
		RiskPolicy:           riskWatcher,
		Engine:               eng,
		Logger:               logger,
		MaxConcurrentRunning: int64(cfg.Engine.MaxConcurrentRunning),
	})

	return &deps{
		cfg:       cfg,
		logger:    logger,
		repo:      repo,
		artifacts: artifactStore,
		runnerSvc: runnerSvc,
		sandboxM:  sandboxMgr,
		engine:    eng,
		service:   svc,
		analyser:  analyser.New(repo, artifactStore),
		providers: table,
		riskWatch: riskWatcher,
	}, nil
}

func openRepository(databaseURL string) (store.Repository, error) {
	if databaseURL == ":memory:" || databaseURL == "" {
		return store.NewMemoryRepository(), nil
	}
	return store.OpenSQLite(databaseURL)
}

func (d *deps) Close() error {
	if d.riskWatch != nil {
		_ = d.riskWatch.Close()
	}
	return d.repo.Close()
}
