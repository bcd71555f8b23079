package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	wfsqlite "github.com/cschleiden/go-workflows/backend/sqlite"
	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/worker"

	"github.com/helmgate/helmgate/internal/config"
	"github.com/helmgate/helmgate/internal/domain"
	"github.com/helmgate/helmgate/internal/escalation"
	"github.com/helmgate/helmgate/internal/infrastructure/durableengine"
	"github.com/helmgate/helmgate/internal/infrastructure/localfleet"
	"github.com/helmgate/helmgate/internal/infrastructure/notify"
	"github.com/helmgate/helmgate/internal/infrastructure/sqlite"
	"github.com/helmgate/helmgate/internal/infrastructure/syncengine"
	"github.com/helmgate/helmgate/internal/probe"
	"github.com/helmgate/helmgate/internal/promotion"
	"github.com/helmgate/helmgate/internal/recovery"
	"github.com/helmgate/helmgate/internal/rollout"
)

// app wires the controller stack from configuration. The fleet, data
// store, and provisioner backends are local simulations; swapping in
// cloud implementations is a matter of satisfying the domain ports.
type app struct {
	cfg          config.Config
	db           *sql.DB
	fleet        *localfleet.Fleet
	artifacts    *localfleet.Artifacts
	environments *sqlite.EnvironmentRepo
	promotions   *sqlite.PromotionLogRepo
	controller   *rollout.Controller
	gate         *promotion.Gate
	escalations  *escalation.Engine
	dispatcher   *recovery.Dispatcher

	stopWorker func()
}

// newApp builds the application. deployTier, when non-empty, selects
// which environment's initial pool size seeds first-time provisioning.
func newApp(ctx context.Context, configPath string, deployTier domain.Tier) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	db, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, db: db}
	a.environments = &sqlite.EnvironmentRepo{DB: db}
	a.promotions = &sqlite.PromotionLogRepo{DB: db}
	checkpoints := &sqlite.CheckpointRepo{DB: db}
	escalationRuns := &sqlite.EscalationRunRepo{DB: db}

	a.fleet = &localfleet.Fleet{HealthPath: cfg.Probe.Path}
	a.artifacts = &localfleet.Artifacts{}
	prober := &probe.Prober{}

	initialPool := 2
	for _, env := range cfg.Environments {
		if domain.Tier(env.Tier) == deployTier {
			initialPool = env.InitialPoolSize
		}
	}

	deps := &rollout.Deps{
		Environments:    a.environments,
		Checkpoints:     checkpoints,
		Fleet:           a.fleet,
		Router:          a.fleet,
		Prober:          prober,
		Probe:           cfg.Probe.Spec(),
		LeaseTTL:        cfg.LeaseTTL.Std(),
		CheckpointGrace: cfg.CheckpointGrace.Std(),
		InitialPoolSize: initialPool,
	}

	var engine rollout.WorkflowEngine
	switch cfg.WorkflowEngine {
	case "durable":
		backend := wfsqlite.NewInMemoryBackend()
		w := worker.New(backend, nil)
		workerCtx, cancel := context.WithCancel(ctx)
		if err := w.Start(workerCtx); err != nil {
			cancel()
			db.Close()
			return nil, fmt.Errorf("start workflow worker: %w", err)
		}
		a.stopWorker = func() {
			cancel()
			_ = w.WaitForCompletion()
		}
		engine = &durableengine.Engine{Worker: w, Client: client.New(backend), Timeout: 30 * time.Minute}
	default:
		engine = &syncengine.Engine{}
	}

	a.controller, err = rollout.New(engine, deps)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.gate = &promotion.Gate{
		Environments: a.environments,
		Log:          a.promotions,
		Artifacts:    a.artifacts,
		Deployer:     a.controller,
		Checks: promotion.DefaultChecks(prober, cfg.Probe.Spec(), promotion.SuiteOptions{
			LoadRequests:     cfg.Acceptance.LoadRequests,
			LatencyThreshold: cfg.Acceptance.LatencyThreshold.Std(),
			RestrictedPath:   cfg.Acceptance.RestrictedPath,
		}),
	}

	a.escalations = &escalation.Engine{
		Runs:     escalationRuns,
		Policies: cfg.EscalationPolicies(),
		Notifier: &notify.Retrying{
			Next:     &notify.LogChannel{},
			Attempts: cfg.Notify.Attempts,
			Backoff:  cfg.Notify.Backoff.Std(),
		},
	}

	a.dispatcher = &recovery.Dispatcher{
		Controller:  a.controller,
		DataStore:   &localfleet.DataStore{},
		Provisioner: &localfleet.Provisioner{},
	}

	if err := a.bootstrap(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// bootstrap registers configured environments that do not exist yet.
func (a *app) bootstrap(ctx context.Context) error {
	for _, env := range a.cfg.Environments {
		err := a.environments.Create(ctx, domain.Environment{
			Tier:               domain.Tier(env.Tier),
			MinHealthyFraction: env.MinHealthyFraction,
		})
		if err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			return fmt.Errorf("bootstrap environment %s: %w", env.Tier, err)
		}
		if err == nil {
			slog.Debug("environment registered", "tier", env.Tier)
		}
	}
	return nil
}

func (a *app) Close() {
	if a.stopWorker != nil {
		a.stopWorker()
	}
	a.fleet.Close()
	a.db.Close()
}
