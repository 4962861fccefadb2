// Package daemon wires the agent's components together and manages
// their lifecycle. One Hub, one ApprovalManager, one gateway; every
// dependency is passed by reference, nothing hangs off a package
// global.
package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/nipunasudha/monopoly-polymarket-agent/internal/config"
	"github.com/nipunasudha/monopoly-polymarket-agent/internal/logger"
	"github.com/nipunasudha/monopoly-polymarket-agent/internal/observability"
	"github.com/nipunasudha/monopoly-polymarket-agent/pkg/agents"
	"github.com/nipunasudha/monopoly-polymarket-agent/pkg/approvals"
	"github.com/nipunasudha/monopoly-polymarket-agent/pkg/engine"
	"github.com/nipunasudha/monopoly-polymarket-agent/pkg/gateway"
	"github.com/nipunasudha/monopoly-polymarket-agent/pkg/hub"
	"github.com/nipunasudha/monopoly-polymarket-agent/pkg/schedule"
	"github.com/nipunasudha/monopoly-polymarket-agent/pkg/store"
	"github.com/nipunasudha/monopoly-polymarket-agent/pkg/tools"
)

// Collaborators carries the external API clients the daemon cannot
// build itself. Nil fields disable the corresponding builtin tools.
type Collaborators struct {
	Markets tools.MarketData
	Exa     tools.Searcher
	Tavily  tools.Searcher
}

// Daemon composes the trading agent's modules.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	engine    engine.Engine
	registry  *tools.Registry
	store     *store.Store
	hub       *hub.Hub
	approvals *approvals.Manager
	gateway   *gateway.Server
	schedules *schedule.Service
	research  *agents.ResearchAgent
	trading   *agents.TradingAgent
	watcher   *config.Watcher

	lifecycle *lifecycleManager

	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

// New builds a daemon from config. Components are constructed in
// dependency order; nothing starts running until Start.
func New(cfg *config.Config, log *logger.Logger, collab Collaborators) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		logger: log,
	}

	eng, err := engine.New(cfg.Engine.Provider, cfg.Engine.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	d.engine = engine.NewRetryingEngine(eng, cfg.Engine.MaxRetries)
	log.Info().Str("provider", cfg.Engine.Provider).Str("model", cfg.Engine.Model).Msg("Engine initialized")

	st, err := store.Open(filepath.Join(cfg.DataDir, "monopoly.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	d.store = st
	log.Info().Msg("Store opened")

	d.registry = tools.NewRegistry()
	if err := tools.RegisterBuiltins(d.registry, tools.BuiltinDeps{
		Markets:  collab.Markets,
		Exa:      collab.Exa,
		Tavily:   collab.Tavily,
		Insights: st,
	}); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to register builtin tools: %w", err)
	}
	log.Info().Int("toolCount", d.registry.Count()).Msg("Tool registry initialized")

	d.hub = hub.New(d.engine, d.registry, hub.Options{
		LaneLimits:    laneLimits(cfg.Hub.LaneLimits),
		SessionTTL:    cfg.Hub.SessionTTL,
		ResultTTL:     cfg.Hub.ResultTTL,
		MaxIterations: cfg.Hub.MaxIterations,
		Model:         cfg.Engine.Model,
		MaxTokens:     cfg.Engine.MaxTokens,
	})
	log.Info().Msg("Hub initialized")

	d.approvals = approvals.New(approvals.Options{
		AutoApproveThreshold: cfg.Approvals.AutoApproveThreshold,
		DefaultTimeout:       cfg.Approvals.DefaultTimeout,
	})
	log.Info().Float64("autoApproveThreshold", cfg.Approvals.AutoApproveThreshold).Msg("Approval manager initialized")

	if cfg.Gateway.Enabled {
		gw, err := gateway.NewServer(gateway.Config{
			Host:      cfg.Gateway.Host,
			Port:      cfg.Gateway.Port,
			Hub:       d.hub,
			Approvals: d.approvals,
			Store:     st,
			Logger:    log.GetZerolog(),
		})
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to create gateway: %w", err)
		}
		d.gateway = gw
		// The dashboard learns about pending approvals over the
		// websocket stream.
		d.approvals.SetNotifier(gw.Notifier())
		log.Info().Int("port", cfg.Gateway.Port).Msg("Gateway initialized")
	}

	d.research = agents.NewResearchAgent(d.hub)
	d.trading = agents.NewTradingAgent(d.hub)

	d.lifecycle = newLifecycleManager(cfg.DataDir)

	return d, nil
}

// Start brings the daemon online: PID file, hub dispatch, gateway,
// schedule service, config watcher.
func (d *Daemon) Start(configPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("daemon is already running")
	}

	if err := d.lifecycle.start(); err != nil {
		return err
	}

	d.hub.Start()

	if d.gateway != nil {
		if err := d.gateway.Start(); err != nil {
			d.hub.Stop()
			_ = d.lifecycle.stop()
			return fmt.Errorf("failed to start gateway: %w", err)
		}
	}

	svc, err := schedule.NewService(schedule.ServiceOptions{
		StorePath: filepath.Join(d.config.DataDir, "jobs.json"),
		Enqueuer:  d.hub,
	})
	if err != nil {
		d.stopLocked()
		return fmt.Errorf("failed to start schedule service: %w", err)
	}
	d.schedules = svc
	d.seedSchedules()

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, d.onConfigReload)
		if err != nil {
			d.logger.Warn().Err(err).Msg("Config watcher unavailable, hot reload disabled")
		} else if err := watcher.Start(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to start config watcher")
		} else {
			d.watcher = watcher
		}
	}

	d.startTime = time.Now()
	d.running = true
	d.logger.Info().Msg("Daemon started")
	return nil
}

// Stop shuts everything down in reverse dependency order.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}
	return d.stopLocked()
}

func (d *Daemon) stopLocked() error {
	if d.watcher != nil {
		d.watcher.Stop()
		d.watcher = nil
	}
	if d.schedules != nil {
		if err := d.schedules.Stop(); err != nil {
			d.logger.Error().Err(err).Msg("Schedule service shutdown error")
		}
		d.schedules = nil
	}
	if d.gateway != nil {
		if err := d.gateway.Stop(); err != nil {
			d.logger.Error().Err(err).Msg("Gateway shutdown error")
		}
	}
	d.hub.Stop()
	if err := d.store.Close(); err != nil {
		d.logger.Error().Err(err).Msg("Store close error")
	}
	if err := d.lifecycle.stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to remove PID file")
	}

	d.running = false
	d.logger.Info().Msg("Daemon stopped")
	return nil
}

// Hub exposes the scheduler for embedding programs.
func (d *Daemon) Hub() *hub.Hub { return d.hub }

// Approvals exposes the approval manager.
func (d *Daemon) Approvals() *approvals.Manager { return d.approvals }

// Store exposes the persistence layer.
func (d *Daemon) Store() *store.Store { return d.store }

// Research exposes the research task producer.
func (d *Daemon) Research() *agents.ResearchAgent { return d.research }

// Trading exposes the trade evaluation producer.
func (d *Daemon) Trading() *agents.TradingAgent { return d.trading }

// Uptime reports how long the daemon has been running.
func (d *Daemon) Uptime() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running {
		return 0
	}
	return time.Since(d.startTime)
}

// seedSchedules ensures every config-declared schedule exists as a
// job. Jobs are matched by name so restarts do not duplicate them.
func (d *Daemon) seedSchedules() {
	existing := make(map[string]bool)
	for _, job := range d.schedules.ListJobs() {
		existing[job.Name] = true
	}

	for _, sc := range d.config.Schedules {
		if existing[sc.Name] {
			continue
		}
		_, err := d.schedules.AddJob(schedule.AddParams{
			Name:    sc.Name,
			Enabled: true,
			Schedule: schedule.Schedule{
				Kind:    schedule.ScheduleKind(sc.Kind),
				At:      sc.At,
				EveryMs: sc.EveryMs,
				Expr:    sc.Expr,
				TZ:      sc.TZ,
			},
			Prompt:   sc.Prompt,
			Priority: sc.Priority,
		})
		if err != nil {
			d.logger.Error().Str("schedule", sc.Name).Err(err).Msg("Failed to seed schedule")
			continue
		}
		d.logger.Info().Str("schedule", sc.Name).Str("kind", sc.Kind).Msg("Schedule seeded")
	}
}

// onConfigReload applies the subset of config that can change at
// runtime. Currently that is the log level only.
func (d *Daemon) onConfigReload(cfg *config.Config) {
	d.logger.SetLevel(cfg.Logging.Level)
	d.logger.Info().Str("level", cfg.Logging.Level).Msg("Config reloaded")
}

// Wait blocks until the context is cancelled, then stops the daemon.
func (d *Daemon) Wait(ctx context.Context) error {
	<-ctx.Done()
	return d.Stop()
}

func laneLimits(m map[string]int) map[hub.Lane]int {
	if len(m) == 0 {
		return nil
	}
	out := make(map[hub.Lane]int, len(m))
	for name, limit := range m {
		out[hub.Lane(name)] = limit
	}
	return out
}
