package manager

import (
	"Go2NetSentinel/internal/alerter"
	"Go2NetSentinel/internal/cache"
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/engine/pipeline"
	"Go2NetSentinel/internal/factory"
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/notification"
	"Go2NetSentinel/internal/service"
	"Go2NetSentinel/internal/source"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// watchDebounce collapses bursts of filesystem events on one file.
const watchDebounce = 200 * time.Millisecond

// Manager wires the detection pipeline, the result cache, the service and the optional
// background workers (filesystem watcher and alerter) into one unit.
type Manager struct {
	cache   *cache.Cache
	service *service.Service
	watcher *cache.Watcher
	alerter *alerter.Alerter
	logger  *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a Manager from the full configuration.
func NewManager(cfg *config.Config, logger *zap.Logger) (*Manager, error) {
	p, err := pipeline.New(cfg.Detection, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build detection pipeline: %w", err)
	}
	policy, err := cache.ParsePolicy(cfg.Cache.Policy)
	if err != nil {
		return nil, err
	}

	c := cache.New(p.Run, cfg.Detection.TTL(), policy, logger)
	resolver := service.NewFileResolver(cfg.Source)
	m := &Manager{
		cache:   c,
		service: service.New(c, resolver, cfg.Detection.TopNAlerts, logger),
		logger:  logger.With(logging.Component("manager")),
	}

	sources := cfg.Alerter.Sources
	if len(sources) == 0 {
		sources = []string{""}
	}

	if cfg.Cache.Watch {
		m.watcher, err = cache.NewWatcher(c, watchDebounce, logger)
		if err != nil {
			return nil, err
		}
		for _, id := range sources {
			src, err := resolver.Resolve(id)
			if err != nil {
				m.logger.Warn("cannot watch source", logging.Source(id), zap.Error(err))
				continue
			}
			f, ok := src.(*source.File)
			if !ok {
				continue
			}
			if err := m.watcher.Add(f.ID(), f.Path()); err != nil {
				m.logger.Warn("cannot watch source", logging.Source(f.ID()), zap.Error(err))
			}
		}
	}

	if cfg.Alerter.Enabled {
		sinks, err := factory.Create(cfg, logger)
		if err != nil {
			return nil, err
		}
		notifier, err := notification.New(cfg.SMTP, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create notifier: %w", err)
		}
		m.alerter, err = alerter.NewAlerter(&cfg.Alerter, m.service, sources, sinks, notifier, cfg.Detection.TopNAlerts, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create alerter: %w", err)
		}
		m.logger.Info("alerter enabled", zap.Int("sinks", len(sinks)), zap.Strings("sources", sources))
	}

	return m, nil
}

// Service returns the read service backed by the manager's cache.
func (m *Manager) Service() *service.Service {
	return m.service
}

// Cache returns the result cache.
func (m *Manager) Cache() *cache.Cache {
	return m.cache
}

// Start launches the background workers that are enabled.
func (m *Manager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	if m.watcher != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := m.watcher.Run(ctx); err != nil {
				m.logger.Error("cache watcher stopped", zap.Error(err))
			}
		}()
	}
	if m.alerter != nil {
		go m.alerter.Start()
	}
	m.logger.Info("manager started", zap.Bool("watch", m.watcher != nil), zap.Bool("alerter", m.alerter != nil))
}

// Stop shuts the background workers down. The alerter runs a final check first.
func (m *Manager) Stop() {
	m.logger.Info("manager stopping")
	if m.alerter != nil {
		m.alerter.Stop()
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("manager stopped")
}
