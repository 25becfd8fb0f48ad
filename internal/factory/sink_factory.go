package factory

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/probe"
	"Go2NetSentinel/internal/snapshot"
	"Go2NetSentinel/internal/storage"
	"fmt"

	"go.uber.org/zap"
)

// SinkFactory defines a function that creates an alert sink from its definition.
type SinkFactory func(def config.SinkDef, logger *zap.Logger) (model.AlertSink, error)

// registry holds the mapping of sink types to their factory functions.
var registry = make(map[string]SinkFactory)

func init() {
	RegisterSink("gob", func(def config.SinkDef, _ *zap.Logger) (model.AlertSink, error) {
		if def.Gob.RootPath == "" {
			return nil, fmt.Errorf("gob sink needs root_path")
		}
		return snapshot.NewWriter(def.Gob.RootPath), nil
	})
	RegisterSink("clickhouse", func(def config.SinkDef, logger *zap.Logger) (model.AlertSink, error) {
		return storage.NewClickHouseWriter(def.ClickHouse, logger)
	})
	RegisterSink("nats", func(def config.SinkDef, logger *zap.Logger) (model.AlertSink, error) {
		return probe.NewPublisher(def.NATS, logger)
	})
}

// RegisterSink registers a new sink type with its factory function.
func RegisterSink(name string, factory SinkFactory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("sink type '%s' already registered", name))
	}
	registry[name] = factory
}

// Create builds every enabled sink of the config. On error, sinks created so far are closed.
func Create(cfg *config.Config, logger *zap.Logger) ([]model.AlertSink, error) {
	var sinks []model.AlertSink

	for _, def := range cfg.Sinks {
		if !def.Enabled {
			continue
		}
		logger.Info("creating alert sink", zap.String("type", def.Type))

		factory, ok := registry[def.Type]
		if !ok {
			closeAll(sinks)
			return nil, fmt.Errorf("unknown sink type: '%s'", def.Type)
		}

		sink, err := factory(def, logger.With(zap.String("sink", def.Type)))
		if err != nil {
			closeAll(sinks)
			return nil, fmt.Errorf("error creating sink type '%s': %w", def.Type, err)
		}
		sinks = append(sinks, sink)
	}

	return sinks, nil
}

func closeAll(sinks []model.AlertSink) {
	for _, s := range sinks {
		_ = s.Close()
	}
}
