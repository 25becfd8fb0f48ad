// Package pipeline runs parse, rule classification and outlier scoring as one unit.
package pipeline

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/engine/outlier"
	"Go2NetSentinel/internal/engine/rules"
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/metrics"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/parser"
	"Go2NetSentinel/internal/source"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pipeline holds the stateless stages. It is safe for concurrent use.
type Pipeline struct {
	parser   *parser.Parser
	rules    *rules.Engine
	detector *outlier.Detector
	logger   *zap.Logger
	now      func() time.Time
}

// New builds every stage from the detection options.
func New(cfg config.DetectionConfig, logger *zap.Logger) (*Pipeline, error) {
	engine, err := rules.NewEngine(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule engine: %w", err)
	}
	return &Pipeline{
		parser:   parser.New(cfg.StrictParsing, logger),
		rules:    engine,
		detector: outlier.New(cfg, logger),
		logger:   logger.With(logging.Component("pipeline")),
		now:      time.Now,
	}, nil
}

// Run parses src and runs the rule engine and the outlier detector concurrently over the
// same parsed records, then merges both verdicts into one batch.
func (p *Pipeline) Run(ctx context.Context, src source.Source) (*model.Batch, error) {
	start := time.Now()

	parsed, err := p.parser.Parse(ctx, src)
	if err != nil {
		return nil, err
	}

	var (
		wg         sync.WaitGroup
		classified []model.PacketRecord
		scored     []model.PacketRecord
		outcome    model.OutlierOutcome
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		classified = p.rules.Classify(parsed.Records)
	}()
	go func() {
		defer wg.Done()
		scored, outcome = p.detector.Score(parsed.Records)
	}()
	wg.Wait()

	// classified already owns deep copies; only the ML verdicts are carried over
	for i := range classified {
		classified[i].MLScore = scored[i].MLScore
		classified[i].MLDetected = scored[i].MLDetected
	}

	batch := &model.Batch{
		SourceID:   src.ID(),
		Records:    classified,
		Outlier:    outcome,
		Skipped:    parsed.Skipped,
		ComputedAt: p.now(),
	}

	elapsed := time.Since(start)
	metrics.PipelineDuration.Observe(elapsed.Seconds())
	p.logger.Info("batch computed",
		logging.Source(src.ID()),
		zap.Int("records", len(batch.Records)),
		zap.Int("skipped", batch.Skipped),
		zap.String("outlier", string(outcome.Status)),
		zap.Duration("elapsed", elapsed))

	return batch, nil
}
