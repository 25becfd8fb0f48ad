// Package rules implements the deterministic, explainable rule engine.
package rules

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/metrics"
	"Go2NetSentinel/internal/model"
	"fmt"
	"slices"

	"go.uber.org/zap"
)

// Built-in rule identifiers.
const (
	InvalidPort          model.RuleID = "invalid_port"
	UnusualHighPort      model.RuleID = "unusual_high_port"
	OversizedPayload     model.RuleID = "oversized_payload"
	ProtocolPortMismatch model.RuleID = "protocol_port_mismatch"
	BurstRate            model.RuleID = "burst_rate"
)

// Rule evaluates one heuristic over a whole batch and returns one verdict per record.
// Per-record rules ignore everything but the record at hand; batch rules such as
// burst_rate look across records. Implementations must not modify records.
type Rule interface {
	ID() model.RuleID
	Evaluate(records []model.PacketRecord) []bool
}

// Factory builds a rule from the detection options.
type Factory func(cfg config.DetectionConfig) (Rule, error)

// registry holds the mapping of rule ids to their factory functions, in registration order.
var (
	registry = make(map[model.RuleID]Factory)
	order    []model.RuleID
)

// Register registers a new rule with its factory function.
func Register(id model.RuleID, factory Factory) {
	if _, exists := registry[id]; exists {
		panic(fmt.Sprintf("rule '%s' already registered", id))
	}
	registry[id] = factory
	order = append(order, id)
}

// Registered returns every known rule id in canonical order.
func Registered() []model.RuleID {
	return slices.Clone(order)
}

// Engine applies the enabled rules to record batches. It is stateless and safe for concurrent use.
type Engine struct {
	rules  []Rule
	logger *zap.Logger
}

// NewEngine creates an engine running the rules named in cfg.RuleSet.
// Rules always run in canonical order regardless of their order in the config.
func NewEngine(cfg config.DetectionConfig, logger *zap.Logger) (*Engine, error) {
	enabled := make(map[model.RuleID]bool, len(cfg.RuleSet))
	for _, name := range cfg.RuleSet {
		id := model.RuleID(name)
		if _, ok := registry[id]; !ok {
			return nil, fmt.Errorf("unknown rule: '%s'", name)
		}
		enabled[id] = true
	}

	e := &Engine{logger: logger.With(logging.Component("rules"))}
	for _, id := range order {
		if !enabled[id] {
			continue
		}
		rule, err := registry[id](cfg)
		if err != nil {
			return nil, fmt.Errorf("error creating rule '%s': %w", id, err)
		}
		e.rules = append(e.rules, rule)
	}
	return e, nil
}

// Rules returns the ids of the enabled rules.
func (e *Engine) Rules() []model.RuleID {
	ids := make([]model.RuleID, len(e.rules))
	for i, r := range e.rules {
		ids[i] = r.ID()
	}
	return ids
}

// Classify returns a new slice where every record carries DetectedAnomaly and RuleHits.
// The input slice is not modified. Any earlier rule verdicts on the input are replaced.
func (e *Engine) Classify(records []model.PacketRecord) []model.PacketRecord {
	out := model.CloneRecords(records)
	for i := range out {
		out[i].DetectedAnomaly = false
		out[i].RuleHits = nil
	}

	for _, rule := range e.rules {
		verdicts := rule.Evaluate(records)
		hits := 0
		for i, fired := range verdicts {
			if !fired {
				continue
			}
			out[i].RuleHits = append(out[i].RuleHits, rule.ID())
			out[i].DetectedAnomaly = true
			hits++
		}
		if hits > 0 {
			metrics.RuleHits.WithLabelValues(string(rule.ID())).Add(float64(hits))
		}
	}

	e.logger.Debug("classified batch", zap.Int("records", len(out)), zap.Int("rules", len(e.rules)))
	return out
}

// recordRule adapts a per-record predicate to the Rule interface.
type recordRule struct {
	id    model.RuleID
	match func(r *model.PacketRecord) bool
}

func (r recordRule) ID() model.RuleID {
	return r.id
}

func (r recordRule) Evaluate(records []model.PacketRecord) []bool {
	verdicts := make([]bool, len(records))
	for i := range records {
		verdicts[i] = r.match(&records[i])
	}
	return verdicts
}
