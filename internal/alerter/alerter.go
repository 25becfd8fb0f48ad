package alerter

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/metrics"
	"Go2NetSentinel/internal/model"
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// sinkTimeout bounds one round of sink writes.
const sinkTimeout = 30 * time.Second

// BatchLoader returns the current processed batch of a source.
type BatchLoader interface {
	Batch(ctx context.Context, sourceID string) (*model.Batch, error)
}

// Alerter periodically turns processed batches into alerts, hands them to every sink
// and sends one consolidated notification per check. A batch is dispatched once;
// later checks skip it until the source is recomputed.
type Alerter struct {
	loader        BatchLoader
	sources       []string
	sinks         []model.AlertSink
	notifier      model.Notifier
	checkInterval time.Duration
	topN          int
	logger        *zap.Logger

	stopChan chan struct{}
	done     chan struct{}

	mu         sync.Mutex
	dispatched map[string]time.Time // source id -> ComputedAt of the last dispatched batch
}

// NewAlerter creates a new Alerter instance. notifier may be nil.
func NewAlerter(cfg *config.AlerterConfig, loader BatchLoader, sources []string, sinks []model.AlertSink,
	notifier model.Notifier, topN int, logger *zap.Logger) (*Alerter, error) {
	interval, err := time.ParseDuration(cfg.CheckInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid check_interval for alerter: %w", err)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("alerter check_interval must be a positive duration")
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("alerter needs at least one source")
	}

	return &Alerter{
		loader:        loader,
		sources:       sources,
		sinks:         sinks,
		notifier:      notifier,
		checkInterval: interval,
		topN:          topN,
		logger:        logger.With(logging.Component("alerter")),
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
		dispatched:    make(map[string]time.Time),
	}, nil
}

// Start runs a check immediately and then on every tick until Stop is called.
func (a *Alerter) Start() {
	defer close(a.done)
	a.logger.Info("alerter started", zap.Duration("interval", a.checkInterval), zap.Strings("sources", a.sources))

	ticker := time.NewTicker(a.checkInterval)
	defer ticker.Stop()

	a.Check(context.Background())
	for {
		select {
		case <-ticker.C:
			a.Check(context.Background())
		case <-a.stopChan:
			return
		}
	}
}

// Stop gracefully stops the evaluation loop, runs a final check and closes every sink.
func (a *Alerter) Stop() {
	a.logger.Info("stopping alerter")
	close(a.stopChan)
	<-a.done
	a.Check(context.Background())

	for _, sink := range a.sinks {
		if err := sink.Close(); err != nil {
			a.logger.Warn("failed to close sink", logging.Sink(sink.Name()), zap.Error(err))
		}
	}
}

// sourceReport is what one source contributed to a check.
type sourceReport struct {
	batch  *model.Batch
	alerts []model.AlertRecord
}

// Check evaluates every source concurrently and returns the number of alerts dispatched.
func (a *Alerter) Check(ctx context.Context) int {
	var wg sync.WaitGroup
	reports := make(chan sourceReport, len(a.sources))

	for _, id := range a.sources {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if r, ok := a.evaluate(ctx, id); ok {
				reports <- r
			}
		}(id)
	}
	wg.Wait()
	close(reports)

	var collected []sourceReport
	total := 0
	for r := range reports {
		collected = append(collected, r)
		total += len(r.alerts)
	}
	if total == 0 {
		return 0
	}

	a.logger.Info("alerter check completed", zap.Int("alerts", total), zap.Int("sources", len(collected)))
	a.notify(collected, total)
	return total
}

// evaluate loads one source, dispatches its alerts to every sink and marks the batch done.
func (a *Alerter) evaluate(ctx context.Context, id string) (sourceReport, bool) {
	batch, err := a.loader.Batch(ctx, id)
	if err != nil {
		a.logger.Warn("failed to load batch", logging.Source(id), zap.Error(err))
		return sourceReport{}, false
	}

	a.mu.Lock()
	seen, ok := a.dispatched[id]
	a.mu.Unlock()
	if ok && seen.Equal(batch.ComputedAt) {
		return sourceReport{}, false
	}

	if !batch.Outlier.Available() {
		a.logger.Info("outlier verdicts unavailable, alerting on rules only",
			logging.Source(id), zap.String("reason", batch.Outlier.Reason))
	}

	alerts := Aggregate(batch, a.topN)
	a.dispatch(ctx, batch, alerts)

	a.mu.Lock()
	a.dispatched[id] = batch.ComputedAt
	a.mu.Unlock()

	return sourceReport{batch: batch, alerts: alerts}, true
}

// dispatch writes to every sink concurrently. A failing sink does not stop the others.
func (a *Alerter) dispatch(ctx context.Context, batch *model.Batch, alerts []model.AlertRecord) {
	ctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(len(a.sinks))
	for _, sink := range a.sinks {
		go func(s model.AlertSink) {
			defer wg.Done()
			if err := s.Write(ctx, batch, alerts); err != nil {
				metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
				a.logger.Error("sink write failed", logging.Sink(s.Name()), logging.Source(batch.SourceID), zap.Error(err))
			}
		}(sink)
	}
	wg.Wait()

	for typ, n := range CountByType(alerts) {
		metrics.AlertsDispatched.WithLabelValues(string(typ)).Add(float64(n))
	}
}

func (a *Alerter) notify(reports []sourceReport, total int) {
	if a.notifier == nil {
		return
	}
	subject := fmt.Sprintf("Go2NetSentinel Alert Summary (%d Triggered)", total)
	if err := a.notifier.Send(subject, renderSummary(reports)); err != nil {
		a.logger.Error("failed to send consolidated alert notification", zap.Error(err))
		return
	}
	a.logger.Info("consolidated alert notification sent")
}

// maxAlertsPerMail bounds the alert table of each source in a notification.
const maxAlertsPerMail = 20

func renderSummary(reports []sourceReport) string {
	var b strings.Builder
	b.WriteString("<h1>Go2NetSentinel Alert Summary</h1>")
	b.WriteString("<p>The following alerts were raised during the last check:</p>")

	for _, r := range reports {
		if len(r.alerts) == 0 {
			continue
		}
		s := r.batch.Summary()
		fmt.Fprintf(&b, "<hr><h2>%s</h2>", html.EscapeString(r.batch.SourceID))
		fmt.Fprintf(&b, "<p>%d records, %d rule-flagged, %d ML-flagged, %d both. Outlier detector: %s.</p>",
			s.Records, s.RuleFlagged, s.MLFlagged, s.BothFlagged, r.batch.Outlier.Status)

		b.WriteString("<table><tr><th>Time</th><th>Source IP</th><th>Type</th><th>Protocol</th><th>Port</th><th>Payload</th><th>Rules</th></tr>")
		for i, al := range r.alerts {
			if i == maxAlertsPerMail {
				fmt.Fprintf(&b, "<tr><td colspan=\"7\">... %d more</td></tr>", len(r.alerts)-maxAlertsPerMail)
				break
			}
			hits := make([]string, len(al.RuleHits))
			for j, h := range al.RuleHits {
				hits[j] = string(h)
			}
			fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%d</td><td>%d</td><td>%s</td></tr>",
				al.Timestamp, html.EscapeString(al.SrcIP), al.Type, html.EscapeString(al.Protocol),
				al.Port, al.PayloadSize, strings.Join(hits, ", "))
		}
		b.WriteString("</table>")
	}
	return b.String()
}
