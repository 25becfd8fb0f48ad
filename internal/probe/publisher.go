// Package probe carries alert batches over NATS.
package probe

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// MsgIDHeader carries the run id of a published batch, which lets JetStream streams de-duplicate.
const MsgIDHeader = nats.MsgIdHdr

// Publisher publishes the alerts of each dispatched batch to a NATS subject.
// It implements model.AlertSink.
type Publisher struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(cfg config.NATSConfig, logger *zap.Logger) (*Publisher, error) {
	if cfg.Subject == "" {
		return nil, fmt.Errorf("nats subject is required")
	}
	nc, err := nats.Connect(cfg.URL, nats.Name("go2netsentinel"))
	if err != nil {
		return nil, err
	}
	logger.Info("connected to NATS server", zap.String("url", cfg.URL))
	return &Publisher{nc: nc, subject: cfg.Subject, logger: logger}, nil
}

func (p *Publisher) Name() string {
	return "nats"
}

// Write serializes the batch's alerts to one protobuf message and publishes it.
// Batches without alerts are not published.
func (p *Publisher) Write(ctx context.Context, batch *model.Batch, alerts []model.AlertRecord) error {
	if len(alerts) == 0 {
		return nil
	}
	runID := uuid.NewString()
	data, err := EncodeAlerts(batch, alerts, runID)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(p.subject)
	msg.Header.Set(MsgIDHeader, runID)
	msg.Data = data
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish alerts: %w", err)
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush alerts: %w", err)
	}
	p.logger.Debug("published alerts", zap.String("subject", p.subject), zap.Int("alerts", len(alerts)))
	return nil
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		return err
	}
	p.logger.Info("NATS connection drained and closed")
	return nil
}

// AlertMessage is the decoded form of one published batch.
type AlertMessage struct {
	RunID      string
	SourceID   string
	ComputedAt time.Time
	Alerts     []model.AlertRecord
}

// EncodeAlerts builds the wire form: a protobuf Struct with run metadata and an alert list.
func EncodeAlerts(batch *model.Batch, alerts []model.AlertRecord, runID string) ([]byte, error) {
	list := make([]any, len(alerts))
	for i, a := range alerts {
		hits := make([]any, len(a.RuleHits))
		for j, h := range a.RuleHits {
			hits[j] = string(h)
		}
		list[i] = map[string]any{
			"src_ip":       a.SrcIP,
			"timestamp":    a.Timestamp,
			"type":         string(a.Type),
			"protocol":     a.Protocol,
			"port":         a.Port,
			"payload_size": a.PayloadSize,
			"is_malicious": a.IsMalicious,
			"rule_hits":    hits,
			"ml_score":     a.MLScore,
		}
	}

	msg, err := structpb.NewStruct(map[string]any{
		"run_id":      runID,
		"source_id":   batch.SourceID,
		"computed_at": batch.ComputedAt.UTC().Format(time.RFC3339Nano),
		"alerts":      list,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build alert message: %w", err)
	}
	return proto.Marshal(msg)
}

// DecodeAlerts is the inverse of EncodeAlerts.
func DecodeAlerts(data []byte) (*AlertMessage, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alert message: %w", err)
	}
	fields := msg.GetFields()

	out := &AlertMessage{
		RunID:    fields["run_id"].GetStringValue(),
		SourceID: fields["source_id"].GetStringValue(),
	}
	if raw := fields["computed_at"].GetStringValue(); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid computed_at %q: %w", raw, err)
		}
		out.ComputedAt = ts
	}

	for _, v := range fields["alerts"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		a := model.AlertRecord{
			SrcIP:       f["src_ip"].GetStringValue(),
			Timestamp:   f["timestamp"].GetStringValue(),
			Type:        model.AlertType(f["type"].GetStringValue()),
			Protocol:    f["protocol"].GetStringValue(),
			Port:        int(f["port"].GetNumberValue()),
			PayloadSize: int(f["payload_size"].GetNumberValue()),
			IsMalicious: f["is_malicious"].GetBoolValue(),
			MLScore:     f["ml_score"].GetNumberValue(),
		}
		for _, h := range f["rule_hits"].GetListValue().GetValues() {
			a.RuleHits = append(a.RuleHits, model.RuleID(h.GetStringValue()))
		}
		out.Alerts = append(out.Alerts, a)
	}
	return out, nil
}
