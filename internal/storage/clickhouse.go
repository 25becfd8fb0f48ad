// Package storage persists alerts to ClickHouse for history queries.
package storage

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlertsTable is the table written by the sink and read by the querier.
const AlertsTable = "ids_alerts"

const createTableStatement = `
CREATE TABLE IF NOT EXISTS ids_alerts (
    RunID       UUID,
    ComputedAt  DateTime64(3),
    SourceID    String,
    Timestamp   DateTime64(6),
    SrcIP       String,
    Type        LowCardinality(String),
    Protocol    LowCardinality(String),
    Port        UInt16,
    PayloadSize UInt32,
    IsMalicious UInt8,
    RuleHits    Array(LowCardinality(String)),
    MLScore     Float64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (SourceID, Timestamp);
`

// ClickHouseWriter implements model.AlertSink. Each dispatched batch gets its own RunID.
type ClickHouseWriter struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewClickHouseWriter connects to ClickHouse and ensures the alerts table exists.
func NewClickHouseWriter(cfg config.ClickHouseConfig, logger *zap.Logger) (*ClickHouseWriter, error) {
	conn, err := Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	logger.Info("connected to ClickHouse and ensured table exists", zap.String("table", AlertsTable))

	return &ClickHouseWriter{conn: conn, logger: logger}, nil
}

// Connect opens and pings a ClickHouse connection.
func Connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

func (w *ClickHouseWriter) Name() string {
	return "clickhouse"
}

// Write inserts every alert of the batch into the ids_alerts table.
func (w *ClickHouseWriter) Write(ctx context.Context, batch *model.Batch, alerts []model.AlertRecord) error {
	if len(alerts) == 0 {
		return nil
	}
	rows, err := AlertRows(batch, alerts, uuid.New())
	if err != nil {
		return err
	}

	b, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+AlertsTable)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, r := range rows {
		if err := b.AppendStruct(&r); err != nil {
			return fmt.Errorf("failed to append alert to batch: %w", err)
		}
	}
	if err := b.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	w.logger.Info("wrote alerts to ClickHouse", zap.Int("alerts", len(rows)), zap.String("source", batch.SourceID))
	return nil
}

func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}

// AlertRow is one row of the ids_alerts table.
type AlertRow struct {
	RunID       uuid.UUID `ch:"RunID"`
	ComputedAt  time.Time `ch:"ComputedAt"`
	SourceID    string    `ch:"SourceID"`
	Timestamp   time.Time `ch:"Timestamp"`
	SrcIP       string    `ch:"SrcIP"`
	Type        string    `ch:"Type"`
	Protocol    string    `ch:"Protocol"`
	Port        uint16    `ch:"Port"`
	PayloadSize uint32    `ch:"PayloadSize"`
	IsMalicious uint8     `ch:"IsMalicious"`
	RuleHits    []string  `ch:"RuleHits"`
	MLScore     float64   `ch:"MLScore"`
}

// AlertRows converts alerts to table rows sharing runID.
func AlertRows(batch *model.Batch, alerts []model.AlertRecord, runID uuid.UUID) ([]AlertRow, error) {
	rows := make([]AlertRow, 0, len(alerts))
	for _, a := range alerts {
		ts, err := time.Parse(time.RFC3339Nano, a.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("alert with unparseable timestamp %q: %w", a.Timestamp, err)
		}
		hits := make([]string, len(a.RuleHits))
		for i, h := range a.RuleHits {
			hits[i] = string(h)
		}
		var malicious uint8
		if a.IsMalicious {
			malicious = 1
		}
		rows = append(rows, AlertRow{
			RunID:       runID,
			ComputedAt:  batch.ComputedAt,
			SourceID:    batch.SourceID,
			Timestamp:   ts,
			SrcIP:       a.SrcIP,
			Type:        string(a.Type),
			Protocol:    a.Protocol,
			Port:        uint16(a.Port),
			PayloadSize: uint32(a.PayloadSize),
			IsMalicious: malicious,
			RuleHits:    hits,
			MLScore:     a.MLScore,
		})
	}
	return rows, nil
}
