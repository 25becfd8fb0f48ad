package query

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/storage"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// HistoryRequest narrows an alert history query. Zero fields are not filtered on.
type HistoryRequest struct {
	SourceID string
	SrcIP    string
	Type     string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// TypeCount is the number of stored alerts of one type.
type TypeCount struct {
	Type  string `json:"type"`
	Count uint64 `json:"count"`
}

// StoredAlert is one row of alert history.
type StoredAlert struct {
	RunID       string    `json:"run_id"`
	SourceID    string    `json:"source_id"`
	Timestamp   time.Time `json:"timestamp"`
	SrcIP       string    `json:"src_ip"`
	Type        string    `json:"type"`
	Protocol    string    `json:"protocol"`
	Port        uint16    `json:"port"`
	PayloadSize uint32    `json:"payload_size"`
	RuleHits    []string  `json:"rule_hits"`
	MLScore     float64   `json:"ml_score"`
}

// Querier defines the interface for querying alert history.
type Querier interface {
	CountByType(ctx context.Context, req HistoryRequest) ([]TypeCount, error)
	RecentAlerts(ctx context.Context, req HistoryRequest) ([]StoredAlert, error)
	Close() error
}

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	conn driver.Conn
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := storage.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn}, nil
}

func (q *clickhouseQuerier) Close() error {
	return q.conn.Close()
}

// where builds the filter clause shared by both queries.
func where(req HistoryRequest) (string, []interface{}) {
	var clauses []string
	args := []interface{}{}

	if req.SourceID != "" {
		clauses = append(clauses, "SourceID = ?")
		args = append(args, req.SourceID)
	}
	if req.SrcIP != "" {
		clauses = append(clauses, "SrcIP = ?")
		args = append(args, req.SrcIP)
	}
	if req.Type != "" {
		clauses = append(clauses, "Type = ?")
		args = append(args, req.Type)
	}
	if !req.Since.IsZero() {
		clauses = append(clauses, "Timestamp >= ?")
		args = append(args, req.Since)
	}
	if !req.Until.IsZero() {
		clauses = append(clauses, "Timestamp <= ?")
		args = append(args, req.Until)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// CountByType counts stored alerts per type.
func (q *clickhouseQuerier) CountByType(ctx context.Context, req HistoryRequest) ([]TypeCount, error) {
	clause, args := where(req)
	query := "SELECT Type, count() AS Alerts FROM " + storage.AlertsTable + clause + " GROUP BY Type ORDER BY Type"

	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	counts := []TypeCount{}
	for rows.Next() {
		var c TypeCount
		if err := rows.Scan(&c.Type, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan count result: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// RecentAlerts returns stored alerts newest first, 100 by default.
func (q *clickhouseQuerier) RecentAlerts(ctx context.Context, req HistoryRequest) ([]StoredAlert, error) {
	clause, args := where(req)
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
		SELECT toString(RunID), SourceID, Timestamp, SrcIP, Type, Protocol, Port, PayloadSize, RuleHits, MLScore
		FROM %s%s
		ORDER BY Timestamp DESC
		LIMIT %d`, storage.AlertsTable, clause, limit)

	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	alerts := []StoredAlert{}
	for rows.Next() {
		var a StoredAlert
		if err := rows.Scan(&a.RunID, &a.SourceID, &a.Timestamp, &a.SrcIP, &a.Type, &a.Protocol,
			&a.Port, &a.PayloadSize, &a.RuleHits, &a.MLScore); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
