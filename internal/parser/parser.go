// Package parser turns delimited packet logs into typed packet records.
package parser

import (
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/metrics"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/source"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Column names of the source header.
const (
	ColTimestamp   = "timestamp"
	ColSrcIP       = "src_ip"
	ColDstIP       = "dst_ip"
	ColProtocol    = "protocol"
	ColPort        = "port"
	ColPayloadSize = "payload_size"
	ColIsMalicious = "is_malicious"
)

var requiredColumns = []string{ColTimestamp, ColSrcIP, ColDstIP, ColProtocol, ColPort, ColPayloadSize}

// Accepted ISO-8601 shapes. Values without a zone are taken as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Result is the outcome of parsing one source.
type Result struct {
	Records []model.PacketRecord
	// Skipped counts malformed rows dropped under lenient parsing.
	Skipped int
}

// Parser reads packet logs. It holds no state between calls and is safe for concurrent use.
type Parser struct {
	strict bool
	logger *zap.Logger
}

// New creates a parser. With strict set, the first malformed row aborts parsing
// with a *model.ParseError; otherwise malformed rows are skipped with a warning.
func New(strict bool, logger *zap.Logger) *Parser {
	return &Parser{strict: strict, logger: logger.With(logging.Component("parser"))}
}

// Parse reads every row of src. It fails with model.ErrNotFound when the source does not exist.
// An empty source, or one holding only the header, yields no records and no error.
func (p *Parser) Parse(ctx context.Context, src source.Source) (*Result, error) {
	rc, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return &Result{Records: []model.PacketRecord{}}, nil
	}
	if err != nil {
		return nil, &model.ParseError{Line: 1, Err: fmt.Errorf("unreadable header: %w", err)}
	}
	cols, err := mapHeader(header)
	if err != nil {
		return nil, &model.ParseError{Line: 1, Row: header, Err: err}
	}

	res := &Result{Records: []model.PacketRecord{}}
	for n := 0; ; n++ {
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		row, err := r.Read()
		if err == io.EOF {
			break
		}

		var line int
		var record model.PacketRecord
		if err != nil {
			var csvErr *csv.ParseError
			if !errors.As(err, &csvErr) {
				return nil, fmt.Errorf("failed to read source %s: %w", src.ID(), err)
			}
			line = csvErr.StartLine
		} else {
			line, _ = r.FieldPos(0)
			record, err = cols.parseRow(row)
		}

		if err != nil {
			if p.strict {
				return nil, &model.ParseError{Line: line, Row: row, Err: err}
			}
			res.Skipped++
			metrics.RowsSkipped.WithLabelValues(src.ID()).Inc()
			p.logger.Warn("skipping malformed row", logging.Source(src.ID()), logging.Line(line), zap.Error(err))
			continue
		}
		res.Records = append(res.Records, record)
	}

	metrics.RowsParsed.Add(float64(len(res.Records)))
	p.logger.Debug("parsed source",
		logging.Source(src.ID()),
		zap.Int("records", len(res.Records)),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

// columns maps field names to their position in a row.
type columns struct {
	index map[string]int
	width int
}

func mapHeader(header []string) (*columns, error) {
	c := &columns{index: make(map[string]int, len(header)), width: len(header)}
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := c.index[name]; dup {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		c.index[name] = i
	}
	for _, name := range requiredColumns {
		if _, ok := c.index[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}
	return c, nil
}

func (c *columns) field(row []string, name string) (string, bool) {
	i, ok := c.index[name]
	if !ok {
		return "", false
	}
	return strings.TrimSpace(row[i]), true
}

func (c *columns) parseRow(row []string) (model.PacketRecord, error) {
	var rec model.PacketRecord
	if len(row) != c.width {
		return rec, fmt.Errorf("expected %d fields, got %d", c.width, len(row))
	}

	raw, _ := c.field(row, ColTimestamp)
	ts, err := parseTimestamp(raw)
	if err != nil {
		return rec, err
	}
	rec.Timestamp = ts

	if rec.SrcIP, err = parseAddr(c, row, ColSrcIP); err != nil {
		return rec, err
	}
	if rec.DstIP, err = parseAddr(c, row, ColDstIP); err != nil {
		return rec, err
	}

	raw, _ = c.field(row, ColProtocol)
	rec.Protocol = model.ParseProtocol(raw)

	if rec.Port, err = parseBounded(c, row, ColPort, 0, 65535); err != nil {
		return rec, err
	}
	if rec.PayloadSize, err = parseBounded(c, row, ColPayloadSize, 0, -1); err != nil {
		return rec, err
	}

	if raw, ok := c.field(row, ColIsMalicious); ok && raw != "" {
		label, err := strconv.ParseBool(raw)
		if err != nil {
			return rec, fmt.Errorf("invalid %s %q", ColIsMalicious, raw)
		}
		rec.IsMalicious = &label
	}
	return rec, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
}

func parseAddr(c *columns, row []string, name string) (string, error) {
	raw, _ := c.field(row, name)
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return "", fmt.Errorf("invalid %s %q", name, raw)
	}
	return addr.String(), nil
}

// parseBounded parses an integer in [lo, hi]; hi < 0 means unbounded above.
func parseBounded(c *columns, row []string, name string, lo, hi int) (int, error) {
	raw, _ := c.field(row, name)
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	if v < lo || (hi >= 0 && v > hi) {
		return 0, fmt.Errorf("%s %d out of range", name, v)
	}
	return v, nil
}
