package snapshot

import (
	"Go2NetSentinel/internal/model"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// DirLayout names the directory of each snapshot after the batch's ComputedAt. Nanoseconds keep
// two recomputes of one source within the same second apart.
const DirLayout = "2006-01-02_15-04-05.000000000"

const (
	recordsFile = "records.dat"
	alertsFile  = "alerts.dat"
	summaryFile = "summary.json"
)

// SummaryData holds the metadata for a snapshot.
type SummaryData struct {
	SourceID      string                  `json:"source_id"`
	ComputedAt    string                  `json:"computed_at"`
	Timestamp     string                  `json:"timestamp"`
	SkippedRows   int                     `json:"skipped_rows"`
	OutlierStatus model.OutlierStatus     `json:"outlier_status"`
	OutlierReason string                  `json:"outlier_reason,omitempty"`
	Threshold     float64                 `json:"threshold"`
	Totals        model.BatchSummary      `json:"totals"`
	Alerts        int                     `json:"alerts"`
	AlertsByType  map[model.AlertType]int `json:"alerts_by_type"`
}

// Writer persists processed batches to disk: annotated records and alerts as gob,
// plus a JSON summary. It implements model.AlertSink.
type Writer struct {
	rootPath string
	now      func() time.Time
}

// NewWriter creates a new snapshot writer rooted at rootPath.
func NewWriter(rootPath string) *Writer {
	return &Writer{rootPath: rootPath, now: time.Now}
}

func (w *Writer) Name() string {
	return "gob"
}

// Write creates <root>/<computed_at>/<source>/ holding records.dat, alerts.dat and summary.json.
// Empty batches produce only the summary. Writing the same batch again replaces its files.
func (w *Writer) Write(ctx context.Context, batch *model.Batch, alerts []model.AlertRecord) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	computedAt := batch.ComputedAt
	if computedAt.IsZero() {
		computedAt = w.now()
	}
	timestamp := computedAt.UTC().Format(DirLayout)
	dir := filepath.Join(w.rootPath, timestamp, dirName(batch.SourceID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	if len(batch.Records) > 0 {
		if err := writeGob(filepath.Join(dir, recordsFile), batch.Records); err != nil {
			return err
		}
	}
	if len(alerts) > 0 {
		if err := writeGob(filepath.Join(dir, alertsFile), alerts); err != nil {
			return err
		}
	}

	byType := make(map[model.AlertType]int)
	for _, a := range alerts {
		byType[a.Type]++
	}
	summary := SummaryData{
		SourceID:      batch.SourceID,
		ComputedAt:    batch.ComputedAt.UTC().Format(time.RFC3339Nano),
		Timestamp:     w.now().UTC().Format(time.RFC3339),
		SkippedRows:   batch.Skipped,
		OutlierStatus: batch.Outlier.Status,
		OutlierReason: batch.Outlier.Reason,
		Threshold:     batch.Outlier.Threshold,
		Totals:        batch.Summary(),
		Alerts:        len(alerts),
		AlertsByType:  byType,
	}
	f, err := os.Create(filepath.Join(dir, summaryFile))
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer closeFile(f, &err)

	jsonEncoder := json.NewEncoder(f)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}
	return nil
}

func (w *Writer) Close() error {
	return nil
}

func writeGob(path string, v any) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file '%s': %w", path, err)
	}
	defer closeFile(file, &err)

	if err := gob.NewEncoder(file).Encode(v); err != nil {
		return fmt.Errorf("failed to encode gob for file '%s': %w", path, err)
	}
	return nil
}

// closeFile closes f and reports its error through err unless an earlier error is already set.
func closeFile(f *os.File, err *error) {
	if cerr := f.Close(); cerr != nil && *err == nil {
		*err = fmt.Errorf("failed to close '%s': %w", f.Name(), cerr)
	}
}

// ReadRecords loads the annotated records of a snapshot directory.
func ReadRecords(dir string) ([]model.PacketRecord, error) {
	var records []model.PacketRecord
	if err := readGob(filepath.Join(dir, recordsFile), &records); err != nil {
		return nil, err
	}
	return records, nil
}

// ReadAlerts loads the alerts of a snapshot directory. A snapshot without alerts yields none.
func ReadAlerts(dir string) ([]model.AlertRecord, error) {
	var alerts []model.AlertRecord
	err := readGob(filepath.Join(dir, alertsFile), &alerts)
	if os.IsNotExist(err) {
		return []model.AlertRecord{}, nil
	}
	return alerts, err
}

func readGob(path string, v any) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	if err := gob.NewDecoder(file).Decode(v); err != nil {
		return fmt.Errorf("failed to decode gob file '%s': %w", path, err)
	}
	return nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// dirName turns a source id, usually a path, into a single directory name.
func dirName(sourceID string) string {
	name := unsafeChars.ReplaceAllString(strings.Trim(sourceID, "/"), "_")
	if name == "" || name == "." || name == ".." {
		return "source"
	}
	return name
}
