package snapshot

import (
	"Go2NetSentinel/internal/model"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testBatch() *model.Batch {
	yes := true
	return &model.Batch{
		SourceID: "data/network_logs.csv",
		Records: []model.PacketRecord{
			{
				Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), SrcIP: "1.1.1.1", DstIP: "2.2.2.2",
				Protocol: model.TCP, Port: 3, PayloadSize: 100, IsMalicious: &yes,
				DetectedAnomaly: true, RuleHits: []model.RuleID{"invalid_port"}, MLScore: 0.7, MLDetected: true,
			},
			{
				Timestamp: time.Date(2025, 3, 1, 12, 0, 1, 0, time.UTC), SrcIP: "1.1.1.2", DstIP: "2.2.2.2",
				Protocol: model.Other("GRE"), Port: 0, PayloadSize: 80, MLScore: 0.4,
			},
		},
		Outlier:    model.OutlierOutcome{Status: model.OutlierScored, Threshold: 0.7, Flagged: 1},
		Skipped:    2,
		ComputedAt: time.Date(2025, 3, 1, 12, 5, 0, 0, time.UTC),
	}
}

func TestWriter_Write(t *testing.T) {
	// 1. Write a batch with one alert
	tmpDir := t.TempDir()
	writer := NewWriter(tmpDir)
	writer.now = func() time.Time { return time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC) }

	batch := testBatch()
	alerts := []model.AlertRecord{{SrcIP: "1.1.1.1", Type: model.AlertRuleAndML, Protocol: "TCP", Port: 3}}
	if err := writer.Write(context.Background(), batch, alerts); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// 2. Verify directory layout
	dir := filepath.Join(tmpDir, "2025-03-01_12-05-00.000000000", "data_network_logs.csv")
	for _, name := range []string{"records.dat", "alerts.dat", "summary.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("%s was not created: %v", name, err)
		}
	}

	// 3. Verify summary content
	summaryBytes, err := os.ReadFile(filepath.Join(dir, "summary.json"))
	if err != nil {
		t.Fatalf("Failed to read summary.json: %v", err)
	}
	var summary SummaryData
	if err := json.Unmarshal(summaryBytes, &summary); err != nil {
		t.Fatalf("Failed to unmarshal summary.json: %v", err)
	}
	if summary.Totals.Records != 2 || summary.Totals.RuleFlagged != 1 || summary.Totals.Labeled != 1 {
		t.Errorf("Unexpected totals: %+v", summary.Totals)
	}
	if summary.Alerts != 1 || summary.AlertsByType[model.AlertRuleAndML] != 1 {
		t.Errorf("Unexpected alert counts: %d %v", summary.Alerts, summary.AlertsByType)
	}
	if summary.SkippedRows != 2 || summary.OutlierStatus != model.OutlierScored {
		t.Errorf("Unexpected batch metadata: %+v", summary)
	}

	// 4. Verify gob content
	records, err := ReadRecords(dir)
	if err != nil {
		t.Fatalf("ReadRecords failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if !records[0].Timestamp.Equal(batch.Records[0].Timestamp) || records[0].RuleHits[0] != "invalid_port" || !records[0].Labeled() {
		t.Errorf("Decoded record does not match: %+v", records[0])
	}
	if records[1].Protocol.String() != "GRE" || records[1].IsMalicious != nil {
		t.Errorf("Decoded unlabeled record does not match: %+v", records[1])
	}

	decodedAlerts, err := ReadAlerts(dir)
	if err != nil {
		t.Fatalf("ReadAlerts failed: %v", err)
	}
	if len(decodedAlerts) != 1 || decodedAlerts[0].Type != model.AlertRuleAndML {
		t.Errorf("Decoded alerts do not match: %+v", decodedAlerts)
	}
}

func TestWriter_WriteWithoutAlerts(t *testing.T) {
	tmpDir := t.TempDir()
	writer := NewWriter(tmpDir)
	if err := writer.Write(context.Background(), &model.Batch{SourceID: "empty.csv"}, nil); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	dirs, err := os.ReadDir(tmpDir)
	if err != nil || len(dirs) != 1 {
		t.Fatalf("Expected one timestamped directory, found %d", len(dirs))
	}
	dir := filepath.Join(tmpDir, dirs[0].Name(), "empty.csv")
	if _, err := os.Stat(filepath.Join(dir, "records.dat")); !os.IsNotExist(err) {
		t.Fatalf("records.dat should not exist for an empty batch")
	}
	alerts, err := ReadAlerts(dir)
	if err != nil || len(alerts) != 0 {
		t.Fatalf("Expected no alerts, got %v (%v)", alerts, err)
	}
}

func TestWriter_RecomputesWithinOneSecond(t *testing.T) {
	tmpDir := t.TempDir()
	writer := NewWriter(tmpDir)

	first := testBatch()
	second := testBatch()
	second.ComputedAt = first.ComputedAt.Add(time.Millisecond)
	second.Records = second.Records[:1]
	for _, b := range []*model.Batch{first, second} {
		if err := writer.Write(context.Background(), b, nil); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	dirs, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(dirs) != 2 {
		t.Fatalf("Expected one directory per batch, found %d", len(dirs))
	}
	records, err := ReadRecords(filepath.Join(tmpDir, dirs[0].Name(), "data_network_logs.csv"))
	if err != nil || len(records) != 2 {
		t.Fatalf("First snapshot was overwritten: %d records (%v)", len(records), err)
	}
}

func TestCloseFile(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "records.dat"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	f.Close()

	var closeErr error
	closeFile(f, &closeErr)
	if closeErr == nil {
		t.Fatalf("Expected the close error to be reported")
	}

	earlier := errors.New("encode failed")
	closeErr = earlier
	closeFile(f, &closeErr)
	if closeErr != earlier {
		t.Errorf("Close error replaced an earlier error: %v", closeErr)
	}
}

func TestDirName(t *testing.T) {
	cases := map[string]string{
		"/var/log/ids/net.csv": "var_log_ids_net.csv",
		"logs.csv":             "logs.csv",
		"..":                   "source",
		"":                     "source",
	}
	for in, want := range cases {
		if got := dirName(in); got != want {
			t.Errorf("dirName(%q) = %q, want %q", in, got, want)
		}
	}
}
