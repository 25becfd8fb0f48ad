package main

import (
	"Go2NetSentinel/internal/snapshot"
	"fmt"
	"log"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./scripts/gobana/main.go <snapshot_source_dir>")
		os.Exit(1)
	}
	dir := os.Args[1]

	records, err := snapshot.ReadRecords(dir)
	if err != nil {
		log.Fatalf("Failed to decode records: %v", err)
	}
	alerts, err := snapshot.ReadAlerts(dir)
	if err != nil {
		log.Fatalf("Failed to decode alerts: %v", err)
	}

	flagged := 0
	for _, r := range records {
		if r.DetectedAnomaly || r.MLDetected {
			flagged++
		}
	}
	fmt.Printf("Decoded %d records (%d flagged) and %d alerts from %s\n", len(records), flagged, len(alerts), dir)

	for _, a := range alerts {
		fmt.Printf("%s  %-15s  %-14s  port=%-5d  payload=%-6d  score=%.3f  rules=%v\n",
			a.Timestamp, a.SrcIP, a.Type, a.Port, a.PayloadSize, a.MLScore, a.RuleHits)
	}
}
