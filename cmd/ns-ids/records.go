package main

import (
	"Go2NetSentinel/internal/model"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var recordsFlags struct {
	flaggedOnly bool
	asJSON      bool
}

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Print every annotated record of a source",
	RunE:  runRecords,
}

func init() {
	rootCmd.AddCommand(recordsCmd)

	recordsCmd.Flags().BoolVar(&recordsFlags.flaggedOnly, "flagged", false, "only print records flagged by a rule or the outlier detector")
	recordsCmd.Flags().BoolVar(&recordsFlags.asJSON, "json", false, "print JSON instead of a table")
}

func runRecords(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	records, err := svc.ListRecords(context.Background(), rootFlags.source)
	if err != nil {
		return err
	}

	if recordsFlags.flaggedOnly {
		kept := records[:0]
		for _, r := range records {
			if r.DetectedAnomaly || r.MLDetected {
				kept = append(kept, r)
			}
		}
		records = kept
	}

	if recordsFlags.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(records) == 0 {
		fmt.Println("No records.")
		return nil
	}
	fmt.Printf("%-20s  %-15s  %-6s  %5s  %7s  %-5s  %-5s  %s\n", "TIMESTAMP", "SRC IP", "PROTO", "PORT", "PAYLOAD", "RULE", "ML", "HITS")
	for _, r := range records {
		fmt.Printf("%-20s  %-15s  %-6s  %5d  %7d  %-5t  %-5t  %s\n",
			r.Timestamp.Format("2006-01-02 15:04:05"), r.SrcIP, r.Protocol, r.Port, r.PayloadSize,
			r.DetectedAnomaly, r.MLDetected, joinHits(r.RuleHits))
	}
	return nil
}

func joinHits(hits []model.RuleID) string {
	if len(hits) == 0 {
		return "-"
	}
	s := make([]string, len(hits))
	for i, h := range hits {
		s[i] = string(h)
	}
	return strings.Join(s, ",")
}
