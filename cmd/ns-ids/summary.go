package main

import (
	"Go2NetSentinel/internal/model"
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the headline numbers of a source",
	RunE:  runSummary,
}

func init() {
	rootCmd.AddCommand(summaryCmd)
}

func runSummary(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	s, err := svc.Summary(context.Background(), rootFlags.source)
	if err != nil {
		return err
	}

	fmt.Printf("Records:            %d\n", s.Records)
	fmt.Printf("Rule-flagged:       %d\n", s.RuleFlagged)
	fmt.Printf("ML-flagged:         %d\n", s.MLFlagged)
	fmt.Printf("Flagged by both:    %d\n", s.BothFlagged)
	fmt.Printf("Labeled malicious:  %d\n", s.Labeled)

	if len(s.RuleHits) == 0 {
		return nil
	}
	ids := make([]string, 0, len(s.RuleHits))
	for id := range s.RuleHits {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	fmt.Println("Rule hits:")
	for _, id := range ids {
		fmt.Printf("  %-24s %d\n", id, s.RuleHits[model.RuleID(id)])
	}
	return nil
}
