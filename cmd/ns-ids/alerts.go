package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var alertsFlags struct {
	topN   int
	asJSON bool
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Print the alerts of a source, most recent first",
	RunE:  runAlerts,
}

func init() {
	rootCmd.AddCommand(alertsCmd)

	alertsCmd.Flags().IntVarP(&alertsFlags.topN, "top", "n", 0, "cap the list (0: detection.top_n_alerts, negative: all)")
	alertsCmd.Flags().BoolVar(&alertsFlags.asJSON, "json", false, "print JSON instead of a table")
}

func runAlerts(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	alerts, err := svc.ListAlerts(context.Background(), rootFlags.source, alertsFlags.topN)
	if err != nil {
		return err
	}

	if alertsFlags.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(alerts)
	}

	if len(alerts) == 0 {
		fmt.Println("No alerts.")
		return nil
	}
	fmt.Printf("%-32s  %-15s  %-14s  %-6s  %5s  %7s  %6s  %s\n", "TIMESTAMP", "SRC IP", "TYPE", "PROTO", "PORT", "PAYLOAD", "SCORE", "RULES")
	for _, a := range alerts {
		fmt.Printf("%-32s  %-15s  %-14s  %-6s  %5d  %7d  %6.3f  %s\n",
			a.Timestamp, a.SrcIP, a.Type, a.Protocol, a.Port, a.PayloadSize, a.MLScore, joinHits(a.RuleHits))
	}
	return nil
}
