package main

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/probe"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow alert batches published by a NATS sink",
	RunE:  runTail,
}

func init() {
	rootCmd.AddCommand(tailCmd)
}

func runTail(cmd *cobra.Command, args []string) error {
	var natsCfg *config.NATSConfig
	for _, def := range cfg.Sinks {
		if def.Type == "nats" {
			natsCfg = &def.NATS
			break
		}
	}
	if natsCfg == nil {
		return fmt.Errorf("no nats sink in config")
	}

	sub, err := probe.NewSubscriber(*natsCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer sub.Close()

	err = sub.Start(func(msg *probe.AlertMessage) {
		fmt.Printf("== %s  source=%s  computed=%s  alerts=%d\n",
			msg.RunID, msg.SourceID, msg.ComputedAt.Format("2006-01-02 15:04:05"), len(msg.Alerts))
		for _, a := range msg.Alerts {
			fmt.Printf("   %-32s  %-15s  %-14s  %s\n", a.Timestamp, a.SrcIP, a.Type, joinHits(a.RuleHits))
		}
	})
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	return nil
}
