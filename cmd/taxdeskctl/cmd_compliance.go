package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"taxdesk/internal/compliance"
	"taxdesk/pkg/config"
	"taxdesk/pkg/domain"

	"github.com/spf13/cobra"
)

var complianceFlags struct {
	client string
	now    string
}

var complianceCmd = &cobra.Command{
	Use:   "compliance",
	Short: "Evaluate a client record read from a JSON file",
	RunE:  runCompliance,
}

func init() {
	f := complianceCmd.Flags()
	f.StringVar(&complianceFlags.client, "client", "", "Path to a client JSON file, documents included (required)")
	f.StringVar(&complianceFlags.now, "now", "", "Evaluation date YYYY-MM-DD (default: today)")

	_ = complianceCmd.MarkFlagRequired("client")
}

func runCompliance(cmd *cobra.Command, _ []string) error {
	raw, err := os.ReadFile(complianceFlags.client)
	if err != nil {
		return fmt.Errorf("read client: %w", err)
	}
	var c domain.Client
	if err := json.Unmarshal(raw, &c); err != nil {
		return fmt.Errorf("parse client: %w", err)
	}

	now := time.Now().UTC()
	if complianceFlags.now != "" {
		d, err := domain.ParseDate(complianceFlags.now)
		if err != nil {
			return fmt.Errorf("--now: %w", err)
		}
		now = d.Time
	}

	engine := compliance.NewEngine(compliance.PolicyFromConfig(config.Load().Compliance))
	report := engine.ComplianceStatus(&c, now)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
