package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-remediation/internal/correlation"
	"github.com/miradorstack/mirador-remediation/internal/ingest"
	"github.com/miradorstack/mirador-remediation/internal/models"
)

func newCorrelateCmd() *cobra.Command {
	var (
		window    time.Duration
		minEvents int
	)
	cmd := &cobra.Command{
		Use:   "correlate <events.json>",
		Short: "Correlate a JSON array of raw events offline and print the incidents",
		Long: `Reads a JSON array of {source_service, severity, message, metadata, timestamp}
objects, splits them into time windows and prints one incident per window.
With --window 0 every event goes into a single incident.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var raws []models.RawEvent
			if err := json.Unmarshal(data, &raws); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			events, err := ingest.NormalizeBatch(raws, time.Now().UTC())
			if err != nil {
				return err
			}

			groups := [][]models.LogEvent{events}
			if window > 0 {
				groups = correlation.GroupByWindow(events, window, minEvents)
			}
			engine := correlation.NewEngine(nil, nil, nil)
			incidents := make([]models.Incident, 0, len(groups))
			for _, group := range groups {
				incident, err := engine.Correlate(context.Background(), group)
				if err != nil {
					return err
				}
				incidents = append(incidents, incident)
			}
			return printJSON(cmd.OutOrStdout(), incidents)
		},
	}
	cmd.Flags().DurationVar(&window, "window", 0, "Split events whose gap exceeds this duration")
	cmd.Flags().IntVar(&minEvents, "min-events", 2, "Drop windows with fewer events")
	return cmd
}
