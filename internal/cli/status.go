package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/resilience/internal/core/config"
	"github.com/vietddude/resilience/internal/resilience/recovery"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current health and breaker state of all tracked services",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	url := fmt.Sprintf("http://localhost:%d/status", cfg.Server.Port)

	resp, err := client.Get(url)
	if err != nil {
		slog.Error("Failed to query status endpoint", "url", url, "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var report recovery.SystemStatus
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		slog.Error("Failed to decode status response", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "SERVICE\tSTATUS\tERROR RATE\tBREAKER")

	breakers := make(map[string]string, len(report.Breakers))
	for svc, snap := range report.Breakers {
		breakers[svc] = string(snap.State)
	}

	for _, svc := range report.Services {
		breaker := breakers[svc.Service]
		if breaker == "" {
			breaker = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n", svc.Service, svc.Status, svc.ErrorRate, breaker)
	}
	_ = w.Flush()

	if len(report.ActiveEscalations) > 0 {
		fmt.Printf("\nActive escalations: %d\n", len(report.ActiveEscalations))
	}
	if len(report.DegradedServices) > 0 {
		fmt.Printf("Degraded services: %d\n", len(report.DegradedServices))
	}
}
