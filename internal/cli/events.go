package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/resilience/internal/core/config"
	redisclient "github.com/vietddude/resilience/internal/infra/redis"
)

var eventsCount int64

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the most recent resilience events from the Redis stream",
	Run:   runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().Int64Var(&eventsCount, "count", 20, "maximum number of events to show")
}

func runEvents(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Redis.URL == "" {
		slog.Error("Redis event sink is not configured, set redis.url")
		os.Exit(1)
	}

	client, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = client.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := client.RecentEvents(ctx, eventsCount)
	if err != nil {
		slog.Error("Failed to read event stream", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "TIMESTAMP\tTYPE\tSERVICE")
	for _, msg := range msgs {
		ts, _ := msg.Values["timestamp"].(string)
		evType, _ := msg.Values["type"].(string)
		svc, _ := msg.Values["service"].(string)
		if svc == "" {
			svc = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", ts, evType, svc)
	}
	_ = w.Flush()
}
