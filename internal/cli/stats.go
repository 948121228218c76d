package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/intake-go/internal/metrics"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server runtime statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := api.GetStats(context.Background())
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}

		uptime := time.Duration(snap.UptimeSeconds * float64(time.Second))
		fmt.Printf("Uptime: %s\n", uptime.Round(time.Second))

		printOp("Analyze", snap.Analyze)
		printOp("Extract", snap.Extract)
		printOp("Merge", snap.Merge)
		return nil
	},
}

func printOp(name string, op *metrics.OperationSnapshot) {
	if op == nil {
		return
	}
	fmt.Printf("\n%s:\n", name)
	fmt.Printf("  Calls: %d\n", op.Count)
	fmt.Printf("  Avg time: %.1fms (min %dms, max %dms)\n", op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
	if op.TotalInputTokens != nil && op.TotalOutputTokens != nil {
		fmt.Printf("  Tokens: %d in / %d out\n", *op.TotalInputTokens, *op.TotalOutputTokens)
	}
}
