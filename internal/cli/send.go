package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/intake-go/internal/models"
	"github.com/spf13/cobra"
)

var (
	sendRole  string
	sendWatch bool
)

var sendCmd = &cobra.Command{
	Use:   "send <session-id> <message...>",
	Short: "Send a conversation message",
	Long: `Send a conversation turn into a session. When the message lands in a
topic with an analyzer, a background extraction job starts.

Examples:
  intake send abc123 "We started making candles in 2019"
  intake send abc123 --watch "Our customers value honesty"
  intake send abc123 --role assistant "What inspired the name?"`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		content := strings.Join(args[1:], " ")

		result, err := api.SendMessage(ctx, args[0], sendRole, content)
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}

		fmt.Printf("Message #%d recorded\n", result.Message.Seq)
		if result.Job == nil {
			return nil
		}

		fmt.Printf("Analysis job %s started (%s)\n", result.Job.ID, result.Job.AnalyzerKey)
		if !sendWatch {
			fmt.Printf("Use 'intake jobs %s --job %s' to check status.\n", args[0], result.Job.ID)
			return nil
		}

		return RunJobWatch(api, result.Job)
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendRole, "role", models.RoleUser, "message role (user or assistant)")
	sendCmd.Flags().BoolVarP(&sendWatch, "watch", "w", false, "watch the analysis job until it finishes")
}
