package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage onboarding sessions",
}

var sessionNewCmd = &cobra.Command{
	Use:   "new <business-name> [description]",
	Short: "Start a new onboarding session",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		description := ""
		if len(args) == 2 {
			description = args[1]
		}

		sess, err := api.CreateSession(context.Background(), args[0], description)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}

		fmt.Printf("Session %s created for %q\n", sess.ID, sess.BusinessName)
		fmt.Printf("Current topic: %s\n", sess.CurrentBucket)
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := api.ListSessions(context.Background())
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}

		if len(sessions) == 0 {
			fmt.Println("No sessions found")
			return nil
		}

		fmt.Printf("%-22s %-24s %-10s %s\n", "ID", "BUSINESS", "TOPIC", "UPDATED")
		fmt.Println(strings.Repeat("-", 72))
		for _, sess := range sessions {
			fmt.Printf("%-22s %-24s %-10s %s\n",
				sess.ID, sess.BusinessName, sess.CurrentBucket, sess.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show session details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		sess, err := api.GetSession(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}

		fmt.Printf("Session: %s\n", sess.ID)
		fmt.Printf("  Business: %s\n", sess.BusinessName)
		if sess.BusinessDescription != "" {
			fmt.Printf("  Description: %s\n", sess.BusinessDescription)
		}
		fmt.Printf("  Current topic: %s\n", sess.CurrentBucket)
		fmt.Printf("  Created: %s\n", sess.CreatedAt.Format(time.RFC3339))

		buckets, err := api.ListBuckets(ctx)
		if err != nil {
			return fmt.Errorf("list buckets: %w", err)
		}
		fmt.Println("\nTopics:")
		for _, b := range buckets {
			marker := " "
			if b.ID == sess.CurrentBucket {
				marker = ">"
			}
			optional := ""
			if b.Optional {
				optional = " (optional)"
			}
			fmt.Printf("  %s %s%s\n", marker, b.ID, optional)
		}
		return nil
	},
}

var sessionAdvanceCmd = &cobra.Command{
	Use:   "advance <session-id>",
	Short: "Move the session to the next topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		move, err := api.Advance(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		fmt.Printf("Current topic: %s\n", move.CurrentBucket)
		return nil
	},
}

var sessionSkipCmd = &cobra.Command{
	Use:   "skip <session-id>",
	Short: "Skip the current topic (optional topics only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		move, err := api.Skip(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("skip: %w", err)
		}
		fmt.Printf("Current topic: %s\n", move.CurrentBucket)
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionNewCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionAdvanceCmd)
	sessionCmd.AddCommand(sessionSkipCmd)
}
