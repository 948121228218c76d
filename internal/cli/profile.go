package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var profileAnalyses bool

var profileCmd = &cobra.Command{
	Use:   "profile <session-id>",
	Short: "Show the extracted business profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		profile, err := api.GetProfile(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get profile: %w", err)
		}

		if len(profile.Fields) == 0 {
			fmt.Println("No profile fields extracted yet")
		} else {
			slots := make([]string, 0, len(profile.Fields))
			for slot := range profile.Fields {
				slots = append(slots, slot)
			}
			sort.Strings(slots)

			fmt.Printf("%-22s %-10s %s\n", "SLOT", "CONF", "VALUE")
			fmt.Println(strings.Repeat("-", 64))
			for _, slot := range slots {
				field := profile.Fields[slot]
				fmt.Printf("%-22s %-10s %s\n", slot, field.Confidence, formatValue(field.Value))
			}
		}

		if !profileAnalyses {
			return nil
		}

		analyses, err := api.ListAnalyses(ctx, args[0])
		if err != nil {
			return fmt.Errorf("list analyses: %w", err)
		}
		if len(analyses) == 0 {
			return nil
		}

		fmt.Println("\nAnalyzer notes:")
		for _, a := range analyses {
			fmt.Printf("\n[%s] %s (%d messages)\n%s\n",
				a.CreatedAt.Format("15:04:05"), a.Analyzer, a.InputMessages, a.Prose)
		}
		return nil
	},
}

// formatValue renders a slot value for terminal display.
func formatValue(v any) string {
	switch t := v.(type) {
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ", ")
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func init() {
	profileCmd.Flags().BoolVar(&profileAnalyses, "analyses", false, "include analyzer prose notes")
}
