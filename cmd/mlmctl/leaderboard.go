package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tiernet/internal/provider"
)

func init() {
	rootCmd.AddCommand(leaderboardCmd)
	leaderboardCmd.Flags().Int("limit", 10, "number of members to show")
	leaderboardCmd.Flags().Bool("json", false, "print JSON instead of a table")
}

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Show the top earners",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")
		return withContainer(cmd, func(ctx context.Context, c *provider.Container) error {
			items, err := c.QueryService.Leaderboard(ctx, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(items)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "POS\tMEMBER\tRANK\tEARNINGS")
			for _, item := range items {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", item.Position, item.Username, item.Rank, item.TotalEarnings.StringFixed(2))
			}
			return w.Flush()
		})
	},
}
