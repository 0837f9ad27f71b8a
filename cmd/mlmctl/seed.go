package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/tiernet/internal/provider"
	"github.com/tiernet/internal/service"
)

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().Int("members", 40, "number of demo members to register")
	seedCmd.Flags().Int("fanout", 3, "direct referrals per sponsor")
	seedCmd.Flags().String("sale", "120.00", "sale amount recorded for every non-root member")
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Register a demo network and record sales through the engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		members, _ := cmd.Flags().GetInt("members")
		fanout, _ := cmd.Flags().GetInt("fanout")
		rawSale, _ := cmd.Flags().GetString("sale")
		sale, err := decimal.NewFromString(rawSale)
		if err != nil {
			return fmt.Errorf("invalid --sale: %w", err)
		}
		return withContainer(cmd, func(ctx context.Context, c *provider.Container) error {
			summary, err := seedNetwork(ctx, c.Engine, members, fanout, sale)
			if err != nil {
				return err
			}
			return printJSON(summary)
		})
	},
}

type seedSummary struct {
	Members    int    `json:"members"`
	Sales      int    `json:"sales"`
	Credits    int    `json:"credits"`
	Commission string `json:"commission"`
}

// seedNetwork 按 fanout 构建完全树：第 i 个成员的推荐人为第 (i-1)/fanout 个
func seedNetwork(ctx context.Context, engine *service.Engine, count, fanout int, sale decimal.Decimal) (*seedSummary, error) {
	if count <= 0 || fanout <= 0 {
		return nil, fmt.Errorf("members and fanout must be positive")
	}
	ids := make([]uint, 0, count)
	for i := 0; i < count; i++ {
		input := service.RegisterMemberInput{
			Username: fmt.Sprintf("demo%03d", i),
			FullName: fmt.Sprintf("Demo Member %d", i),
			Email:    fmt.Sprintf("demo%03d@example.com", i),
		}
		if i > 0 {
			sponsorID := ids[(i-1)/fanout]
			input.SponsorID = &sponsorID
		}
		member, err := engine.RegisterMember(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", input.Username, err)
		}
		ids = append(ids, member.ID)
	}

	summary := &seedSummary{Members: len(ids)}
	total := decimal.Zero
	for i, id := range ids {
		if i == 0 || !sale.IsPositive() {
			continue
		}
		result, err := engine.RecordSale(ctx, service.RecordSaleInput{
			MemberID:  id,
			Amount:    sale,
			Reference: fmt.Sprintf("seed-%d", i),
		})
		if err != nil {
			return nil, fmt.Errorf("sale for member %d: %w", id, err)
		}
		summary.Sales++
		summary.Credits += len(result.Credits)
		for _, credit := range result.Credits {
			total = total.Add(credit.Amount.Decimal)
		}
	}
	summary.Commission = total.StringFixed(2)
	return summary, nil
}
