package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tiernet/internal/constants"
	"github.com/tiernet/internal/provider"
)

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("role", constants.RoleAdmin, "session role: admin, finance, auditor or member")
	tokenCmd.Flags().String("subject", "operator", "subject recorded as actor for staff roles")
	tokenCmd.Flags().Uint("member-id", 0, "member id, required for the member role")
	tokenCmd.Flags().Duration("ttl", 0, "token lifetime, defaults to session.expire_hours")
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		subject, _ := cmd.Flags().GetString("subject")
		memberID, _ := cmd.Flags().GetUint("member-id")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		return withContainer(cmd, func(ctx context.Context, c *provider.Container) error {
			if role == constants.RoleMember {
				if memberID == 0 {
					return fmt.Errorf("--member-id is required for the member role")
				}
				member, err := c.QueryService.GetMember(ctx, memberID)
				if err != nil {
					return err
				}
				subject = strconv.FormatUint(uint64(member.ID), 10)
			}
			if ttl <= 0 {
				ttl = c.Sessions.TTL()
			}
			token, expiresAt, err := c.Sessions.Issue(subject, memberID, role, ttl)
			if err != nil {
				return err
			}
			return printJSON(map[string]string{
				"role":       role,
				"subject":    subject,
				"token":      token,
				"expires_at": expiresAt.Format(time.RFC3339),
			})
		})
	},
}
