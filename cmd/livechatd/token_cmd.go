package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"github.com/agendaautomatizada/whatsapp/internal/auth"
	"github.com/agendaautomatizada/whatsapp/internal/svcfields"
)

func newTokenCommand(baseLogger pslog.Logger) *cobra.Command {
	var (
		operatorID string
		ttl        time.Duration
		secretArg  string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator bearer token signed with the configured JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			secret := strings.TrimSpace(secretArg)
			if secret == "" {
				secret = strings.TrimSpace(viper.GetString("jwt-secret"))
			}
			if secret == "" {
				return fmt.Errorf("token: jwt-secret is required (flag, config file or LIVECHAT_JWT_SECRET)")
			}
			if strings.TrimSpace(operatorID) == "" {
				return fmt.Errorf("token: --operator is required")
			}
			if ttl <= 0 {
				return fmt.Errorf("token: --ttl must be > 0")
			}
			token, err := auth.NewJWT([]byte(secret)).Generate(operatorID, ttl)
			if err != nil {
				return fmt.Errorf("token: %w", err)
			}
			expiry := time.Now().Add(ttl)
			svcfields.WithSubsystem(baseLogger, "cli.token").Info("issued token",
				"operator", operatorID,
				"expires", humanize.Time(expiry),
			)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&operatorID, "operator", "", "operator ID embedded as the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	cmd.Flags().StringVar(&secretArg, "jwt-secret", "", "HS256 signing secret (defaults to the server's jwt-secret)")
	return cmd
}
