package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/TomBuge/openclaw-mission-control/internal/agents"
	"github.com/TomBuge/openclaw-mission-control/internal/auth"
	"github.com/TomBuge/openclaw-mission-control/internal/clock"
	"github.com/TomBuge/openclaw-mission-control/internal/openclaw"
	"github.com/TomBuge/openclaw-mission-control/internal/store"
)

var AppVersion string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "mission-control",
		Short:         "Agent registry and gateway session reconciler for OpenClaw",
		Version:       AppVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return InitConfig(configFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to application.yaml")

	root.AddCommand(newServeCmd(), newMigrateCmd(), newTokenCmd(), newHashKeyCmd(), newAgentsCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), config.DB)
			if err != nil {
				return err
			}
			defer st.Close()
			color.Green("Migrations applied (%s)", config.DB.Driver)
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		username string
		expiry   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin JWT",
		RunE: func(cmd *cobra.Command, args []string) error {
			if config.Http.JWTSecret == "" {
				return fmt.Errorf("http.jwt_secret is not configured")
			}
			token, err := auth.GenerateToken(auth.Config{Secret: config.Http.JWTSecret, Expiry: expiry},
				uuid.NewString(), username, auth.RoleAdmin)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "admin", "operator name embedded in the token")
	cmd.Flags().DurationVar(&expiry, "expiry", auth.DefaultTokenExpiry, "token lifetime")
	return cmd
}

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <api key>",
		Short: "Print a bcrypt hash to use as http.admin_api_key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashAPIKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newAgentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List agents with their effective status",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), config.DB)
			if err != nil {
				return err
			}
			defer st.Close()
			return printAgents(cmd.Context(), cmd, st)
		},
	}
}

func printAgents(ctx context.Context, cmd *cobra.Command, st store.Store) error {
	clk := clock.Real()
	svc := agents.NewService(st, nil, openclaw.Config{}, agents.NewLiveness(clk, config.Liveness.OfflineAfter), clk)

	list, err := svc.List(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		color.Yellow("No agents registered")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tSESSION\tLAST SEEN")
	for _, a := range list {
		lastSeen := "never"
		if a.LastSeenAt != nil {
			lastSeen = a.LastSeenAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Name, statusColor(a.Status), a.SessionKey, lastSeen)
	}
	return w.Flush()
}

func statusColor(status string) string {
	switch status {
	case agents.StatusOnline:
		return color.GreenString(status)
	case agents.StatusOffline:
		return color.RedString(status)
	default:
		return color.YellowString(status)
	}
}
