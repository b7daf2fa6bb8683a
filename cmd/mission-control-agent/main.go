package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/TomBuge/openclaw-mission-control/internal/agentclient"
)

var AppVersion string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mission-control-agent",
		Short:         "Keeps an agent online in OpenClaw Mission Control",
		Version:       AppVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return InitConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHeartbeat(cmd.Context())
		},
	}
	root.AddCommand(newRegisterCmd())
	return root
}

func runHeartbeat(ctx context.Context) error {
	slog.Info("Mission Control Agent", "version", AppVersion, "server", config.Server.URL)

	token, err := agentToken()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := agentclient.New(config.Server.URL, config.Server.Timeout)
	if err := client.Run(ctx, token, config.Agent.Status, config.Agent.Interval); err != nil {
		return err
	}
	slog.Info("Shutdown complete")
	return nil
}

func newRegisterCmd() *cobra.Command {
	var (
		apiKey string
		name   string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register this agent and store its token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				apiKey = os.Getenv("MISSION_CONTROL_API_KEY")
			}
			if apiKey == "" {
				return fmt.Errorf("--api-key is required")
			}
			if name == "" {
				name = config.Agent.Name
			}
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			client := agentclient.New(config.Server.URL, config.Server.Timeout)
			issued, err := client.Register(cmd.Context(), apiKey, name)
			if err != nil {
				return err
			}
			if err := os.WriteFile(config.Agent.TokenFile, []byte(issued.Token+"\n"), 0600); err != nil {
				return fmt.Errorf("failed to write token: %w", err)
			}

			color.Green("Registration successful!")
			fmt.Printf("  Agent ID:   %s\n", issued.Agent.ID)
			fmt.Printf("  Name:       %s\n", issued.Agent.Name)
			fmt.Printf("  Session:    %s\n", issued.Agent.SessionKey)
			fmt.Printf("  Token file: %s\n", config.Agent.TokenFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&apiKey, "api-key", "", "admin API key (or MISSION_CONTROL_API_KEY)")
	cmd.Flags().StringVar(&name, "name", "", "agent name (defaults to agent.name)")
	return cmd
}
