package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/nexus/internal/mcp"
	"github.com/spf13/cobra"
)

// newMCPCommand groups commands that operate the MCP manager directly,
// outside of an agent loop, for debugging a server's tool surface before
// wiring it into a config.
func newMCPCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Inspect and exercise configured MCP servers",
	}
	cmd.AddCommand(newMCPServersCommand())
	cmd.AddCommand(newMCPToolsCommand())
	cmd.AddCommand(newMCPCallCommand())
	return cmd
}

func newMCPServersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List the servers configured in the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			for id, sc := range cfg.MCPServers {
				fmt.Printf("%s\ttransport=%s\tautostart=%v\n", id, sc.Transport, sc.AutoStart)
			}
			return nil
		},
	}
}

func newMCPToolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tools <server>",
		Short: "Launch one configured server and list the tools it exposes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			sc, ok := cfg.MCPServers[args[0]]
			if !ok {
				return fmt.Errorf("no server named %q in config", args[0])
			}
			sc.ID = args[0]

			manager := mcp.NewManagerActor(slog.Default())
			defer manager.Shutdown()

			ctx, cancel := contextWithTimeout(30*time.Second)
			defer cancel()
			if err := manager.LaunchServer(ctx, sc); err != nil {
				return err
			}
			specs, err := manager.GetToolSpecs(ctx, sc.ID)
			if err != nil {
				return err
			}
			for _, t := range specs {
				fmt.Printf("%s\t%s\n", t.Name, t.Description)
			}
			return nil
		},
	}
}

func newMCPCallCommand() *cobra.Command {
	var argsJSON string
	cmd := &cobra.Command{
		Use:   "call <server> <tool>",
		Short: "Launch one configured server and call a tool on it directly",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			sc, ok := cfg.MCPServers[args[0]]
			if !ok {
				return fmt.Errorf("no server named %q in config", args[0])
			}
			sc.ID = args[0]

			var callArgs map[string]any
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &callArgs); err != nil {
					return fmt.Errorf("--args: %w", err)
				}
			}

			manager := mcp.NewManagerActor(slog.Default())
			defer manager.Shutdown()

			ctx, cancel := contextWithTimeout(30*time.Second)
			defer cancel()
			if err := manager.LaunchServer(ctx, sc); err != nil {
				return err
			}
			result, err := manager.ExecuteTool(ctx, sc.ID, args[1], callArgs)
			if err != nil {
				return err
			}
			for _, item := range result.Content {
				fmt.Println(item.Text)
			}
			if result.IsError {
				return fmt.Errorf("tool call returned an error result")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&argsJSON, "args", "", "JSON object of tool call arguments")
	return cmd
}
