package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "config",
		Short: "Work with agent config files",
	}
	root.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load the config file and report any validation errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			fmt.Printf("config OK: agent %q, %d MCP server(s), default provider %q\n",
				cfg.Name, len(cfg.MCPServers), cfg.LLM.DefaultProvider)
			return nil
		},
	})
	return root
}
