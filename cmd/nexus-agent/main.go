// Command nexus-agent is a thin driver over the internal/agent execution
// core: it loads a config file, wires a provider and tool registry, and
// either runs a single prompt to completion or holds a loop open for a
// stdin-driven session. Nothing here is part of the core itself; the same
// wiring is available to any other caller via internal/agent.NewCoreLoop.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "nexus-agent",
		Short:         "Run the nexus agent loop against a configured provider and tool set",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "nexus-agent.yaml", "path to the agent config file")

	root.AddCommand(newRunCommand())
	root.AddCommand(newServeCommand())
	root.AddCommand(newMCPCommand())
	root.AddCommand(newConfigCommand())
	root.AddCommand(newModelsCommand())
	root.AddCommand(newSessionsCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "nexus-agent:", err)
		os.Exit(1)
	}
}
