package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/models"
	"github.com/spf13/cobra"
)

// resolveModel picks the model the loop will request: the configured
// default when set (warning if the catalog doesn't know it), otherwise the
// best-tier catalog entry for the configured provider.
func resolveModel(cfg *config.Config) string {
	providerName := cfg.LLM.DefaultProvider
	if providerName == "" {
		providerName = "anthropic"
	}
	if name := cfg.LLM.Providers[providerName].DefaultModel; name != "" {
		if _, ok := models.Get(name); !ok {
			slog.Default().Warn("configured model not in catalog", "model", name, "provider", providerName)
		}
		return name
	}
	for _, m := range models.ListByProvider(models.Provider(providerName)) {
		if m.Deprecated {
			continue
		}
		return m.ID
	}
	return ""
}

func newModelsCommand() *cobra.Command {
	var providerFilter string
	var discoverBedrock bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models the agent can be configured with",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := models.NewCatalog()

			if discoverBedrock {
				discovery := models.NewBedrockDiscovery(models.BedrockDiscoveryConfig{
					Enabled:         true,
					RefreshInterval: time.Minute,
				}, slog.Default())
				ctx, cancel := contextWithTimeout(30 * time.Second)
				defer cancel()
				if err := discovery.RegisterWithCatalog(ctx, catalog); err != nil {
					fmt.Fprintln(os.Stderr, "bedrock discovery:", err)
				}
			}

			var filter *models.Filter
			if providerFilter != "" {
				filter = &models.Filter{Providers: []models.Provider{models.Provider(providerFilter)}}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROVIDER\tTIER\tCONTEXT\tTOOLS\tVISION")
			for _, m := range catalog.List(filter) {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%v\t%v\n",
					m.ID, m.Provider, m.Tier, m.ContextWindow, m.SupportsTools(), m.SupportsVision())
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&providerFilter, "provider", "", "only list models for this provider")
	cmd.Flags().BoolVar(&discoverBedrock, "discover-bedrock", false, "query AWS Bedrock for available foundation models")
	return cmd
}
