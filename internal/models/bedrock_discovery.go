package models

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrock/types"
)

// BedrockDiscoveryConfig configures live discovery of Bedrock foundation
// models via ListFoundationModels.
type BedrockDiscoveryConfig struct {
	// Enabled gates discovery; when false Discover returns nothing.
	Enabled bool `yaml:"enabled"`

	// Region is the AWS region to query. Default: us-east-1.
	Region string `yaml:"region"`

	// RefreshInterval is how long a discovery result is cached.
	// Default: 1h.
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// ProviderFilter limits discovery to specific upstream providers
	// (e.g. "anthropic", "meta"). Empty means all.
	ProviderFilter []string `yaml:"provider_filter"`

	// DefaultContextWindow is used when the API doesn't report one.
	DefaultContextWindow int `yaml:"default_context_window"`
}

// BedrockClient is the slice of the Bedrock control-plane API discovery
// uses; tests substitute a fake.
type BedrockClient interface {
	ListFoundationModels(ctx context.Context, params *bedrock.ListFoundationModelsInput, optFns ...func(*bedrock.Options)) (*bedrock.ListFoundationModelsOutput, error)
}

// BedrockDiscovery queries the Bedrock control plane for available
// foundation models and registers them into a Catalog.
type BedrockDiscovery struct {
	config BedrockDiscoveryConfig
	logger *slog.Logger

	mu        sync.Mutex
	cache     []*Model
	expiresAt time.Time

	clientFactory func(region string) BedrockClient
}

// NewBedrockDiscovery creates a discovery instance.
func NewBedrockDiscovery(cfg BedrockDiscoveryConfig, logger *slog.Logger) *BedrockDiscovery {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Hour
	}
	if cfg.DefaultContextWindow <= 0 {
		cfg.DefaultContextWindow = 32000
	}
	return &BedrockDiscovery{config: cfg, logger: logger}
}

// SetClientFactory overrides AWS client construction, for tests.
func (d *BedrockDiscovery) SetClientFactory(factory func(region string) BedrockClient) {
	d.clientFactory = factory
}

// Discover returns the available streaming text models, cached for
// RefreshInterval.
func (d *BedrockDiscovery) Discover(ctx context.Context) ([]*Model, error) {
	if !d.config.Enabled {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cache != nil && time.Now().Before(d.expiresAt) {
		return d.cache, nil
	}

	discovered, err := d.fetch(ctx)
	if err != nil {
		return nil, err
	}
	d.cache = discovered
	d.expiresAt = time.Now().Add(d.config.RefreshInterval)
	return discovered, nil
}

// RegisterWithCatalog discovers models and registers them into catalog.
func (d *BedrockDiscovery) RegisterWithCatalog(ctx context.Context, catalog *Catalog) error {
	discovered, err := d.Discover(ctx)
	if err != nil {
		return err
	}
	for _, model := range discovered {
		catalog.Register(model)
	}
	d.logger.Info("registered bedrock models", "count", len(discovered))
	return nil
}

func (d *BedrockDiscovery) fetch(ctx context.Context) ([]*Model, error) {
	client, err := d.newClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create bedrock client: %w", err)
	}

	output, err := client.ListFoundationModels(ctx, &bedrock.ListFoundationModelsInput{})
	if err != nil {
		return nil, fmt.Errorf("list foundation models: %w", err)
	}

	var discovered []*Model
	for _, summary := range output.ModelSummaries {
		if !d.include(summary) {
			continue
		}
		discovered = append(discovered, d.toModel(summary))
	}
	d.logger.Debug("discovered bedrock models",
		"total", len(output.ModelSummaries), "included", len(discovered))
	return discovered, nil
}

func (d *BedrockDiscovery) newClient(ctx context.Context) (BedrockClient, error) {
	if d.clientFactory != nil {
		return d.clientFactory(d.config.Region), nil
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(d.config.Region))
	if err != nil {
		return nil, err
	}
	return bedrock.NewFromConfig(cfg), nil
}

// include keeps active, streaming-capable, text-output models that pass
// the provider filter.
func (d *BedrockDiscovery) include(summary types.FoundationModelSummary) bool {
	if summary.ModelId == nil || *summary.ModelId == "" {
		return false
	}
	if summary.ResponseStreamingSupported == nil || !*summary.ResponseStreamingSupported {
		return false
	}
	textOut := false
	for _, m := range summary.OutputModalities {
		if m == types.ModelModalityText {
			textOut = true
		}
	}
	if !textOut {
		return false
	}
	if summary.ModelLifecycle == nil || summary.ModelLifecycle.Status != types.FoundationModelLifecycleStatusActive {
		return false
	}

	if len(d.config.ProviderFilter) == 0 {
		return true
	}
	provider := ""
	if summary.ProviderName != nil {
		provider = *summary.ProviderName
	}
	for _, want := range d.config.ProviderFilter {
		if strings.EqualFold(want, provider) {
			return true
		}
	}
	return false
}

func (d *BedrockDiscovery) toModel(summary types.FoundationModelSummary) *Model {
	id := *summary.ModelId
	name := id
	if summary.ModelName != nil && *summary.ModelName != "" {
		name = *summary.ModelName
	}

	capabilities := []Capability{CapStreaming, CapTools}
	for _, m := range summary.InputModalities {
		if m == types.ModelModalityImage {
			capabilities = append(capabilities, CapVision)
			break
		}
	}

	return &Model{
		ID:            id,
		Name:          name,
		Provider:      ProviderBedrock,
		Tier:          TierStandard,
		ContextWindow: d.config.DefaultContextWindow,
		Capabilities:  capabilities,
	}
}
