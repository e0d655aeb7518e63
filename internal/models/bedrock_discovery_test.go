package models

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrock/types"
)

type fakeBedrockClient struct {
	output *bedrock.ListFoundationModelsOutput
	err    error
	calls  int
}

func (f *fakeBedrockClient) ListFoundationModels(ctx context.Context, params *bedrock.ListFoundationModelsInput, optFns ...func(*bedrock.Options)) (*bedrock.ListFoundationModelsOutput, error) {
	f.calls++
	return f.output, f.err
}

func activeSummary(id, provider string, streaming bool) types.FoundationModelSummary {
	return types.FoundationModelSummary{
		ModelId:                    aws.String(id),
		ModelName:                  aws.String(id),
		ProviderName:               aws.String(provider),
		ResponseStreamingSupported: aws.Bool(streaming),
		OutputModalities:           []types.ModelModality{types.ModelModalityText},
		InputModalities:            []types.ModelModality{types.ModelModalityText, types.ModelModalityImage},
		ModelLifecycle:             &types.FoundationModelLifecycle{Status: types.FoundationModelLifecycleStatusActive},
	}
}

func newTestDiscovery(client *fakeBedrockClient, filter []string) *BedrockDiscovery {
	d := NewBedrockDiscovery(BedrockDiscoveryConfig{
		Enabled:         true,
		RefreshInterval: time.Hour,
		ProviderFilter:  filter,
	}, nil)
	d.SetClientFactory(func(region string) BedrockClient { return client })
	return d
}

func TestBedrockDiscoveryFiltersAndConverts(t *testing.T) {
	client := &fakeBedrockClient{output: &bedrock.ListFoundationModelsOutput{
		ModelSummaries: []types.FoundationModelSummary{
			activeSummary("anthropic.claude-x", "Anthropic", true),
			activeSummary("meta.llama-y", "Meta", true),
			activeSummary("amazon.no-stream", "Amazon", false),
		},
	}}
	d := newTestDiscovery(client, []string{"anthropic"})

	discovered, err := d.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(discovered) != 1 || discovered[0].ID != "anthropic.claude-x" {
		t.Fatalf("discovered = %+v", discovered)
	}
	if discovered[0].Provider != ProviderBedrock || !discovered[0].SupportsVision() {
		t.Errorf("converted model = %+v", discovered[0])
	}
}

func TestBedrockDiscoveryCaches(t *testing.T) {
	client := &fakeBedrockClient{output: &bedrock.ListFoundationModelsOutput{
		ModelSummaries: []types.FoundationModelSummary{activeSummary("anthropic.claude-x", "Anthropic", true)},
	}}
	d := newTestDiscovery(client, nil)

	if _, err := d.Discover(context.Background()); err != nil {
		t.Fatalf("first discover: %v", err)
	}
	if _, err := d.Discover(context.Background()); err != nil {
		t.Fatalf("second discover: %v", err)
	}
	if client.calls != 1 {
		t.Errorf("API calls = %d, want 1 (cached)", client.calls)
	}
}

func TestBedrockDiscoveryDisabled(t *testing.T) {
	d := NewBedrockDiscovery(BedrockDiscoveryConfig{}, nil)
	discovered, err := d.Discover(context.Background())
	if err != nil || discovered != nil {
		t.Fatalf("disabled discovery = %v, %v", discovered, err)
	}
}

func TestBedrockDiscoveryRegisterWithCatalog(t *testing.T) {
	client := &fakeBedrockClient{output: &bedrock.ListFoundationModelsOutput{
		ModelSummaries: []types.FoundationModelSummary{activeSummary("anthropic.claude-x", "Anthropic", true)},
	}}
	d := newTestDiscovery(client, nil)
	catalog := NewCatalog()

	if err := d.RegisterWithCatalog(context.Background(), catalog); err != nil {
		t.Fatalf("RegisterWithCatalog() error = %v", err)
	}
	if _, ok := catalog.Get("anthropic.claude-x"); !ok {
		t.Error("discovered model not registered")
	}
}

func TestBedrockDiscoveryError(t *testing.T) {
	client := &fakeBedrockClient{err: errors.New("throttled")}
	d := newTestDiscovery(client, nil)
	if _, err := d.Discover(context.Background()); err == nil {
		t.Fatal("expected error from API failure")
	}
}
