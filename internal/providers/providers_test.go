package providers_test

import (
	"context"
	"errors"
	"testing"

	"github.com/petec4244/Ai3-Orchestrator/common/llm"
	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
	"github.com/petec4244/Ai3-Orchestrator/internal/providers"
)

type fakeClient struct {
	resp *llm.AgentResponse
	err  error
}

func (c *fakeClient) ChatWithTools(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
	return c.resp, c.err
}

func (c *fakeClient) Model() string { return "fake-model" }

func TestExecute_Success_ReturnsArtifactWithBinding(t *testing.T) {
	client := &fakeClient{resp: &llm.AgentResponse{Content: "hello", PromptTokens: 10, CompletionTokens: 5}}
	adapter := providers.NewAdapter(domain.ProviderStub, client)

	artifact, err := adapter.Execute(context.Background(), "prompt", "model-x", providers.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifact.Content != "hello" {
		t.Fatalf("unexpected content: %q", artifact.Content)
	}
	if artifact.Binding.ModelID != "model-x" || artifact.Binding.ProviderID != domain.ProviderStub {
		t.Fatalf("unexpected binding: %+v", artifact.Binding)
	}
	if artifact.Status != domain.ArtifactProduced {
		t.Fatalf("expected ArtifactProduced, got %v", artifact.Status)
	}
}

func TestExecute_ClientError_NormalizesToProviderError(t *testing.T) {
	client := &fakeClient{err: errors.New("network blip")}
	adapter := providers.NewAdapter(domain.ProviderStub, client)

	_, err := adapter.Execute(context.Background(), "prompt", "model-x", providers.Options{})
	var perr *domain.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected a *domain.ProviderError, got %T: %v", err, err)
	}
}

func TestProviderID_ReflectsConstructorArgument(t *testing.T) {
	adapter := providers.NewAdapter(domain.ProviderAnthropic, &fakeClient{})
	if adapter.ProviderID() != domain.ProviderAnthropic {
		t.Fatalf("expected anthropic, got %v", adapter.ProviderID())
	}
}

func TestSupportsStreaming_FalseForStubProvider(t *testing.T) {
	adapter := providers.NewAdapter(domain.ProviderStub, &fakeClient{})
	if adapter.SupportsStreaming() {
		t.Fatal("stub provider should not advertise streaming support")
	}
}

func TestBank_RegisterAndFor(t *testing.T) {
	bank := providers.NewBank()
	adapter := providers.NewAdapter(domain.ProviderOpenAI, &fakeClient{})
	bank.Register(adapter)

	got, err := bank.For(domain.ProviderOpenAI)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ProviderID() != domain.ProviderOpenAI {
		t.Fatalf("unexpected adapter returned: %+v", got)
	}
}

func TestBank_For_UnregisteredProvider_ReturnsError(t *testing.T) {
	bank := providers.NewBank()
	if _, err := bank.For(domain.ProviderXAI); err == nil {
		t.Fatal("expected an error for an unregistered provider")
	}
}
