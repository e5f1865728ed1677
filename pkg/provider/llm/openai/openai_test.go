package openai

import (
	"testing"

	"github.com/MrWong99/voxtutor/pkg/provider/llm"
)

func TestConvertMessage_Roles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role  string
		check func(t *testing.T, m llm.Message)
	}{
		{llm.RoleSystem, func(t *testing.T, m llm.Message) {
			p, err := convertMessage(m)
			if err != nil || p.OfSystem == nil {
				t.Fatalf("expected OfSystem, err=%v", err)
			}
		}},
		{llm.RoleUser, func(t *testing.T, m llm.Message) {
			p, err := convertMessage(m)
			if err != nil || p.OfUser == nil {
				t.Fatalf("expected OfUser, err=%v", err)
			}
		}},
		{llm.RoleAssistant, func(t *testing.T, m llm.Message) {
			p, err := convertMessage(m)
			if err != nil || p.OfAssistant == nil {
				t.Fatalf("expected OfAssistant, err=%v", err)
			}
			if !p.OfAssistant.Content.OfString.Valid() {
				t.Error("expected assistant content to be set")
			}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.role, func(t *testing.T) {
			t.Parallel()
			tc.check(t, llm.Message{Role: tc.role, Content: "Photosynthesis needs light."})
		})
	}
}

func TestConvertMessage_UnknownRole(t *testing.T) {
	t.Parallel()
	if _, err := convertMessage(llm.Message{Role: "tool", Content: "x"}); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Error("expected error for empty api key")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("expected error for empty model")
	}
	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL("http://localhost:1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Model() != "gpt-4o-mini" {
		t.Errorf("Model() = %q", p.Model())
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()
	p, err := New("sk-test", "gpt-4o-mini")
	if err != nil {
		t.Fatal(err)
	}

	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are a math tutor.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "What is 2+2?"}},
		Model:        "gpt-4o",
		Temperature:  0.7,
		MaxTokens:    256,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("expected system + user message, got %d", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("first message should be the system prompt")
	}
	if string(params.Model) != "gpt-4o" {
		t.Errorf("model override not applied: %q", params.Model)
	}
	if params.Temperature.Value != 0.7 {
		t.Errorf("temperature = %v", params.Temperature.Value)
	}
	if params.MaxCompletionTokens.Value != 256 {
		t.Errorf("max tokens = %v", params.MaxCompletionTokens.Value)
	}
}
