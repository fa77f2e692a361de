package anthropic

import (
	"testing"

	"devloop/pkg/agent/llm"
)

func TestPrepareMessagesExtractsSystem(t *testing.T) {
	messages := []llm.CompletionMessage{
		llm.NewSystemMessage("you are a planner"),
		llm.NewUserMessage("plan this"),
	}

	system, prepared, err := prepareMessages(messages)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if system != "you are a planner" {
		t.Errorf("Expected system prompt extracted, got %q", system)
	}
	if len(prepared) != 1 || prepared[0].Role != llm.RoleUser {
		t.Errorf("Unexpected prepared messages: %+v", prepared)
	}
}

func TestPrepareMessagesMergesConsecutiveUsers(t *testing.T) {
	messages := []llm.CompletionMessage{
		llm.NewUserMessage("first"),
		llm.NewUserMessage("second"),
		llm.NewAssistantMessage("reply"),
		llm.NewUserMessage("third"),
	}

	_, prepared, err := prepareMessages(messages)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(prepared) != 3 {
		t.Fatalf("Expected 3 merged messages, got %d", len(prepared))
	}
	if prepared[0].Content != "first\n\nsecond" {
		t.Errorf("Expected merged user content, got %q", prepared[0].Content)
	}
	if prepared[1].Role != llm.RoleAssistant || prepared[2].Role != llm.RoleUser {
		t.Errorf("Unexpected alternation: %+v", prepared)
	}
}

func TestPrepareMessagesRejectsEmpty(t *testing.T) {
	if _, _, err := prepareMessages(nil); err == nil {
		t.Error("Expected error for empty message list")
	}
	if _, _, err := prepareMessages([]llm.CompletionMessage{llm.NewSystemMessage("only system")}); err == nil {
		t.Error("Expected error for system-only messages")
	}
}

func TestPrepareMessagesRejectsAssistantLast(t *testing.T) {
	messages := []llm.CompletionMessage{
		llm.NewUserMessage("ask"),
		llm.NewAssistantMessage("answer"),
	}
	if _, _, err := prepareMessages(messages); err == nil {
		t.Error("Expected error when last message is assistant")
	}
}

func TestModelName(t *testing.T) {
	client := NewClient("key", "claude-sonnet-4-5")
	if client.ModelName() != "claude-sonnet-4-5" {
		t.Errorf("Unexpected model name: %s", client.ModelName())
	}
}
