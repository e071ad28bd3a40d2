package advisor

import (
	"context"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"copydesk/api/internal/policy"
)

type fakeCompleter struct {
	gotReq openai.ChatCompletionRequest
	reply  string
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.gotReq = req
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.reply}},
		},
	}, nil
}

func TestRespondBuildsMessageList(t *testing.T) {
	completer := &fakeCompleter{reply: "Hello."}
	svc := NewWithCompleter(completer, "test-model")

	reply, err := svc.Respond(context.Background(), "system prompt", []Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "list news"},
	})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if reply != "Hello." {
		t.Errorf("reply = %q", reply)
	}
	if completer.gotReq.Model != "test-model" {
		t.Errorf("model = %q", completer.gotReq.Model)
	}
	msgs := completer.gotReq.Messages
	if len(msgs) != 4 {
		t.Fatalf("expected system + 3 history messages, got %d", len(msgs))
	}
	if msgs[0].Role != openai.ChatMessageRoleSystem || msgs[0].Content != "system prompt" {
		t.Errorf("system message wrong: %+v", msgs[0])
	}
	if msgs[2].Role != openai.ChatMessageRoleAssistant {
		t.Errorf("assistant role not mapped: %+v", msgs[2])
	}
}

func TestRespondEmptyChoices(t *testing.T) {
	svc := NewWithCompleter(&emptyCompleter{}, "test-model")
	if _, err := svc.Respond(context.Background(), "s", nil); err == nil {
		t.Fatal("expected error for empty response")
	}
}

type emptyCompleter struct{}

func (emptyCompleter) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{}, nil
}

func TestSystemPromptReflectsRole(t *testing.T) {
	editor := BuildSystemPrompt(Identity{DisplayName: "Erin", Role: policy.RoleEditor})
	if !strings.Contains(editor, "Erin") || !strings.Contains(editor, "publish immediately") {
		t.Errorf("editor prompt missing permissions:\n%s", editor)
	}
	if strings.Contains(editor, "### Bio") {
		t.Error("editor prompt must not offer the bio type")
	}

	lead := BuildSystemPrompt(Identity{DisplayName: "Lee", Role: policy.RoleGroupLead, Group: policy.GroupOxford})
	if !strings.Contains(lead, "oxford") {
		t.Errorf("group lead prompt missing group:\n%s", lead)
	}
	if strings.Contains(lead, "### News") {
		t.Error("group lead prompt must not offer site news")
	}

	contrib := BuildSystemPrompt(Identity{DisplayName: "Casey", Role: policy.RoleContributor})
	if !strings.Contains(contrib, "pending draft") {
		t.Errorf("contributor prompt missing review note:\n%s", contrib)
	}
	if !strings.Contains(contrib, "```json") {
		t.Error("prompt missing action block format")
	}
	if !strings.Contains(contrib, `"action": "create"`) || !strings.Contains(contrib, "content_type") {
		t.Error("prompt missing the action vocabulary")
	}
}
