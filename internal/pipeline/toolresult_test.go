package pipeline

import (
	"strings"
	"testing"

	"claude-relay/internal/driver"
)

func TestAdaptToolResults_OAuthDriverLeavesBlocksUntouched(t *testing.T) {
	req := &driver.MessagesRequest{
		Messages: []driver.Message{
			{Role: "assistant", Content: []any{map[string]any{"type": "tool_use", "name": "read_file"}}},
		},
	}
	AdaptToolResults(req, driver.KindOAuth)

	blocks, ok := req.Messages[0].Content.([]any)
	if !ok || len(blocks) != 1 {
		t.Fatalf("expected the oauth path content left as a block array, got %+v", req.Messages[0].Content)
	}
	m := blocks[0].(map[string]any)
	if m["type"] != "tool_use" {
		t.Fatalf("expected the tool_use block untouched, got %+v", m)
	}
}

func TestAdaptToolResults_WebDriverFlattensToolBlocksToText(t *testing.T) {
	req := &driver.MessagesRequest{
		Messages: []driver.Message{
			{Role: "assistant", Content: []any{
				map[string]any{"type": "tool_use", "name": "read_file", "input": map[string]any{"path": "a.go"}},
			}},
			{Role: "user", Content: []any{
				map[string]any{"type": "tool_result", "tool_use_id": "tu_1", "content": "file contents"},
			}},
		},
	}
	AdaptToolResults(req, driver.KindWeb)

	useBlocks := req.Messages[0].Content.([]any)
	useText := useBlocks[0].(map[string]any)["text"].(string)
	if !strings.Contains(useText, "read_file") || !strings.Contains(useText, "a.go") {
		t.Fatalf("expected the flattened tool_use description to mention name and input, got %q", useText)
	}

	resultBlocks := req.Messages[1].Content.([]any)
	resultText := resultBlocks[0].(map[string]any)["text"].(string)
	if !strings.Contains(resultText, "tu_1") || !strings.Contains(resultText, "file contents") {
		t.Fatalf("expected the flattened tool_result description to mention the id and content, got %q", resultText)
	}
}

func TestAdaptToolResults_WebDriverLeavesPlainStringContentAlone(t *testing.T) {
	req := &driver.MessagesRequest{
		Messages: []driver.Message{{Role: "user", Content: "hello"}},
	}
	AdaptToolResults(req, driver.KindWeb)

	if req.Messages[0].Content != "hello" {
		t.Fatalf("expected a plain string content to be left alone, got %+v", req.Messages[0].Content)
	}
}

func TestIsTestMessage_MatchesKnownLivenessProbe(t *testing.T) {
	req := &driver.MessagesRequest{Messages: []driver.Message{{Role: "user", Content: "ping"}}}
	if !IsTestMessage(req, nil) {
		t.Fatal("expected 'ping' to match the default liveness probes")
	}
}

func TestIsTestMessage_CaseAndWhitespaceInsensitive(t *testing.T) {
	req := &driver.MessagesRequest{Messages: []driver.Message{{Role: "user", Content: "  Healthcheck  "}}}
	if !IsTestMessage(req, nil) {
		t.Fatal("expected a padded/differently-cased probe string to still match")
	}
}

func TestIsTestMessage_RealUserTurnDoesNotMatch(t *testing.T) {
	req := &driver.MessagesRequest{Messages: []driver.Message{{Role: "user", Content: "what's the weather today?"}}}
	if IsTestMessage(req, nil) {
		t.Fatal("expected a real user question not to be treated as a liveness probe")
	}
}

func TestIsTestMessage_MultiTurnRequestDoesNotMatch(t *testing.T) {
	req := &driver.MessagesRequest{Messages: []driver.Message{
		{Role: "user", Content: "ping"},
		{Role: "assistant", Content: "pong"},
	}}
	if IsTestMessage(req, nil) {
		t.Fatal("expected a multi-turn request not to short-circuit as a liveness probe")
	}
}

func TestIsTestMessage_CustomProbeSetOverridesDefault(t *testing.T) {
	req := &driver.MessagesRequest{Messages: []driver.Message{{Role: "user", Content: "are-you-there"}}}
	if IsTestMessage(req, nil) {
		t.Fatal("expected the custom probe not to match the default set")
	}
	if !IsTestMessage(req, map[string]bool{"are-you-there": true}) {
		t.Fatal("expected the custom probe set to match")
	}
}

func TestCannedReply_BuildsExpectedLivenessMessage(t *testing.T) {
	msg := CannedReply("claude-3-haiku-20240307")
	if msg.ID != "msg_liveness" || msg.Model != "claude-3-haiku-20240307" || msg.StopReason != "end_turn" {
		t.Fatalf("unexpected canned reply shape: %+v", msg)
	}
	if len(msg.Content) != 1 || msg.Content[0].Text != "ok" {
		t.Fatalf("expected a single 'ok' text block, got %+v", msg.Content)
	}
}
