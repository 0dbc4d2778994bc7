package driver

import "testing"

func TestTool_IsWebSearch(t *testing.T) {
	cases := []struct {
		typ  string
		want bool
	}{
		{"web_search_20250305", true},
		{"web_search_v0", true},
		{"bash_20250124", false},
		{"text_editor_20250124", false},
		{"", false},
	}
	for _, c := range cases {
		if got := (Tool{Type: c.typ}).IsWebSearch(); got != c.want {
			t.Errorf("IsWebSearch(%q) = %v, want %v", c.typ, got, c.want)
		}
	}
}

func TestBuildPrompt_FlattensMessagesAndSystem(t *testing.T) {
	req := &MessagesRequest{
		System: "be concise",
		Messages: []Message{
			{Role: "user", Content: "hello there"},
			{Role: "assistant", Content: "hi, how can I help?"},
			{Role: "user", Content: []any{
				map[string]any{"type": "text", "text": "second question"},
			}},
		},
	}

	got := buildPrompt(req)
	want := "[System: be concise]\n\nhello there\n\n[Assistant: hi, how can I help?]\n\nsecond question"
	if got != want {
		t.Errorf("buildPrompt() = %q, want %q", got, want)
	}
}

func TestBuildPrompt_SkipsEmptyContent(t *testing.T) {
	req := &MessagesRequest{
		Messages: []Message{
			{Role: "user", Content: []any{map[string]any{"type": "tool_result"}}},
			{Role: "user", Content: "real text"},
		},
	}
	got := buildPrompt(req)
	if got != "real text" {
		t.Errorf("buildPrompt() = %q, want %q", got, "real text")
	}
}

func TestContentText_BlockArray(t *testing.T) {
	content := []any{
		map[string]any{"type": "text", "text": "a"},
		map[string]any{"type": "tool_use", "name": "x"},
		map[string]any{"type": "text", "text": "b"},
	}
	if got := contentText(content); got != "ab" {
		t.Errorf("contentText() = %q, want %q", got, "ab")
	}
}
