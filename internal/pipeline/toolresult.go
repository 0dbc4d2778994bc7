package pipeline

import (
	"encoding/json"

	"claude-relay/internal/driver"
)

// AdaptToolResults implements stage 2, ToolResultAdapter: reshapes inbound
// client tool-result messages into the format the selected driver expects
// (stage 2). OAuthDriver forwards the Messages API body almost
// unchanged, so tool_use/tool_result blocks pass through as-is.
// WebDriver has no native tool-result schema — its completion endpoint
// only takes a flat prompt string — so tool_use/tool_result blocks are
// flattened to descriptive text placeholders before buildPrompt runs.
// Grounded on proxy.go's FilterSignatureSensitiveBlocksForRetry, which
// performs the same tool_use/tool_result -> text collapse for a different
// reason (signature-sensitive retry) using the same block shapes.
func AdaptToolResults(req *driver.MessagesRequest, kind driver.Kind) {
	if kind != driver.KindWeb {
		return
	}
	for i := range req.Messages {
		blocks, ok := req.Messages[i].Content.([]any)
		if !ok {
			continue
		}
		req.Messages[i].Content = flattenToolBlocks(blocks)
	}
}

func flattenToolBlocks(blocks []any) []any {
	out := make([]any, 0, len(blocks))
	for _, b := range blocks {
		m, ok := b.(map[string]any)
		if !ok {
			out = append(out, b)
			continue
		}
		switch m["type"] {
		case "tool_use":
			out = append(out, map[string]any{"type": "text", "text": describeToolUse(m)})
		case "tool_result":
			out = append(out, map[string]any{"type": "text", "text": describeToolResult(m)})
		default:
			out = append(out, b)
		}
	}
	return out
}

func describeToolUse(m map[string]any) string {
	name, _ := m["name"].(string)
	input, _ := json.Marshal(m["input"])
	text := "(tool_use)"
	if name != "" {
		text += " name=" + name
	}
	if len(input) > 0 && string(input) != "null" {
		text += " input=" + string(input)
	}
	return text
}

func describeToolResult(m map[string]any) string {
	toolUseID, _ := m["tool_use_id"].(string)
	content, _ := json.Marshal(m["content"])
	text := "(tool_result)"
	if toolUseID != "" {
		text += " tool_use_id=" + toolUseID
	}
	if len(content) > 0 && string(content) != "null" {
		text += "\n" + string(content)
	}
	return text
}
