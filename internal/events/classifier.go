// Package events normalizes raw agent CLI stream-json records into tagged
// events the activity state machine can consume. Classification never
// fails: anything it cannot make sense of comes back as KindUnknown.
package events

import (
	"encoding/json"
	"strings"
)

// Classify maps one raw record to its classified form. When a message holds
// several content blocks the first match wins, with text taking priority
// over tool_use, and tool_use over tool_result.
func Classify(raw RawEvent) Classified {
	switch raw.Kind {
	case "system":
		return Classified{Kind: KindSystem, Subtype: raw.Subtype}
	case "result":
		return Classified{Kind: KindResult, Subtype: raw.Subtype, IsError: raw.IsError, Content: raw.Result}
	case "assistant", "user":
		return classifyMessage(raw)
	default:
		return Classified{Kind: KindUnknown}
	}
}

// ClassifyJSON parses one stream-json line and classifies it. Malformed
// input yields KindUnknown.
func ClassifyJSON(line []byte) Classified {
	var raw RawEvent
	if err := json.Unmarshal(line, &raw); err != nil {
		return Classified{Kind: KindUnknown}
	}
	return Classify(raw)
}

func classifyMessage(raw RawEvent) Classified {
	content := raw.Content
	if raw.Message != nil {
		var msg struct {
			Content json.RawMessage `json:"content"`
		}
		if json.Unmarshal(raw.Message, &msg) == nil && msg.Content != nil {
			content = msg.Content
		}
	}
	if content == nil {
		return Classified{Kind: KindUnknown}
	}

	var blocks []contentBlock
	if err := json.Unmarshal(content, &blocks); err != nil {
		// Some records carry a bare string instead of a block list.
		var text string
		if json.Unmarshal(content, &text) == nil && text != "" {
			return Classified{Kind: KindThinking, Text: text}
		}
		return Classified{Kind: KindUnknown}
	}

	var firstToolUse, firstToolResult *contentBlock
	for i := range blocks {
		b := &blocks[i]
		switch b.Type {
		case "text":
			if b.Text != "" {
				return Classified{Kind: KindThinking, Text: b.Text}
			}
		case "tool_use":
			if firstToolUse == nil {
				firstToolUse = b
			}
		case "tool_result":
			if firstToolResult == nil {
				firstToolResult = b
			}
		}
	}
	if firstToolUse != nil {
		return classifyToolUse(firstToolUse)
	}
	if firstToolResult != nil {
		return Classified{Kind: KindToolResult, Content: firstToolResult.Content, IsError: firstToolResult.IsError}
	}
	return Classified{Kind: KindUnknown}
}

func classifyToolUse(block *contentBlock) Classified {
	ev := Classified{Kind: KindToolUse, ToolName: block.Name}

	var input toolInput
	if block.Input != nil {
		// Malformed input is treated as no data, not an error.
		_ = json.Unmarshal(block.Input, &input)
	}
	ev.Command = input.Command
	ev.FilePath = input.FilePath
	ev.OldText = input.OldString
	ev.NewText = input.NewString
	if ev.NewText == "" && input.Content != "" {
		ev.NewText = input.Content
	}

	if isShellTool(block.Name) && input.Command != "" {
		switch {
		case strings.Contains(input.Command, "check_messages"):
			ev.Subtype = SubtypeCheckMessages
		case strings.Contains(input.Command, "send_message"):
			ev.Subtype = SubtypeSendMessage
			ev.MessageContent, ev.HasMessage = ExtractMessageContent(input.Command)
		}
	}
	return ev
}

func isShellTool(name string) bool {
	return name == "Bash" || name == "bash" || name == "Shell"
}
