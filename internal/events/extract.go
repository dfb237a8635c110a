package events

import (
	"encoding/json"
	"regexp"
	"strings"
)

// The send_message shell invocation embeds the outgoing message as a JSON
// payload, but quoting varies with how the agent happens to write the curl
// line. Extraction tries progressively looser strategies and reports
// failure rather than erroring.
var (
	jsonContentPattern   = regexp.MustCompile(`"content"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	equalsContentPattern = regexp.MustCompile(`content\s*=\s*"((?:[^"\\]|\\.)*)"`)
	singleQuotePattern   = regexp.MustCompile(`'content'\s*:\s*'([^']*)'`)
	equalsSinglePattern  = regexp.MustCompile(`content\s*=\s*'([^']*)'`)
)

// ExtractMessageContent pulls the message text out of a send_message shell
// command. The second return is false when no strategy matched.
func ExtractMessageContent(command string) (string, bool) {
	if m := jsonContentPattern.FindStringSubmatch(command); m != nil {
		return unescape(m[1]), true
	}

	// Full JSON decode of the request body, for payloads where content is
	// not a flat string literal (or uses the legacy "message" key).
	if text, ok := decodePayload(command); ok {
		return text, true
	}

	if m := equalsContentPattern.FindStringSubmatch(command); m != nil {
		return unescape(m[1]), true
	}
	if m := singleQuotePattern.FindStringSubmatch(command); m != nil {
		return m[1], true
	}
	if m := equalsSinglePattern.FindStringSubmatch(command); m != nil {
		return m[1], true
	}
	return "", false
}

func decodePayload(command string) (string, bool) {
	start := strings.Index(command, "{")
	end := strings.LastIndex(command, "}")
	if start < 0 || end <= start {
		return "", false
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(command[start:end+1]), &payload); err != nil {
		return "", false
	}
	if text, ok := payload["content"].(string); ok {
		return text, true
	}
	if text, ok := payload["message"].(string); ok {
		return text, true
	}
	return "", false
}

// unescape resolves backslash escapes in a captured string body. It feeds
// the capture back through the JSON decoder so \", \\, \n and \uXXXX all
// behave; undecodable captures fall back to the two common escapes.
func unescape(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err == nil {
		return out
	}
	s = strings.ReplaceAll(s, `\"`, `"`)
	return strings.ReplaceAll(s, `\\`, `\`)
}
