package events

import "encoding/json"

// Kind tags a classified activity event.
type Kind string

const (
	KindSystem     Kind = "system"
	KindResult     Kind = "result"
	KindThinking   Kind = "thinking"
	KindToolUse    Kind = "tool_use"
	KindToolResult Kind = "tool_result"
	KindUnknown    Kind = "unknown"
)

// Subtypes attached to tool_use events for the two shell invocations the
// avatar cares about.
const (
	SubtypeCheckMessages = "check_messages"
	SubtypeSendMessage   = "send_message"
)

// RawEvent mirrors one line of the agent CLI's stream-json output. Only the
// fields the classifier reads are declared; everything else passes through
// Message untouched.
type RawEvent struct {
	Kind    string          `json:"type"`
	Subtype string          `json:"subtype,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
	// Some producers put the content array at the top level instead of
	// inside message.
	Content json.RawMessage `json:"content,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
}

// contentBlock is one entry of a message's content array.
type contentBlock struct {
	Type    string          `json:"type"`
	Text    string          `json:"text,omitempty"`
	Name    string          `json:"name,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
}

// toolInput carries the tool parameters the avatar animates from.
type toolInput struct {
	Command   string `json:"command,omitempty"`
	FilePath  string `json:"file_path,omitempty"`
	OldString string `json:"old_string,omitempty"`
	NewString string `json:"new_string,omitempty"`
	Content   string `json:"content,omitempty"`
}

// Classified is the normalized, immutable form of one raw record. Produced
// exactly once per record by Classify.
type Classified struct {
	Kind    Kind
	Subtype string

	// Thinking text for KindThinking events.
	Text string

	// Tool details for KindToolUse events.
	ToolName string
	Command  string
	FilePath string
	OldText  string
	NewText  string

	// Extracted send_message payload. HasMessage distinguishes an empty
	// message from a failed extraction.
	MessageContent string
	HasMessage     bool

	// Raw tool_result content for KindToolResult events.
	Content json.RawMessage
	IsError bool
}
