package chat

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ToolCall is a tool invocation requested by an assistant message.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// Message is one entry in a conversation. Content is mutable while a
// response streams. ResponseGroupID is non-empty iff the message is one
// candidate among parallel candidates for the same user turn.
type Message struct {
	ID               string    `json:"id"`
	Role             Role      `json:"role"`
	Content          string    `json:"content"`
	ResponseGroupID  string    `json:"response_group_id,omitempty"`
	SelectedResponse bool      `json:"selected_response,omitempty"`
	// ToolCall is the active tool invocation, eligible for approval and
	// execution. PendingToolCall is withheld until the message's branch is
	// selected, so side effects never run for a discarded candidate.
	ToolCall        *ToolCall `json:"tool_call,omitempty"`
	PendingToolCall *ToolCall `json:"pending_tool_call,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// AppendContent appends one streamed chunk.
func (m *Message) AppendContent(chunk string) {
	if m == nil {
		return
	}
	m.Content += chunk
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	clone := *m
	if m.ToolCall != nil {
		tc := *m.ToolCall
		clone.ToolCall = &tc
	}
	if m.PendingToolCall != nil {
		tc := *m.PendingToolCall
		clone.PendingToolCall = &tc
	}
	return &clone
}
