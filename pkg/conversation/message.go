package conversation

import (
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleAssistant, RoleUser:
		return true
	default:
		return false
	}
}

// Message is a single chat turn. Reasoning and ReasoningTokens are only set on
// assistant messages, and only once their stream has completed.
type Message struct {
	Role            Role      `json:"role"`
	Content         string    `json:"content"`
	Timestamp       time.Time `json:"timestamp"`
	Reasoning       string    `json:"reasoning,omitempty"`
	ReasoningTokens int       `json:"reasoningTokens,omitempty"`
}

type MessageOption func(*Message)

func WithTime(t time.Time) MessageOption {
	return func(m *Message) {
		m.Timestamp = t
	}
}

func WithReasoning(reasoning string, tokens int) MessageOption {
	return func(m *Message) {
		m.Reasoning = reasoning
		m.ReasoningTokens = tokens
	}
}

func NewMessage(role Role, content string, opts ...MessageOption) Message {
	ret := Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&ret)
	}
	return ret
}

func NewUserMessage(content string, opts ...MessageOption) Message {
	return NewMessage(RoleUser, strings.TrimSpace(content), opts...)
}

func NewAssistantMessage(content string, opts ...MessageOption) Message {
	return NewMessage(RoleAssistant, content, opts...)
}

func NewSystemMessage(content string, opts ...MessageOption) Message {
	return NewMessage(RoleSystem, content, opts...)
}

func (m Message) HasReasoning() bool {
	return m.Reasoning != "" || m.ReasoningTokens > 0
}

func (m Message) String() string {
	return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(m.Content, "\n"))
}
