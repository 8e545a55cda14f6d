// Package model provides domain types shared across packages.
package model

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ChatMessage is one turn of a conversation. Timestamp is unix milliseconds.
type ChatMessage struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp *int64 `json:"timestamp,omitempty"`
}

// MessagePair is a user turn matched with the assistant turn that answered it.
// Pairs are always derived from a message list and never stored on their own.
type MessagePair struct {
	User       ChatMessage `json:"user"`
	Assistant  ChatMessage `json:"assistant"`
	Timestamp  int64       `json:"timestamp"`
	TokenCount *int        `json:"tokenCount,omitempty"`
}

// GenerationOptions tune a single run.
type GenerationOptions struct {
	EnhanceWithContext bool     `json:"enhanceWithContext"`
	MaxContextItems    int      `json:"maxContextItems"`
	IncludeSourceInfo  bool     `json:"includeSourceInfo"`
	MaxTokens          int      `json:"maxTokens"`
	ModelID            string   `json:"modelId,omitempty"`
	Temperature        *float64 `json:"temperature,omitempty"`
}

// Document is a retrieved context item attached to a run.
type Document struct {
	ID      string  `json:"id"`
	Source  string  `json:"source"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// Metadata carries run bookkeeping. StartTime is high-resolution unix milliseconds.
type Metadata struct {
	StartTime float64        `json:"startTime"`
	Model     string         `json:"model,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// ExecutionState is the full state of one run. It is owned by exactly one
// run for the run's lifetime.
type ExecutionState struct {
	UserID        string            `json:"userId"`
	Messages      []ChatMessage     `json:"messages"`
	ChatHistory   []MessagePair     `json:"chatHistory"`
	Options       GenerationOptions `json:"options"`
	RunID         string            `json:"runId"`
	Metadata      Metadata          `json:"metadata"`
	TaskIDs       []string          `json:"taskIds"`
	Docs          []Document        `json:"docs"`
	GeneratedText string            `json:"generatedText"`
}

// LastUserMessage returns the most recent user message, if any.
func (s *ExecutionState) LastUserMessage() (ChatMessage, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i], true
		}
	}
	return ChatMessage{}, false
}

// Request is the input to a new run.
type Request struct {
	UserID   string             `json:"userId"`
	Messages []ChatMessage      `json:"messages"`
	Options  *GenerationOptions `json:"options,omitempty"`
	RunID    string             `json:"runId,omitempty"`
}

// ResumeRequest continues an existing run, optionally with one new message.
type ResumeRequest struct {
	RunID      string       `json:"runId"`
	NewMessage *ChatMessage `json:"newMessage,omitempty"`
}

// Checkpoint is the persisted snapshot of a run. There is at most one per RunID.
type Checkpoint struct {
	RunID     string
	UserID    string
	Step      string
	StateJSON []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RetentionRecord notes that data of a category exists for a run and when it
// becomes eligible for deletion.
type RetentionRecord struct {
	RunID        string
	UserID       string
	DataCategory string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// CategoryChatHistory is the retention category registered for every run.
const CategoryChatHistory = "chatHistory"
