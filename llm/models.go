package llm

// ChatMessage is a provider-facing message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SystemMessage creates a system message.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: "system", Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: "user", Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: content}
}

// LLMResponse represents a response from an LLM provider.
type LLMResponse struct {
	Content string
	Usage   *TokenUsage
}

// TokenUsage contains token usage statistics.
type TokenUsage struct {
	PromptTokens     uint32
	CompletionTokens uint32
	TotalTokens      uint32
}
