// Engine configuration types.
//
// Information Hiding:
// - Prompt wording and default values hidden

package agent

// Config holds engine configuration.
type Config struct {
	// Name identifies the engine in logs.
	Name string

	// SystemPrompt guides the model's behavior.
	SystemPrompt string

	// ContextHeader introduces retrieved documents in the prompt.
	ContextHeader string
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		Name:          "relay",
		SystemPrompt:  "You are a helpful assistant. Answer clearly and concisely.",
		ContextHeader: "Use the following context when it is relevant to the question:",
	}
}
