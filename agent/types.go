// Package agent provides the execution engine that drives a run: it restores
// prior state, retrieves context documents and generates the reply.
//
// Contains the run configuration and the events the engine emits.
package agent

import "github.com/richinex/relay/llm"

// StreamMode selects which events a streaming run emits.
type StreamMode string

const (
	// StreamMessages emits one event per generated text chunk.
	StreamMessages StreamMode = "messages"
	// StreamUpdates emits one event after each node completes.
	StreamUpdates StreamMode = "updates"
	// StreamError is used for the trailing frame of a failed stream.
	StreamError StreamMode = "error"
)

// Configurable carries per-invocation identifiers.
type Configurable struct {
	ThreadID string `json:"thread_id"`
	RunID    string `json:"runId"`
}

// RunConfig configures one engine invocation.
type RunConfig struct {
	Configurable Configurable
	// StreamModes filters streamed events. Empty means all modes.
	StreamModes []StreamMode
	Model       llm.ModelConfig
	Limits      llm.ContextLimits
}

// Streams reports whether events of mode should be emitted.
func (c RunConfig) Streams(mode StreamMode) bool {
	if len(c.StreamModes) == 0 {
		return true
	}
	for _, m := range c.StreamModes {
		if m == mode {
			return true
		}
	}
	return false
}

// Event is one item of a streaming run.
type Event struct {
	Mode StreamMode `json:"event"`
	Node string     `json:"node,omitempty"`
	Data any        `json:"data,omitempty"`
}

// MessageChunk is the payload of a messages event.
type MessageChunk struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

// Node names, in execution order.
const (
	NodeRestore  = "restore"
	NodeRetrieve = "retrieve"
	NodeGenerate = "generate"
)
