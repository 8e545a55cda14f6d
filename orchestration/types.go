// Package orchestration coordinates runs: it builds the execution state,
// resolves a model, drives the engine and frames its output.
//
// Types shared by the coordinator and the multiplexer.
package orchestration

import (
	"context"
	"encoding/json"
	"iter"

	"github.com/richinex/relay/agent"
	"github.com/richinex/relay/model"
)

// Engine executes a run. *agent.Graph satisfies it.
type Engine interface {
	Invoke(ctx context.Context, st *model.ExecutionState, cfg agent.RunConfig) (*model.ExecutionState, error)
	Stream(ctx context.Context, st *model.ExecutionState, cfg agent.RunConfig) iter.Seq2[agent.Event, error]
}

var _ Engine = (*agent.Graph)(nil)

// Phase is the lifecycle stage of one run.
type Phase int

const (
	PhaseBuilding Phase = iota
	PhaseResolving
	PhaseExecuting
	PhaseCompleted
	PhaseFailed
)

// String returns the phase name used in logs.
func (p Phase) String() string {
	switch p {
	case PhaseBuilding:
		return "building"
	case PhaseResolving:
		return "resolving"
	case PhaseExecuting:
		return "executing"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of a one-shot run.
type Result struct {
	RunID   string          `json:"runId"`
	Model   string          `json:"model"`
	Payload json.RawMessage `json:"payload"`
}

// Run modes, used as metric labels.
const (
	modeOnce   = "once"
	modeStream = "stream"
)
