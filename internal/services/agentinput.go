package services

import (
	"scriptworld/internal/graph"
	"scriptworld/internal/signal"
)

// AgentInput delivers externally submitted inputs to scripts. The core
// attaches no meaning to the kind tag: the vocabulary belongs to each
// game's script, and unrecognized kinds are delivered all the same.
type AgentInput struct {
	InputReceived *signal.Signal
}

func newAgentInput() *AgentInput {
	return &AgentInput{
		InputReceived: signal.New("InputReceived"),
	}
}

func (a *AgentInput) ServiceName() string { return "AgentInputService" }

// SetErrorSink routes handler errors into the engine's script error
// accounting.
func (a *AgentInput) SetErrorSink(sink signal.ErrorSink) {
	a.InputReceived.SetErrorSink(sink)
}

// Deliver fires InputReceived with (player, kind, payload). Called by
// the scheduler while draining the input queue, once per queued input.
func (a *AgentInput) Deliver(player graph.Handle, kind string, payload map[string]any) {
	a.InputReceived.Fire(player, kind, payload)
}
