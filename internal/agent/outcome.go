package agent

import "errors"

// OutcomeKind tags what a tool invocation means for the run.
type OutcomeKind int

const (
	OutcomeContinue OutcomeKind = iota
	OutcomeToolError
	OutcomeHandoff
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeContinue:
		return "continue"
	case OutcomeToolError:
		return "tool_error"
	case OutcomeHandoff:
		return "handoff"
	}
	return "unknown"
}

// RunOutcome is the result of one tool call. Text is the tool answer for
// Continue and ToolError, and the handoff reason for Handoff.
type RunOutcome struct {
	Kind OutcomeKind
	Text string
}

func Continue(text string) RunOutcome  { return RunOutcome{Kind: OutcomeContinue, Text: text} }
func ToolError(text string) RunOutcome { return RunOutcome{Kind: OutcomeToolError, Text: text} }
func Handoff(reason string) RunOutcome { return RunOutcome{Kind: OutcomeHandoff, Text: reason} }

// Handoff reasons raised by the executor and the coordinator.
const (
	OutOfTimeReason         = "Agent ran out of time. Please, take over the conversation."
	IrregularHandoverReason = "The agent is handing over the conversation, please read the conversation history carefully."
)

// HandoffError ends a run and asks a human to take over. Reason is shown to
// the human colleague as is.
type HandoffError struct {
	Reason string
}

func (e *HandoffError) Error() string { return e.Reason }

// AsHandoff returns the handoff carried by err, if any.
func AsHandoff(err error) (*HandoffError, bool) {
	var h *HandoffError
	if errors.As(err, &h) {
		return h, true
	}
	return nil, false
}
