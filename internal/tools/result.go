package tools

// Result is what a tool hands back to the executor.
type Result struct {
	ForLLM  string `json:"for_llm"`
	IsError bool   `json:"is_error"`
	Err     error  `json:"-"`

	// Handoff is set when the tool asks for a human to take over the
	// conversation. The executor aborts the run with Handoff as the reason.
	Handoff string `json:"handoff,omitempty"`
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

func HandoffResult(reason string) *Result {
	return &Result{ForLLM: reason, Handoff: reason}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}
