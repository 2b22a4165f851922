// Package tools exposes the session-management verbs (spec.md §4.5) as
// callable tools, for backends whose Provider.Info().Capabilities.Tools
// is true. Adapted from the teacher's internal/tools package shape
// (Name/Description/Parameters/Execute + Result), trimmed of the
// teacher's tool-span usage/provider/model tracing fields since this
// spec carries no tool-execution tracing loop.
package tools

// Result is the unified return type from tool execution.
type Result struct {
	ForLLM  string `json:"for_llm"`            // content sent to the LLM
	ForUser string `json:"for_user,omitempty"` // content shown to the user
	Silent  bool   `json:"silent"`             // suppress user message
	IsError bool   `json:"is_error"`           // marks error
	Async   bool   `json:"async"`              // running asynchronously
	Err     error  `json:"-"`                  // internal error (not serialized)
}

// NewResult wraps plain content meant for the LLM.
func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

// SilentResult wraps content for the LLM with no user-visible echo.
func SilentResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM, Silent: true}
}

// ErrorResult marks a failed tool call.
func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

// UserResult wraps content that should be shown to both the LLM and the
// user verbatim.
func UserResult(content string) *Result {
	return &Result{ForLLM: content, ForUser: content}
}

// AsyncResult marks a tool call that continues running in the
// background.
func AsyncResult(message string) *Result {
	return &Result{ForLLM: message, Async: true}
}

// WithError attaches an internal (non-serialized) error for logging.
func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}
