package harness

import (
	"github.com/roach88/icm/internal/commission"
	"github.com/roach88/icm/internal/execlog"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Pass indicates overall success: the expect clause and every
	// assertion held.
	Pass bool `json:"pass"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Execution is the result the engine returned.
	Execution commission.Result `json:"execution"`

	// Log is the finished execution log.
	Log *execlog.Log `json:"log,omitempty"`

	// Saved holds the results written to the plan store, in write order.
	Saved []commission.Result `json:"saved,omitempty"`

	// Marked lists plan ids marked executed, in call order.
	Marked []string `json:"marked,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
