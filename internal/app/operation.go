package app

import (
	"strings"
	"time"
)

// Operation tracks one CLI invocation. Its ID tags every log line. Only
// commands that can append to the ledger are marked mutating; Close snapshots
// the ledger to the archive for those.
type Operation struct {
	ID        string
	Command   string
	Args      string
	StartedAt time.Time
	Mutating  bool
	Status    string // "success" or "error"
}

// NewOperation creates an operation started at now.
func NewOperation(command string, args []string, now time.Time) *Operation {
	now = now.UTC()
	return &Operation{
		ID:        now.Format("20060102T150405Z"),
		Command:   command,
		Args:      strings.Join(args, " "),
		StartedAt: now,
		Status:    "success",
	}
}

// MarkMutating flags the operation as one whose ledger changes must be
// archived.
func (op *Operation) MarkMutating() {
	op.Mutating = true
}

// Fail records that the operation ended in an error.
func (op *Operation) Fail() {
	op.Status = "error"
}

// Succeeded reports whether no step of the operation failed.
func (op *Operation) Succeeded() bool {
	return op.Status == "success"
}
