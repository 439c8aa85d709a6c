package app

import (
	"testing"
	"time"
)

func TestNewOperation(t *testing.T) {
	start := time.Date(2024, 5, 1, 11, 0, 5, 0, time.FixedZone("CEST", 2*3600))

	tests := []struct {
		name     string
		command  string
		args     []string
		wantArgs string
	}{
		{name: "with args", command: "promote", args: []string{"hero", "v002"}, wantArgs: "hero v002"},
		{name: "no args", command: "status", wantArgs: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewOperation(tt.command, tt.args, start)

			if op.ID != "20240501T090005Z" {
				t.Errorf("ID = %q, want the UTC start stamp", op.ID)
			}
			if op.Command != tt.command || op.Args != tt.wantArgs {
				t.Errorf("op = %+v", op)
			}
			if !op.Succeeded() || op.Mutating {
				t.Errorf("new op succeeded=%v mutating=%v", op.Succeeded(), op.Mutating)
			}
		})
	}
}

func TestOperation_Lifecycle(t *testing.T) {
	op := NewOperation("promote-all", nil, time.Now())
	op.MarkMutating()
	op.Fail()
	if !op.Mutating || op.Succeeded() || op.Status != "error" {
		t.Errorf("op = %+v", op)
	}
}
