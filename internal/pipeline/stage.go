package pipeline

import "fmt"

// Stage is one state of a run.
type Stage int

const (
	Idle Stage = iota
	ReadInput
	NormalizeFields
	ResolveReferences
	ResolvePeriod
	UpsertCustomers
	LoadFacts
	Done
	Aborted
)

var stageNames = [...]string{
	Idle:              "idle",
	ReadInput:         "read_input",
	NormalizeFields:   "normalize_fields",
	ResolveReferences: "resolve_references",
	ResolvePeriod:     "resolve_period",
	UpsertCustomers:   "upsert_customers",
	LoadFacts:         "load_facts",
	Done:              "done",
	Aborted:           "aborted",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// StageError is returned by Run when a stage fails. The run transaction has
// been rolled back by the time the caller sees it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("pipeline: %s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }
