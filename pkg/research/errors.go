package research

import "fmt"

// PlanningError aborts a recursion level: without queries there is nothing
// to fan out over.
type PlanningError struct {
	Query string
	Err   error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning failed: %v", e.Err)
}

func (e *PlanningError) Unwrap() error { return e.Err }

// BranchError is a search or distillation failure for one query. It is
// logged and converted to an empty contribution.
type BranchError struct {
	Query string
	Err   error
}

func (e *BranchError) Error() string {
	return fmt.Sprintf("query %q failed: %v", e.Query, e.Err)
}

func (e *BranchError) Unwrap() error { return e.Err }

// SynthesisError means the final report could not be written.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("report generation failed: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
