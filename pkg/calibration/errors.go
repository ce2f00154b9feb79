package calibration

import "fmt"

// ConsistencyError reports a mark that breaks step monotonicity: a higher
// page starting before a lower one. Under PolicyAccept it is a warning that
// comes back alongside a successful write.
type ConsistencyError struct {
	Page          int
	Steps         int64
	NeighborPage  int
	NeighborSteps int64
	Rejected      bool
}

func (e *ConsistencyError) Error() string {
	verb := "recorded"
	if e.Rejected {
		verb = "rejected"
	}
	return fmt.Sprintf("page %d at %d steps is out of order with page %d at %d steps (%s)",
		e.Page, e.Steps, e.NeighborPage, e.NeighborSteps, verb)
}

// FormatError is returned when a calibration document or a status report
// cannot be understood. The previous state is left untouched.
type FormatError struct {
	Source string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	msg := fmt.Sprintf("malformed %s: %s", e.Source, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Err }

// RangeError is returned for page numbers or step positions outside of
// their valid range.
type RangeError struct {
	Op    string
	Field string
	Value int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: %s must not be negative, got %d", e.Op, e.Field, e.Value)
}
