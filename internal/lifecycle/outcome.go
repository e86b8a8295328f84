package lifecycle

import (
	"fmt"
	"runtime/debug"
)

// Status is the kind of an [Outcome].
type Status int

const (
	Succeeded Status = iota + 1
	Skipped
	Failed
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the single result of a run. Reason is set when Status is Skipped, Err when it is
// Failed.
type Outcome struct {
	Status Status
	Reason string
	Err    error
}

// Success returns a Succeeded outcome.
func Success() Outcome { return Outcome{Status: Succeeded} }

// Skip returns a Skipped outcome with reason.
func Skip(reason string) Outcome { return Outcome{Status: Skipped, Reason: reason} }

// Fail returns a Failed outcome carrying err.
func Fail(err error) Outcome { return Outcome{Status: Failed, Err: err} }

func (o Outcome) String() string {
	switch o.Status {
	case Skipped:
		return "skipped: " + o.Reason
	case Failed:
		return fmt.Sprintf("failed: %v", o.Err)
	default:
		return o.Status.String()
	}
}

// Reporter records the result of a run.
type Reporter interface {
	// Skip marks the run as skipped for an environment reason.
	Skip(reason string)
	// Diagnostic records an informational message, such as a line of container stderr.
	Diagnostic(message string)
	// Reraise surfaces a failure raised by the test body.
	Reraise(err error)
}

// Report hands o to r. Succeeded outcomes report nothing.
func Report(r Reporter, o Outcome) {
	switch o.Status {
	case Skipped:
		r.Skip(o.Reason)
	case Failed:
		r.Reraise(o.Err)
	}
}

// PanicError is returned when the test body panics.
type PanicError struct {
	Value any
	Stack []byte
}

func newPanicError(v any) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("test body panicked: %v\n%s", e.Value, e.Stack)
}

// Unwrap returns the panic value if it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
