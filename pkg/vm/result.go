package vm

import (
	"fmt"
	"strings"

	"github.com/daimatz/jvmexec/pkg/heap"
)

// Status is the terminal state of one Execute call.
type Status int

const (
	StatusSuccess Status = iota
	StatusException
	StatusLimitExceeded
	StatusResolutionError
	StatusUnsupported
	StatusArrayBounds
)

var statusNames = [...]string{
	StatusSuccess:         "SUCCESS",
	StatusException:       "EXCEPTION",
	StatusLimitExceeded:   "LIMIT_EXCEEDED",
	StatusResolutionError: "RESOLUTION_ERROR",
	StatusUnsupported:     "UNSUPPORTED",
	StatusArrayBounds:     "ARRAY_BOUNDS",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

// Fault is a structured engine failure. Every status other than SUCCESS and
// EXCEPTION is carried by a Fault while the interpreter unwinds.
type Fault struct {
	Status Status
	Detail string
	Cause  error
}

func faultf(status Status, format string, args ...any) *Fault {
	return &Fault{Status: status, Detail: fmt.Sprintf(format, args...)}
}

func (f *Fault) Error() string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(f.Status.String())
	b.WriteByte(']')
	if f.Detail != "" {
		b.WriteString(" ")
		b.WriteString(f.Detail)
	}
	if f.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(f.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

func (f *Fault) Unwrap() error { return f.Cause }

// Is matches another Fault with the same status.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	return ok && t.Status == f.Status
}

// Sentinel faults for errors.Is checks.
var (
	ErrLimitExceeded = &Fault{Status: StatusLimitExceeded}
	ErrResolution    = &Fault{Status: StatusResolutionError}
	ErrUnsupported   = &Fault{Status: StatusUnsupported}
	ErrException     = &Fault{Status: StatusException}
	ErrArrayBounds   = &Fault{Status: StatusArrayBounds}
)

// ExceptionInfo describes a throwable that escaped the root frame.
type ExceptionInfo struct {
	Ref     heap.Value
	Class   string
	Message string
}

func (e *ExceptionInfo) String() string {
	name := strings.ReplaceAll(e.Class, "/", ".")
	if e.Message == "" {
		return name
	}
	return name + ": " + e.Message
}

// Result is the outcome of one Execute call.
type Result struct {
	Status Status
	// ReturnValue is the zero Value for void methods and failed runs.
	ReturnValue heap.Value
	Exception   *ExceptionInfo
	// InstructionsExecuted counts opcodes across the whole call tree.
	InstructionsExecuted int64
	MaxDepth             int
	Trace                *Trace
	Stdout               string
	Stderr               string
	Detail               string
}

// OK reports whether the run completed normally.
func (r *Result) OK() bool { return r.Status == StatusSuccess }

// Err converts a failed result to an error; it returns nil on success.
func (r *Result) Err() error {
	switch r.Status {
	case StatusSuccess:
		return nil
	case StatusException:
		return &Fault{Status: StatusException, Detail: r.Exception.String()}
	}
	return &Fault{Status: r.Status, Detail: r.Detail}
}

func (r *Result) String() string {
	switch r.Status {
	case StatusSuccess:
		return fmt.Sprintf("SUCCESS %s (%d instructions)", r.ReturnValue, r.InstructionsExecuted)
	case StatusException:
		return fmt.Sprintf("EXCEPTION %s (%d instructions)", r.Exception, r.InstructionsExecuted)
	}
	return fmt.Sprintf("%s %s (%d instructions)", r.Status, r.Detail, r.InstructionsExecuted)
}
