package vm

import (
	"errors"
	"fmt"

	"github.com/daimatz/jvmexec/pkg/heap"
	"github.com/daimatz/jvmexec/pkg/native"
)

const (
	classThrowable      = "java/lang/Throwable"
	classClassCast      = "java/lang/ClassCastException"
	classAbstractMethod = "java/lang/AbstractMethodError"
)

// newThrowable allocates an exception object without running a
// constructor; the detail message is stored directly.
func (r *run) newThrowable(class, message string) (heap.Value, error) {
	h, err := r.heap.NewObject(class)
	if err != nil {
		return heap.Value{}, r.fault(err)
	}
	exc := heap.Ref(h)
	msg := heap.Null
	if message != "" {
		msg = heap.Ref(r.heap.NewGoString(message))
	}
	if err := r.heap.SetField(h, classThrowable, "detailMessage", msg); err != nil {
		return heap.Value{}, faultf(StatusUnsupported, "%s is not a throwable", class)
	}
	if err := r.heap.SetField(h, classThrowable, "cause", exc); err != nil {
		return heap.Value{}, r.fault(err)
	}
	return exc, nil
}

// throw raises a new exception of class in the current frame.
func (r *run) throw(class, message string) (action, error) {
	exc, err := r.newThrowable(class, message)
	if err != nil {
		return 0, err
	}
	r.exc = exc
	return actThrow, nil
}

// raise turns an error from the heap, the resolver or a native handler
// into a Java exception where the JVM would throw one, and into a fault
// otherwise.
func (r *run) raise(err error) (action, error) {
	var (
		t  *native.Throw
		be *heap.BoundsError
	)
	switch {
	case errors.As(err, &t):
		return r.throw(t.Class, t.Message)
	case errors.Is(err, heap.ErrNullReference):
		return r.throw(native.ClassNullPointer, "")
	case errors.As(err, &be):
		return r.throw(native.ClassIndexOutOfBounds, fmt.Sprintf("Index %d out of bounds for length %d", be.Index, be.Length))
	case errors.Is(err, heap.ErrNegativeLength):
		return r.throw(native.ClassNegativeSize, "")
	}
	return 0, r.fault(err)
}

// fault classifies an error that has no Java counterpart.
func (r *run) fault(err error) error {
	var f *Fault
	switch {
	case errors.As(err, &f):
		return f
	case errors.Is(err, ErrClassNotFound),
		errors.Is(err, ErrNoSuchMethod),
		errors.Is(err, ErrNoSuchField),
		errors.Is(err, heap.ErrNoSuchField):
		return &Fault{Status: StatusResolutionError, Cause: err}
	case errors.Is(err, native.ErrNoHandler):
		return &Fault{Status: StatusUnsupported, Detail: "missing native", Cause: err}
	case errors.Is(err, heap.ErrHeapExhausted):
		return &Fault{Status: StatusLimitExceeded, Detail: "heap", Cause: err}
	}
	return &Fault{Status: StatusUnsupported, Cause: err}
}

// checkHeap faults once string allocations pushed the heap past its limit.
func (r *run) checkHeap() error {
	if r.heap.Exhausted() {
		return faultf(StatusLimitExceeded, "heap limit of %d slots exceeded (%d in use)", r.heap.Limit(), r.heap.Used())
	}
	return nil
}
