package vm

import (
	"testing"

	"github.com/daimatz/jvmexec/pkg/asm"
	"github.com/daimatz/jvmexec/pkg/classfile"
	"github.com/daimatz/jvmexec/pkg/heap"
)

const testClass = "Test"

const accPublicStatic = classfile.AccPublic | classfile.AccStatic

var modes = []Mode{ModeRecursive, ModeIterative}

// newTestContext defines classes in a fresh pool and returns a context over
// it. The pool reference is dropped when the test ends.
func newTestContext(t *testing.T, classes []*asm.Class, opts ...Option) *Context {
	t.Helper()
	pool := NewClassPool()
	for _, c := range classes {
		cf, err := c.Build()
		if err != nil {
			t.Fatalf("build %s: %v", c.Name(), err)
		}
		if _, err := pool.Define(cf); err != nil {
			t.Fatalf("define %s: %v", c.Name(), err)
		}
	}
	resolver := NewClassResolver(pool)
	if err := pool.Release(); err != nil {
		t.Fatalf("release pool: %v", err)
	}
	t.Cleanup(func() { resolver.Close() })

	ctx, err := NewContext(resolver, heap.NewManager(resolver), opts...)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	return ctx
}

func newTestEngine(t *testing.T, mode Mode, classes []*asm.Class, opts ...Option) *Engine {
	t.Helper()
	return NewEngine(newTestContext(t, classes, append([]Option{WithMode(mode)}, opts...)...))
}

// executeStatic assembles a static method Test.run with the given
// descriptor and body, and executes it with args in mode.
func executeStatic(t *testing.T, mode Mode, desc string, body func(*asm.Method), args ...heap.Value) *Result {
	t.Helper()
	c := asm.NewClass(testClass)
	body(c.Method(accPublicStatic, "run", desc))
	e := newTestEngine(t, mode, []*asm.Class{c})
	return e.ExecuteNamed(testClass, "run", desc, args...)
}

// executeBoth runs a static method in both modes, checks that the modes
// agree, and returns the recursive result.
func executeBoth(t *testing.T, desc string, body func(*asm.Method), args ...heap.Value) *Result {
	t.Helper()
	rec := executeStatic(t, ModeRecursive, desc, body, args...)
	it := executeStatic(t, ModeIterative, desc, body, args...)
	if rec.Status != it.Status {
		t.Fatalf("modes disagree on status: recursive %s (%s), iterative %s (%s)", rec.Status, rec.Detail, it.Status, it.Detail)
	}
	if rec.ReturnValue != it.ReturnValue {
		t.Errorf("modes disagree on return value: recursive %v, iterative %v", rec.ReturnValue, it.ReturnValue)
	}
	if rec.InstructionsExecuted != it.InstructionsExecuted {
		t.Errorf("modes disagree on instruction count: recursive %d, iterative %d", rec.InstructionsExecuted, it.InstructionsExecuted)
	}
	if rec.MaxDepth != it.MaxDepth {
		t.Errorf("modes disagree on max depth: recursive %d, iterative %d", rec.MaxDepth, it.MaxDepth)
	}
	if rec.Detail != it.Detail {
		t.Errorf("modes disagree on detail: recursive %q, iterative %q", rec.Detail, it.Detail)
	}
	return rec
}

// executeAndGetInt runs an ()I-style method in both modes and returns its
// int result, failing the test on any other outcome.
func executeAndGetInt(t *testing.T, desc string, body func(*asm.Method), args ...heap.Value) int32 {
	t.Helper()
	res := executeBoth(t, desc, body, args...)
	if res.Status != StatusSuccess {
		t.Fatalf("status: got %s (%s), want SUCCESS", res.Status, res.Detail)
	}
	if res.ReturnValue.Kind() != heap.KindInt {
		t.Fatalf("return value: got %v, want an int", res.ReturnValue)
	}
	return res.ReturnValue.AsInt()
}

// expectException runs a method in both modes and checks that it ends with
// an uncaught exception of class and message.
func expectException(t *testing.T, desc string, body func(*asm.Method), class, message string) {
	t.Helper()
	res := executeBoth(t, desc, body)
	if res.Status != StatusException {
		t.Fatalf("status: got %s (%s), want EXCEPTION", res.Status, res.Detail)
	}
	if res.Exception.Class != class {
		t.Errorf("exception class: got %s, want %s", res.Exception.Class, class)
	}
	if res.Exception.Message != message {
		t.Errorf("exception message: got %q, want %q", res.Exception.Message, message)
	}
}
