package vm

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/daimatz/jvmexec/pkg/asm"
	"github.com/daimatz/jvmexec/pkg/bytecode"
	"github.com/daimatz/jvmexec/pkg/classfile"
	"github.com/daimatz/jvmexec/pkg/heap"
)

// factorialClass declares Test.fact(I)I, recursive.
func factorialClass() *asm.Class {
	c := asm.NewClass(testClass)
	m := c.Method(accPublicStatic, "fact", "(I)I")
	rec := m.NewLabel()
	m.Op(bytecode.OpIload0, bytecode.OpIconst1).Jump(bytecode.OpIfIcmpgt, rec)
	m.Op(bytecode.OpIconst1, bytecode.OpIreturn)
	m.Mark(rec)
	m.Op(bytecode.OpIload0, bytecode.OpIload0, bytecode.OpIconst1, bytecode.OpIsub)
	m.Invoke(bytecode.OpInvokestatic, testClass, "fact", "(I)I")
	m.Op(bytecode.OpImul, bytecode.OpIreturn)

	c.Method(accPublicStatic, "down", "()V").
		Invoke(bytecode.OpInvokestatic, testClass, "down", "()V").
		Op(bytecode.OpReturn)

	spin := c.Method(accPublicStatic, "spin", "()V")
	top := spin.NewLabel()
	spin.Mark(top).Jump(bytecode.OpGoto, top)
	return c
}

func fixedClock() time.Time { return time.Unix(1700000000, 0) }

func TestRecursion(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			e := newTestEngine(t, mode, []*asm.Class{factorialClass()})
			res := e.ExecuteNamed(testClass, "fact", "(I)I", heap.Int(10))
			if res.Status != StatusSuccess {
				t.Fatalf("status %s: %s", res.Status, res.Detail)
			}
			if got := res.ReturnValue.AsInt(); got != 3628800 {
				t.Errorf("fact(10): got %d, want 3628800", got)
			}
			if res.MaxDepth != 10 {
				t.Errorf("max depth: got %d, want 10", res.MaxDepth)
			}
		})
	}
}

func TestCallDepthLimit(t *testing.T) {
	tests := []struct {
		name   string
		limit  int
		method string
		desc   string
		args   []heap.Value
		want   Status
	}{
		{"unbounded recursion", DefaultMaxCallDepth, "down", "()V", nil, StatusLimitExceeded},
		{"exactly at the limit", 5, "fact", "(I)I", []heap.Value{heap.Int(5)}, StatusSuccess},
		{"one past the limit", 5, "fact", "(I)I", []heap.Value{heap.Int(6)}, StatusLimitExceeded},
	}

	for _, tt := range tests {
		for _, mode := range modes {
			t.Run(tt.name+"/"+mode.String(), func(t *testing.T) {
				e := newTestEngine(t, mode, []*asm.Class{factorialClass()}, WithMaxCallDepth(tt.limit))
				res := e.ExecuteNamed(testClass, tt.method, tt.desc, tt.args...)
				if res.Status != tt.want {
					t.Fatalf("status: got %s (%s), want %s", res.Status, res.Detail, tt.want)
				}
				if res.MaxDepth > tt.limit {
					t.Errorf("max depth %d exceeds limit %d", res.MaxDepth, tt.limit)
				}
				if tt.want == StatusLimitExceeded && !errors.Is(res.Err(), ErrLimitExceeded) {
					t.Errorf("Err(): got %v, want a limit fault", res.Err())
				}
			})
		}
	}
}

func TestInstructionLimit(t *testing.T) {
	straight := func(m *asm.Method) {
		m.Op(bytecode.OpIconst1, bytecode.OpIconst2, bytecode.OpIadd, bytecode.OpIreturn)
	}

	tests := []struct {
		name  string
		limit int64
		want  Status
		count int64
	}{
		{"budget covers the method", 4, StatusSuccess, 4},
		{"one short", 3, StatusLimitExceeded, 3},
		{"single instruction", 1, StatusLimitExceeded, 1},
	}
	for _, tt := range tests {
		for _, mode := range modes {
			t.Run(tt.name+"/"+mode.String(), func(t *testing.T) {
				c := asm.NewClass(testClass)
				straight(c.Method(accPublicStatic, "run", "()I"))
				e := newTestEngine(t, mode, []*asm.Class{c}, WithMaxInstructions(tt.limit))
				res := e.ExecuteNamed(testClass, "run", "()I")
				if res.Status != tt.want {
					t.Fatalf("status: got %s (%s), want %s", res.Status, res.Detail, tt.want)
				}
				if res.InstructionsExecuted != tt.count {
					t.Errorf("instructions: got %d, want %d", res.InstructionsExecuted, tt.count)
				}
			})
		}
	}

	t.Run("infinite loop", func(t *testing.T) {
		for _, mode := range modes {
			e := newTestEngine(t, mode, []*asm.Class{factorialClass()}, WithMaxInstructions(1000))
			res := e.ExecuteNamed(testClass, "spin", "()V")
			if res.Status != StatusLimitExceeded {
				t.Fatalf("%s: status %s, want LIMIT_EXCEEDED", mode, res.Status)
			}
			if res.InstructionsExecuted != 1000 {
				t.Errorf("%s: instructions %d, want 1000", mode, res.InstructionsExecuted)
			}
		}
	})

	t.Run("budget spans the call tree", func(t *testing.T) {
		for _, mode := range modes {
			e := newTestEngine(t, mode, []*asm.Class{factorialClass()})
			res := e.ExecuteNamed(testClass, "fact", "(I)I", heap.Int(3))
			// fact(1) runs 5 instructions, every other level 10.
			if res.InstructionsExecuted != 25 {
				t.Errorf("%s: instructions %d, want 25", mode, res.InstructionsExecuted)
			}
		}
	})
}

// counterClass increments Counter.count in its static initializer.
func counterClass() *asm.Class {
	c := asm.NewClass("Counter").Field(accPublicStatic, "count", "I")
	c.Method(classfile.AccStatic, "<clinit>", "()V").
		Field(bytecode.OpGetstatic, "Counter", "count", "I").
		Op(bytecode.OpIconst1, bytecode.OpIadd).
		Field(bytecode.OpPutstatic, "Counter", "count", "I").
		Op(bytecode.OpReturn)
	c.Method(accPublicStatic, "get", "()I").
		Field(bytecode.OpGetstatic, "Counter", "count", "I").
		Op(bytecode.OpIreturn)
	return c
}

func TestClassInitRunsOnce(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			e := newTestEngine(t, mode, []*asm.Class{counterClass()})
			for i := 0; i < 3; i++ {
				res := e.ExecuteNamed("Counter", "get", "()I")
				if res.Status != StatusSuccess {
					t.Fatalf("run %d: status %s: %s", i, res.Status, res.Detail)
				}
				if got := res.ReturnValue.AsInt(); got != 1 {
					t.Errorf("run %d: count %d, want 1", i, got)
				}
			}
			if !e.Context().IsInitialized("Counter") {
				t.Error("Counter not marked initialized")
			}
		})
	}

	t.Run("explicit clinit counts as initialization", func(t *testing.T) {
		e := newTestEngine(t, ModeRecursive, []*asm.Class{counterClass()})
		if res := e.ExecuteNamed("Counter", "<clinit>", "()V"); res.Status != StatusSuccess {
			t.Fatalf("clinit: %s %s", res.Status, res.Detail)
		}
		res := e.ExecuteNamed("Counter", "get", "()I")
		if got := res.ReturnValue.AsInt(); got != 1 {
			t.Errorf("count after explicit clinit: got %d, want 1", got)
		}
	})

	t.Run("explicit clinit after access is skipped", func(t *testing.T) {
		for _, mode := range modes {
			e := newTestEngine(t, mode, []*asm.Class{counterClass()})
			if got := e.ExecuteNamed("Counter", "get", "()I").ReturnValue.AsInt(); got != 1 {
				t.Fatalf("%s: first get: %d, want 1", mode, got)
			}
			res := e.ExecuteNamed("Counter", "<clinit>", "()V")
			if res.Status != StatusSuccess || res.InstructionsExecuted != 0 {
				t.Errorf("%s: clinit: %s after %d instructions, want SUCCESS after 0", mode, res.Status, res.InstructionsExecuted)
			}
			if got := e.ExecuteNamed("Counter", "get", "()I").ReturnValue.AsInt(); got != 1 {
				t.Errorf("%s: count after explicit clinit: got %d, want 1", mode, got)
			}
		}
	})

	t.Run("fresh context initializes again", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			e := newTestEngine(t, ModeIterative, []*asm.Class{counterClass()})
			if got := e.ExecuteNamed("Counter", "get", "()I").ReturnValue.AsInt(); got != 1 {
				t.Errorf("context %d: count %d, want 1", i, got)
			}
		}
	})
}

func TestClassInitOrder(t *testing.T) {
	logClass := asm.NewClass("Log").Field(accPublicStatic, "order", "I")
	appendDigit := func(c *asm.Class, digit int32) {
		c.Method(classfile.AccStatic, "<clinit>", "()V").
			Field(bytecode.OpGetstatic, "Log", "order", "I").
			Int(10).Op(bytecode.OpImul).Int(digit).Op(bytecode.OpIadd).
			Field(bytecode.OpPutstatic, "Log", "order", "I").
			Op(bytecode.OpReturn)
	}
	parent := asm.NewClass("Parent")
	appendDigit(parent, 1)
	child := asm.NewClass("Child").Extends("Parent")
	appendDigit(child, 2)
	child.Method(accPublicStatic, "touch", "()V").Op(bytecode.OpReturn)

	main := asm.NewClass(testClass)
	main.Method(accPublicStatic, "run", "()I").
		Invoke(bytecode.OpInvokestatic, "Child", "touch", "()V").
		Invoke(bytecode.OpInvokestatic, "Child", "touch", "()V").
		Field(bytecode.OpGetstatic, "Log", "order", "I").
		Op(bytecode.OpIreturn)

	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			e := newTestEngine(t, mode, []*asm.Class{logClass, parent, child, main})
			res := e.ExecuteNamed(testClass, "run", "()I")
			if res.Status != StatusSuccess {
				t.Fatalf("status %s: %s", res.Status, res.Detail)
			}
			if got := res.ReturnValue.AsInt(); got != 12 {
				t.Errorf("init order: got %d, want 12 (superclass first, once each)", got)
			}
		})
	}
}

func TestConstantValueAttributes(t *testing.T) {
	c := asm.NewClass("Consts").
		ConstantField("K", "I", int32(42)).
		ConstantField("BIG", "J", int64(1)<<40).
		ConstantField("NAME", "Ljava/lang/String;", "key")
	c.Method(accPublicStatic, "run", "()I").
		Field(bytecode.OpGetstatic, "Consts", "K", "I").
		Field(bytecode.OpGetstatic, "Consts", "BIG", "J").
		Int(40).Op(bytecode.OpLushr, bytecode.OpL2i, bytecode.OpIadd).
		Field(bytecode.OpGetstatic, "Consts", "NAME", "Ljava/lang/String;").
		Invoke(bytecode.OpInvokevirtual, "java/lang/String", "length", "()I").
		Op(bytecode.OpIadd, bytecode.OpIreturn)

	for _, mode := range modes {
		e := newTestEngine(t, mode, []*asm.Class{c})
		res := e.ExecuteNamed("Consts", "run", "()I")
		if res.Status != StatusSuccess {
			t.Fatalf("%s: status %s: %s", mode, res.Status, res.Detail)
		}
		if got := res.ReturnValue.AsInt(); got != 46 {
			t.Errorf("%s: got %d, want 46", mode, got)
		}
	}
}

// pointClasses declares Point {int x; long y; String s} and Point3 extends
// Point {int x}, each with a constructor chaining to its superclass.
func pointClasses() []*asm.Class {
	point := asm.NewClass("Point").
		Field(classfile.AccPublic, "x", "I").
		Field(classfile.AccPublic, "y", "J").
		Field(classfile.AccPublic, "s", "Ljava/lang/String;")
	point.Method(classfile.AccPublic, "<init>", "()V").
		Op(bytecode.OpAload0).
		Invoke(bytecode.OpInvokespecial, "java/lang/Object", "<init>", "()V").
		Op(bytecode.OpReturn)
	point.Method(classfile.AccPublic, "id", "()I").Int(1).Op(bytecode.OpIreturn)

	point3 := asm.NewClass("Point3").Extends("Point").
		Field(classfile.AccPublic, "x", "I")
	point3.Method(classfile.AccPublic, "<init>", "()V").
		Op(bytecode.OpAload0).
		Invoke(bytecode.OpInvokespecial, "Point", "<init>", "()V").
		Op(bytecode.OpReturn)
	point3.Method(classfile.AccPublic, "id", "()I").Int(3).Op(bytecode.OpIreturn)
	point3.Method(classfile.AccPublic, "superId", "()I").
		Op(bytecode.OpAload0).
		Invoke(bytecode.OpInvokespecial, "Point", "id", "()I").
		Op(bytecode.OpIreturn)
	return []*asm.Class{point, point3}
}

func TestObjects(t *testing.T) {
	newPoint3 := func(m *asm.Method) {
		m.Type(bytecode.OpNew, "Point3").Op(bytecode.OpDup).
			Invoke(bytecode.OpInvokespecial, "Point3", "<init>", "()V").
			Op(bytecode.OpAstore0)
	}

	tests := []struct {
		name string
		body func(*asm.Method)
		want int32
	}{
		{"fields start zeroed across the chain", func(m *asm.Method) {
			isNull := m.NewLabel()
			newPoint3(m)
			m.Op(bytecode.OpAload0).Field(bytecode.OpGetfield, "Point3", "x", "I")
			m.Op(bytecode.OpAload0).Field(bytecode.OpGetfield, "Point", "x", "I").Op(bytecode.OpIadd)
			m.Op(bytecode.OpAload0).Field(bytecode.OpGetfield, "Point", "y", "J").Op(bytecode.OpL2i, bytecode.OpIadd)
			m.Op(bytecode.OpAload0).Field(bytecode.OpGetfield, "Point", "s", "Ljava/lang/String;").Jump(bytecode.OpIfnull, isNull)
			m.Int(100).Op(bytecode.OpIadd)
			m.Mark(isNull).Op(bytecode.OpIreturn)
		}, 0},
		{"shadowed fields are distinct", func(m *asm.Method) {
			newPoint3(m)
			m.Op(bytecode.OpAload0).Int(5).Field(bytecode.OpPutfield, "Point3", "x", "I")
			m.Op(bytecode.OpAload0).Int(7).Field(bytecode.OpPutfield, "Point", "x", "I")
			m.Op(bytecode.OpAload0).Field(bytecode.OpGetfield, "Point3", "x", "I").Int(10).Op(bytecode.OpImul)
			m.Op(bytecode.OpAload0).Field(bytecode.OpGetfield, "Point", "x", "I").Op(bytecode.OpIadd, bytecode.OpIreturn)
		}, 57},
		{"inherited field through subclass reference", func(m *asm.Method) {
			newPoint3(m)
			m.Op(bytecode.OpAload0).Long(1).Field(bytecode.OpPutfield, "Point3", "y", "J")
			m.Op(bytecode.OpAload0).Field(bytecode.OpGetfield, "Point", "y", "J").Op(bytecode.OpL2i, bytecode.OpIreturn)
		}, 1},
		{"virtual dispatch", func(m *asm.Method) {
			newPoint3(m)
			m.Op(bytecode.OpAload0).Invoke(bytecode.OpInvokevirtual, "Point", "id", "()I").Op(bytecode.OpIreturn)
		}, 3},
		{"invokespecial super call", func(m *asm.Method) {
			newPoint3(m)
			m.Op(bytecode.OpAload0).Invoke(bytecode.OpInvokevirtual, "Point3", "superId", "()I").Op(bytecode.OpIreturn)
		}, 1},
		{"identity hash is stable", func(m *asm.Method) {
			newPoint3(m)
			m.Op(bytecode.OpAload0).Invoke(bytecode.OpInvokevirtual, "java/lang/Object", "hashCode", "()I")
			m.Op(bytecode.OpAload0).Invoke(bytecode.OpInvokestatic, "java/lang/System", "identityHashCode", "(Ljava/lang/Object;)I")
			m.Op(bytecode.OpIsub, bytecode.OpIreturn)
		}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, mode := range modes {
				c := asm.NewClass(testClass)
				tt.body(c.Method(accPublicStatic, "run", "()I"))
				e := newTestEngine(t, mode, append(pointClasses(), c))
				res := e.ExecuteNamed(testClass, "run", "()I")
				if res.Status != StatusSuccess {
					t.Fatalf("%s: status %s: %s", mode, res.Status, res.Detail)
				}
				if got := res.ReturnValue.AsInt(); got != tt.want {
					t.Errorf("%s: got %d, want %d", mode, got, tt.want)
				}
			}
		})
	}

	t.Run("getfield on null", func(t *testing.T) {
		expectException(t, "()I", func(m *asm.Method) {
			m.Op(bytecode.OpAconstNull).Field(bytecode.OpGetfield, "java/lang/Throwable", "detailMessage", "Ljava/lang/String;")
			m.Op(bytecode.OpPop).Int(0).Op(bytecode.OpIreturn)
		}, "java/lang/NullPointerException", `Cannot read field "detailMessage" because value is null`)
	})
}

func TestInterfaces(t *testing.T) {
	shape := asm.NewClass("Shape").Flags(classfile.AccPublic | classfile.AccInterface | classfile.AccAbstract)
	shape.Method(classfile.AccPublic|classfile.AccAbstract, "area", "()I")

	square := asm.NewClass("Square").Implements("Shape").Field(0, "side", "I")
	square.Method(classfile.AccPublic, "<init>", "(I)V").
		Op(bytecode.OpAload0).Invoke(bytecode.OpInvokespecial, "java/lang/Object", "<init>", "()V").
		Op(bytecode.OpAload0, bytecode.OpIload1).Field(bytecode.OpPutfield, "Square", "side", "I").
		Op(bytecode.OpReturn)
	square.Method(classfile.AccPublic, "area", "()I").
		Op(bytecode.OpAload0).Field(bytecode.OpGetfield, "Square", "side", "I").
		Op(bytecode.OpDup, bytecode.OpImul, bytecode.OpIreturn)

	lazy := asm.NewClass("Lazy").Flags(classfile.AccPublic | classfile.AccAbstract).Implements("Shape")
	lazy.Method(classfile.AccPublic, "<init>", "()V").
		Op(bytecode.OpAload0).Invoke(bytecode.OpInvokespecial, "java/lang/Object", "<init>", "()V").
		Op(bytecode.OpReturn)
	broken := asm.NewClass("Broken").Extends("Lazy")
	broken.Method(classfile.AccPublic, "<init>", "()V").
		Op(bytecode.OpAload0).Invoke(bytecode.OpInvokespecial, "Lazy", "<init>", "()V").
		Op(bytecode.OpReturn)

	main := asm.NewClass(testClass)
	main.Method(accPublicStatic, "square", "()I").
		Type(bytecode.OpNew, "Square").Op(bytecode.OpDup).Int(6).
		Invoke(bytecode.OpInvokespecial, "Square", "<init>", "(I)V").
		Invoke(bytecode.OpInvokeinterface, "Shape", "area", "()I").
		Op(bytecode.OpIreturn)
	main.Method(accPublicStatic, "broken", "()I").
		Type(bytecode.OpNew, "Broken").Op(bytecode.OpDup).
		Invoke(bytecode.OpInvokespecial, "Broken", "<init>", "()V").
		Invoke(bytecode.OpInvokeinterface, "Shape", "area", "()I").
		Op(bytecode.OpIreturn)
	classes := []*asm.Class{shape, square, lazy, broken, main}

	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			e := newTestEngine(t, mode, classes)
			res := e.ExecuteNamed(testClass, "square", "()I")
			if res.Status != StatusSuccess || res.ReturnValue.AsInt() != 36 {
				t.Errorf("square: got %s %v (%s), want SUCCESS 36", res.Status, res.ReturnValue, res.Detail)
			}
			res = e.ExecuteNamed(testClass, "broken", "()I")
			if res.Status != StatusException || res.Exception.Class != "java/lang/AbstractMethodError" {
				t.Errorf("broken: got %s %s, want AbstractMethodError", res.Status, res.Detail)
			}
		})
	}
}

func TestExceptionHandling(t *testing.T) {
	// thrower throws IllegalStateException("boom") when its argument is
	// non-zero and returns 7 otherwise.
	thrower := func(c *asm.Class) {
		m := c.Method(accPublicStatic, "thrower", "(I)I")
		ok := m.NewLabel()
		m.Op(bytecode.OpIload0).Jump(bytecode.OpIfeq, ok)
		m.Type(bytecode.OpNew, "java/lang/IllegalStateException").Op(bytecode.OpDup).String("boom").
			Invoke(bytecode.OpInvokespecial, "java/lang/IllegalStateException", "<init>", "(Ljava/lang/String;)V").
			Op(bytecode.OpAthrow)
		m.Mark(ok).Int(7).Op(bytecode.OpIreturn)
	}

	tests := []struct {
		name    string
		body    func(*asm.Method)
		status  Status
		want    int32
		excType string
		excMsg  string
	}{
		{"caught in the same frame", func(m *asm.Method) {
			start, end, handler := m.NewLabel(), m.NewLabel(), m.NewLabel()
			m.Mark(start)
			m.Type(bytecode.OpNew, "java/lang/IllegalStateException").Op(bytecode.OpDup).String("boom").
				Invoke(bytecode.OpInvokespecial, "java/lang/IllegalStateException", "<init>", "(Ljava/lang/String;)V").
				Op(bytecode.OpAthrow)
			m.Mark(end)
			m.Mark(handler).
				Invoke(bytecode.OpInvokevirtual, "java/lang/Throwable", "getMessage", "()Ljava/lang/String;").
				Invoke(bytecode.OpInvokevirtual, "java/lang/String", "length", "()I").
				Op(bytecode.OpIreturn)
			m.Try(start, end, handler, "java/lang/RuntimeException")
		}, StatusSuccess, 4, "", ""},
		{"propagates from the callee", func(m *asm.Method) {
			start, end, handler := m.NewLabel(), m.NewLabel(), m.NewLabel()
			m.Mark(start).Int(1).Invoke(bytecode.OpInvokestatic, testClass, "thrower", "(I)I").Op(bytecode.OpIreturn)
			m.Mark(end)
			m.Mark(handler).Op(bytecode.OpPop).Int(-1).Op(bytecode.OpIreturn)
			m.Try(start, end, handler, "java/lang/IllegalStateException")
		}, StatusSuccess, -1, "", ""},
		{"no exception leaves the handler unused", func(m *asm.Method) {
			start, end, handler := m.NewLabel(), m.NewLabel(), m.NewLabel()
			m.Mark(start).Int(0).Invoke(bytecode.OpInvokestatic, testClass, "thrower", "(I)I").Op(bytecode.OpIreturn)
			m.Mark(end)
			m.Mark(handler).Op(bytecode.OpPop).Int(-1).Op(bytecode.OpIreturn)
			m.Try(start, end, handler, "")
		}, StatusSuccess, 7, "", ""},
		{"first matching handler in table order", func(m *asm.Method) {
			start, end, arith, any := m.NewLabel(), m.NewLabel(), m.NewLabel(), m.NewLabel()
			m.Mark(start).Op(bytecode.OpAconstNull, bytecode.OpAthrow)
			m.Mark(end)
			m.Mark(arith).Op(bytecode.OpPop).Int(1).Op(bytecode.OpIreturn)
			m.Mark(any).Op(bytecode.OpPop).Int(2).Op(bytecode.OpIreturn)
			m.Try(start, end, arith, "java/lang/ArithmeticException")
			m.Try(start, end, any, "")
		}, StatusSuccess, 2, "", ""},
		{"handler range excludes end", func(m *asm.Method) {
			start, end, handler := m.NewLabel(), m.NewLabel(), m.NewLabel()
			m.Mark(start).Op(bytecode.OpNop)
			m.Mark(end).Int(1).Int(0).Op(bytecode.OpIdiv, bytecode.OpIreturn)
			m.Mark(handler).Op(bytecode.OpPop).Int(-1).Op(bytecode.OpIreturn)
			m.Try(start, end, handler, "")
		}, StatusException, 0, "java/lang/ArithmeticException", "/ by zero"},
		{"uncaught from the callee", func(m *asm.Method) {
			m.Int(1).Invoke(bytecode.OpInvokestatic, testClass, "thrower", "(I)I").Op(bytecode.OpIreturn)
		}, StatusException, 0, "java/lang/IllegalStateException", "boom"},
		{"rethrown by a catch-all", func(m *asm.Method) {
			start, end, handler := m.NewLabel(), m.NewLabel(), m.NewLabel()
			m.Mark(start).Int(1).Invoke(bytecode.OpInvokestatic, testClass, "thrower", "(I)I").Op(bytecode.OpIreturn)
			m.Mark(end)
			m.Mark(handler).Op(bytecode.OpAthrow)
			m.Try(start, end, handler, "")
		}, StatusException, 0, "java/lang/IllegalStateException", "boom"},
		{"native exception is catchable", func(m *asm.Method) {
			start, end, handler := m.NewLabel(), m.NewLabel(), m.NewLabel()
			m.Mark(start).String("x1").
				Invoke(bytecode.OpInvokestatic, "java/lang/Integer", "parseInt", "(Ljava/lang/String;)I").
				Op(bytecode.OpIreturn)
			m.Mark(end)
			m.Mark(handler).Op(bytecode.OpPop).Int(-5).Op(bytecode.OpIreturn)
			m.Try(start, end, handler, "java/lang/NumberFormatException")
		}, StatusSuccess, -5, "", ""},
		{"wrong catch type does not match", func(m *asm.Method) {
			start, end, handler := m.NewLabel(), m.NewLabel(), m.NewLabel()
			m.Mark(start).Int(1).Invoke(bytecode.OpInvokestatic, testClass, "thrower", "(I)I").Op(bytecode.OpIreturn)
			m.Mark(end)
			m.Mark(handler).Op(bytecode.OpPop).Int(-1).Op(bytecode.OpIreturn)
			m.Try(start, end, handler, "java/lang/ArithmeticException")
		}, StatusException, 0, "java/lang/IllegalStateException", "boom"},
	}

	for _, tt := range tests {
		for _, mode := range modes {
			t.Run(tt.name+"/"+mode.String(), func(t *testing.T) {
				c := asm.NewClass(testClass)
				thrower(c)
				tt.body(c.Method(accPublicStatic, "run", "()I"))
				e := newTestEngine(t, mode, []*asm.Class{c})
				res := e.ExecuteNamed(testClass, "run", "()I")
				if res.Status != tt.status {
					t.Fatalf("status: got %s (%s), want %s", res.Status, res.Detail, tt.status)
				}
				if tt.status == StatusSuccess {
					if got := res.ReturnValue.AsInt(); got != tt.want {
						t.Errorf("got %d, want %d", got, tt.want)
					}
					return
				}
				if res.Exception.Class != tt.excType || res.Exception.Message != tt.excMsg {
					t.Errorf("exception: got %s, want %s: %s", res.Exception, tt.excType, tt.excMsg)
				}
				if !res.Exception.Ref.IsRef() || res.Exception.Ref.IsNull() {
					t.Errorf("exception reference: got %v", res.Exception.Ref)
				}
			})
		}
	}
}

func TestFailureStatuses(t *testing.T) {
	tests := []struct {
		name string
		body func(*asm.Method)
		want Status
	}{
		{"missing class", func(m *asm.Method) {
			m.Invoke(bytecode.OpInvokestatic, "com/example/Missing", "run", "()V").Op(bytecode.OpReturn)
		}, StatusResolutionError},
		{"missing method", func(m *asm.Method) {
			m.Invoke(bytecode.OpInvokestatic, testClass, "nope", "()V").Op(bytecode.OpReturn)
		}, StatusResolutionError},
		{"missing field", func(m *asm.Method) {
			m.Field(bytecode.OpGetstatic, testClass, "nope", "I").Op(bytecode.OpPop, bytecode.OpReturn)
		}, StatusResolutionError},
		{"unemulated JDK method", func(m *asm.Method) {
			m.String("a,b").String(",").
				Invoke(bytecode.OpInvokevirtual, "java/lang/String", "split", "(Ljava/lang/String;)[Ljava/lang/String;").
				Op(bytecode.OpPop, bytecode.OpReturn)
		}, StatusUnsupported},
		{"native method without handler", func(m *asm.Method) {
			m.Invoke(bytecode.OpInvokestatic, testClass, "nativeCall", "()V").Op(bytecode.OpReturn)
		}, StatusUnsupported},
		{"unsupported bootstrap", func(m *asm.Method) {
			m.InvokeDynamic(0, "get", "()Ljava/lang/Runnable;").Op(bytecode.OpPop, bytecode.OpReturn)
		}, StatusUnsupported},
	}

	for _, tt := range tests {
		for _, mode := range modes {
			t.Run(tt.name+"/"+mode.String(), func(t *testing.T) {
				c := asm.NewClass(testClass)
				c.Method(accPublicStatic|classfile.AccNative, "nativeCall", "()V")
				c.Bootstrap("java/lang/invoke/LambdaMetafactory", "metafactory",
					"(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;Ljava/lang/invoke/MethodType;Ljava/lang/invoke/MethodType;Ljava/lang/invoke/MethodHandle;Ljava/lang/invoke/MethodType;)Ljava/lang/invoke/CallSite;")
				tt.body(c.Method(accPublicStatic, "run", "()V"))
				e := newTestEngine(t, mode, []*asm.Class{c})
				res := e.ExecuteNamed(testClass, "run", "()V")
				if res.Status != tt.want {
					t.Fatalf("status: got %s (%s), want %s", res.Status, res.Detail, tt.want)
				}
				if res.Detail == "" {
					t.Error("missing detail")
				}
				if res.Err() == nil {
					t.Error("Err() is nil for a failed run")
				}
			})
		}
	}
}

func TestThrowableWithoutCause(t *testing.T) {
	// A Throwable without the cause field cannot represent engine-raised
	// exceptions.
	throwable := asm.NewClass("java/lang/Throwable").
		Field(classfile.AccPrivate, "detailMessage", "Ljava/lang/String;")
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			c := asm.NewClass(testClass)
			c.Method(accPublicStatic, "run", "()I").
				Op(bytecode.OpAconstNull, bytecode.OpArraylength, bytecode.OpIreturn)
			e := newTestEngine(t, mode, []*asm.Class{throwable, c})
			res := e.ExecuteNamed(testClass, "run", "()I")
			if res.Status != StatusResolutionError {
				t.Fatalf("status: got %s (%s), want RESOLUTION_ERROR", res.Status, res.Detail)
			}
			if !strings.Contains(res.Detail, "cause") {
				t.Errorf("detail %q does not name the field", res.Detail)
			}
		})
	}
}

func TestReceiverKind(t *testing.T) {
	e := newTestEngine(t, ModeRecursive, pointClasses())
	m, err := e.Lookup("Point", "id", "()I")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if res := e.Execute(m, heap.Int(1)); res.Status != StatusResolutionError {
		t.Errorf("int receiver: got %s (%s), want RESOLUTION_ERROR", res.Status, res.Detail)
	}
}

func TestHeapLimit(t *testing.T) {
	newBuilder := func(m *asm.Method, init string) {
		m.Type(bytecode.OpNew, "java/lang/StringBuilder").Op(bytecode.OpDup)
		if init == "" {
			m.Invoke(bytecode.OpInvokespecial, "java/lang/StringBuilder", "<init>", "()V")
		} else {
			m.String(init).Invoke(bytecode.OpInvokespecial, "java/lang/StringBuilder", "<init>", "(Ljava/lang/String;)V")
		}
	}

	tests := []struct {
		name  string
		slots int64 // 0 keeps the default
		body  func(*asm.Method)
	}{
		{"newarray of max int elements", 0, func(m *asm.Method) {
			m.Int(0x7fffffff).NewArray(10).Op(bytecode.OpArraylength, bytecode.OpIreturn)
		}},
		{"newarray of 16M elements", 0, func(m *asm.Method) {
			m.Int(1 << 24).NewArray(10).Op(bytecode.OpArraylength, bytecode.OpIreturn)
		}},
		{"anewarray one past the limit", 1000, func(m *asm.Method) {
			m.Int(1000).Type(bytecode.OpAnewarray, "java/lang/Object").Op(bytecode.OpArraylength, bytecode.OpIreturn)
		}},
		{"multianewarray of empty rows", 1000, func(m *asm.Method) {
			m.Int(500).Int(0).MultiANewArray("[[I", 2).Op(bytecode.OpArraylength, bytecode.OpIreturn)
		}},
		{"StringBuilder.setLength", 0, func(m *asm.Method) {
			newBuilder(m, "")
			m.Int(0x7fffffff).Invoke(bytecode.OpInvokevirtual, "java/lang/StringBuilder", "setLength", "(I)V").
				Op(bytecode.OpIconst0, bytecode.OpIreturn)
		}},
		{"doubling a StringBuilder", 4096, func(m *asm.Method) {
			newBuilder(m, "ab")
			m.Op(bytecode.OpAstore0)
			loop := m.NewLabel()
			m.Mark(loop).
				Op(bytecode.OpAload0, bytecode.OpAload0).
				Invoke(bytecode.OpInvokevirtual, "java/lang/StringBuilder", "toString", "()Ljava/lang/String;").
				Invoke(bytecode.OpInvokevirtual, "java/lang/StringBuilder", "append", "(Ljava/lang/String;)Ljava/lang/StringBuilder;").
				Op(bytecode.OpPop).
				Jump(bytecode.OpGoto, loop)
		}},
	}
	for _, tt := range tests {
		for _, mode := range modes {
			t.Run(tt.name+"/"+mode.String(), func(t *testing.T) {
				c := asm.NewClass(testClass)
				tt.body(c.Method(accPublicStatic, "run", "()I"))
				var opts []Option
				if tt.slots > 0 {
					opts = append(opts, WithMaxHeapSlots(tt.slots))
				}
				e := newTestEngine(t, mode, []*asm.Class{c}, opts...)
				res := e.ExecuteNamed(testClass, "run", "()I")
				if res.Status != StatusLimitExceeded {
					t.Fatalf("status: got %s (%s), want LIMIT_EXCEEDED", res.Status, res.Detail)
				}
				if !strings.Contains(res.Detail, "heap") {
					t.Errorf("detail %q does not mention the heap", res.Detail)
				}
				if !errors.Is(res.Err(), ErrLimitExceeded) {
					t.Errorf("Err() = %v, want ErrLimitExceeded", res.Err())
				}
				if h := e.Context().Heap(); h.Used() > 2*h.Limit() {
					t.Errorf("heap grew to %d slots against a limit of %d", h.Used(), h.Limit())
				}
			})
		}
	}

	t.Run("allocations under the limit succeed", func(t *testing.T) {
		c := asm.NewClass(testClass)
		c.Method(accPublicStatic, "run", "()I").
			Int(999).NewArray(10).Op(bytecode.OpArraylength, bytecode.OpIreturn)
		e := newTestEngine(t, ModeRecursive, []*asm.Class{c}, WithMaxHeapSlots(1000))
		res := e.ExecuteNamed(testClass, "run", "()I")
		if res.Status != StatusSuccess || res.ReturnValue != heap.Int(999) {
			t.Fatalf("got %s %v (%s), want SUCCESS 999", res.Status, res.ReturnValue, res.Detail)
		}
		if got := e.Context().Heap().Used(); got != 1000 {
			t.Errorf("used %d slots, want 1000", got)
		}
	})
}

func TestExecuteArguments(t *testing.T) {
	e := newTestEngine(t, ModeRecursive, []*asm.Class{factorialClass()})

	tests := []struct {
		name  string
		class string
		meth  string
		desc  string
		args  []heap.Value
		want  Status
	}{
		{"unknown method", testClass, "nope", "()V", nil, StatusResolutionError},
		{"unknown class", "Nope", "run", "()V", nil, StatusResolutionError},
		{"too few arguments", testClass, "fact", "(I)I", nil, StatusResolutionError},
		{"too many arguments", testClass, "fact", "(I)I", []heap.Value{heap.Int(1), heap.Int(2)}, StatusResolutionError},
		{"long for an int parameter", testClass, "fact", "(I)I", []heap.Value{heap.Long(3)}, StatusResolutionError},
		{"null for an int parameter", testClass, "fact", "(I)I", []heap.Value{heap.Null}, StatusResolutionError},
		{"zero value argument", testClass, "fact", "(I)I", []heap.Value{{}}, StatusResolutionError},
		{"emulated root with wrong kind", "java/lang/Math", "abs", "(I)I", []heap.Value{heap.Double(-9)}, StatusResolutionError},
		{"emulated static root", "java/lang/Math", "abs", "(I)I", []heap.Value{heap.Int(-9)}, StatusSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.ExecuteNamed(tt.class, tt.meth, tt.desc, tt.args...)
			if res.Status != tt.want {
				t.Errorf("status: got %s (%s), want %s", res.Status, res.Detail, tt.want)
			}
		})
	}

	if res := e.Execute(nil); res.Status != StatusResolutionError {
		t.Errorf("nil method: got %s, want RESOLUTION_ERROR", res.Status)
	}
	if res := e.ExecuteNamed("java/lang/Math", "abs", "(I)I", heap.Int(-9)); res.ReturnValue != heap.Int(9) {
		t.Errorf("Math.abs(-9): got %v", res.ReturnValue)
	}
}

func TestPreseededReceiver(t *testing.T) {
	classes := pointClasses()
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			e := newTestEngine(t, mode, classes)
			h := e.Context().Heap()
			obj, err := h.NewObject("Point3")
			if err != nil {
				t.Fatalf("NewObject: %v", err)
			}
			m, err := e.Lookup("Point3", "superId", "()I")
			if err != nil {
				t.Fatalf("Lookup: %v", err)
			}
			res := e.Execute(m, heap.Ref(obj))
			if res.Status != StatusSuccess || res.ReturnValue.AsInt() != 1 {
				t.Errorf("got %s %v (%s), want SUCCESS 1", res.Status, res.ReturnValue, res.Detail)
			}
		})
	}
}

func TestConsoleCapture(t *testing.T) {
	res := executeBoth(t, "()V", func(m *asm.Method) {
		m.Field(bytecode.OpGetstatic, "java/lang/System", "out", "Ljava/io/PrintStream;").
			String("hello").
			Invoke(bytecode.OpInvokevirtual, "java/io/PrintStream", "println", "(Ljava/lang/String;)V")
		m.Field(bytecode.OpGetstatic, "java/lang/System", "out", "Ljava/io/PrintStream;").
			Int(42).
			Invoke(bytecode.OpInvokevirtual, "java/io/PrintStream", "print", "(I)V")
		m.Field(bytecode.OpGetstatic, "java/lang/System", "err", "Ljava/io/PrintStream;").
			String("oops").
			Invoke(bytecode.OpInvokevirtual, "java/io/PrintStream", "println", "(Ljava/lang/String;)V")
		m.Op(bytecode.OpReturn)
	})
	if res.Status != StatusSuccess {
		t.Fatalf("status %s: %s", res.Status, res.Detail)
	}
	if res.Stdout != "hello\n42" {
		t.Errorf("stdout: got %q", res.Stdout)
	}
	if res.Stderr != "oops\n" {
		t.Errorf("stderr: got %q", res.Stderr)
	}
}

func TestStringConcat(t *testing.T) {
	const bsmDesc = "(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;Ljava/lang/invoke/MethodType;Ljava/lang/String;[Ljava/lang/Object;)Ljava/lang/invoke/CallSite;"

	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			c := asm.NewClass(testClass)
			bsm := c.Bootstrap("java/lang/invoke/StringConcatFactory", "makeConcatWithConstants", bsmDesc,
				c.Pool.String("a=\u0001 b=\u0001 c=\u0001 d=\u0001 \u0002"), c.Pool.String("K"))
			c.Method(accPublicStatic, "run", "()Ljava/lang/String;").
				Int(-3).Long(9000000000).Int('Z').Op(bytecode.OpAconstNull).
				InvokeDynamic(bsm, "makeConcatWithConstants", "(IJCLjava/lang/String;)Ljava/lang/String;").
				Op(bytecode.OpAreturn)
			e := newTestEngine(t, mode, []*asm.Class{c})

			res := e.ExecuteNamed(testClass, "run", "()Ljava/lang/String;")
			if res.Status != StatusSuccess {
				t.Fatalf("status %s: %s", res.Status, res.Detail)
			}
			got, err := e.Context().Heap().ExtractString(res.ReturnValue)
			if err != nil {
				t.Fatalf("ExtractString: %v", err)
			}
			if want := "a=-3 b=9000000000 c=Z d=null K"; got != want {
				t.Errorf("got %q, want %q", got, want)
			}
		})
	}
}

func TestTrace(t *testing.T) {
	c := factorialClass()
	c.Method(accPublicStatic, "len", "(Ljava/lang/String;)I").
		Op(bytecode.OpAload0).
		Invoke(bytecode.OpInvokevirtual, "java/lang/String", "length", "()I").
		Op(bytecode.OpIreturn)

	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			e := newTestEngine(t, mode, []*asm.Class{c}, WithTrace(true), WithClock(fixedClock))

			res := e.ExecuteNamed(testClass, "fact", "(I)I", heap.Int(3))
			if res.Trace == nil {
				t.Fatal("no trace recorded")
			}
			calls := res.Trace.Calls()
			if len(calls) != 3 {
				t.Fatalf("calls: got %d, want 3\n%s", len(calls), res.Trace.Tree())
			}
			wantArgs := []string{"3", "2", "1"}
			wantRet := []string{"6", "2", "1"}
			for i, call := range calls {
				if call.Depth != i+1 {
					t.Errorf("call %d depth: got %d, want %d", i, call.Depth, i+1)
				}
				if call.Signature() != "Test.fact(I)I" {
					t.Errorf("call %d signature: got %s", i, call.Signature())
				}
				if len(call.Args) != 1 || call.Args[0] != wantArgs[i] {
					t.Errorf("call %d args: got %v, want [%s]", i, call.Args, wantArgs[i])
				}
				if call.Return != wantRet[i] {
					t.Errorf("call %d return: got %q, want %q", i, call.Return, wantRet[i])
				}
			}
			if res.Trace.MaxDepth() != res.MaxDepth {
				t.Errorf("trace depth %d != result depth %d", res.Trace.MaxDepth(), res.MaxDepth)
			}
			if !strings.Contains(res.Trace.Tree(), "    Test.fact(I)I(1) -> 1\n") {
				t.Errorf("tree:\n%s", res.Trace.Tree())
			}

			res = e.ExecuteNamed(testClass, "len", "(Ljava/lang/String;)I", heap.Ref(e.Context().Heap().InternString("abc")))
			calls = res.Trace.Calls()
			if len(calls) != 2 {
				t.Fatalf("calls: got %d, want 2\n%s", len(calls), res.Trace.Tree())
			}
			leaf := calls[1]
			if !leaf.Native || leaf.Depth != 2 || leaf.Return != "3" || leaf.Args[0] != `"abc"` {
				t.Errorf("native call: got %+v", leaf)
			}
			if res.Trace.Summary() != "2 calls (1 native, 0 exceptional), max depth 2" {
				t.Errorf("summary: got %q", res.Trace.Summary())
			}

			res = e.ExecuteNamed(testClass, "down", "()V")
			if res.Status != StatusLimitExceeded {
				t.Fatalf("down: status %s", res.Status)
			}
			for _, call := range res.Trace.Calls() {
				if !call.Exceptional {
					t.Fatalf("call at depth %d not marked exceptional", call.Depth)
				}
			}
		})
	}

	t.Run("off by default", func(t *testing.T) {
		e := newTestEngine(t, ModeRecursive, []*asm.Class{factorialClass()})
		if res := e.ExecuteNamed(testClass, "fact", "(I)I", heap.Int(3)); res.Trace != nil {
			t.Error("trace recorded without WithTrace")
		}
	})
}

func TestTraceEncoding(t *testing.T) {
	e := newTestEngine(t, ModeIterative, []*asm.Class{factorialClass()}, WithTrace(true), WithClock(fixedClock))
	res := e.ExecuteNamed(testClass, "fact", "(I)I", heap.Int(4))

	data, err := res.Trace.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	decoded, err := UnmarshalTrace(data)
	if err != nil {
		t.Fatalf("UnmarshalTrace: %v", err)
	}
	if decoded.Tree() != res.Trace.Tree() {
		t.Errorf("decoded tree differs:\n%s\nwant:\n%s", decoded.Tree(), res.Trace.Tree())
	}
	again, err := decoded.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if !bytes.Equal(data, again) {
		t.Error("encoding is not canonical")
	}

	if _, err := UnmarshalTrace([]byte{0xff}); err == nil {
		t.Error("expected an error for garbage input")
	}
}

func TestConcurrentEnginesAreDeterministic(t *testing.T) {
	c := factorialClass()
	c.Method(accPublicStatic, "run", "()Ljava/lang/String;").
		Type(bytecode.OpNew, "java/lang/StringBuilder").Op(bytecode.OpDup).
		Invoke(bytecode.OpInvokespecial, "java/lang/StringBuilder", "<init>", "()V").
		Int(7).Invoke(bytecode.OpInvokestatic, testClass, "fact", "(I)I").
		Invoke(bytecode.OpInvokevirtual, "java/lang/StringBuilder", "append", "(I)Ljava/lang/StringBuilder;").
		String("!").
		Invoke(bytecode.OpInvokevirtual, "java/lang/StringBuilder", "append", "(Ljava/lang/String;)Ljava/lang/StringBuilder;").
		Invoke(bytecode.OpInvokevirtual, "java/lang/StringBuilder", "toString", "()Ljava/lang/String;").
		Op(bytecode.OpAreturn)
	cf := c.MustBuild()

	pool := NewClassPool()
	if _, err := pool.Define(cf); err != nil {
		t.Fatalf("Define: %v", err)
	}
	defer pool.Release()

	type outcome struct {
		status Status
		ret    string
		count  int64
		trace  []byte
	}
	const workers = 8
	results := make([]outcome, workers)

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			resolver := NewClassResolver(pool)
			defer resolver.Close()
			mode := modes[i%len(modes)]
			ctx, err := NewContext(resolver, heap.NewManager(resolver), WithMode(mode), WithTrace(true), WithClock(fixedClock))
			if err != nil {
				return err
			}
			res := NewEngine(ctx).ExecuteNamed(testClass, "run", "()Ljava/lang/String;")
			s, err := ctx.Heap().ExtractString(res.ReturnValue)
			if err != nil {
				return err
			}
			data, err := res.Trace.MarshalBinary()
			if err != nil {
				return err
			}
			results[i] = outcome{res.Status, s, res.InstructionsExecuted, data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("worker: %v", err)
	}

	if results[0].status != StatusSuccess || results[0].ret != "5040!" {
		t.Fatalf("first result: %+v", results[0])
	}
	for i, r := range results[1:] {
		if r.status != results[0].status || r.ret != results[0].ret || r.count != results[0].count {
			t.Errorf("worker %d: got %+v, want %+v", i+1, r, results[0])
		}
		if !bytes.Equal(r.trace, results[0].trace) {
			t.Errorf("worker %d: trace differs", i+1)
		}
	}
}
