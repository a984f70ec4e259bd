package vm

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"unicode/utf16"

	"go.uber.org/zap"

	"github.com/daimatz/jvmexec/pkg/classfile"
	"github.com/daimatz/jvmexec/pkg/heap"
	"github.com/daimatz/jvmexec/pkg/native"
)

// Engine interprets methods within one Context. An engine is not safe for
// concurrent use; run independent engines on independent contexts instead.
type Engine struct {
	ctx *Context
}

// NewEngine returns an engine bound to ctx.
func NewEngine(ctx *Context) *Engine {
	return &Engine{ctx: ctx}
}

// Context returns the engine's context.
func (e *Engine) Context() *Context { return e.ctx }

// Lookup resolves class.name+desc the way invokestatic would, natives
// included.
func (e *Engine) Lookup(class, name, desc string) (*Method, error) {
	return e.ctx.resolver.resolveMethod(class, name, desc, false, e.ctx.natives.Has)
}

// ExecuteNamed resolves and executes a method.
func (e *Engine) ExecuteNamed(class, name, desc string, args ...heap.Value) *Result {
	m, err := e.Lookup(class, name, desc)
	if err != nil {
		return &Result{
			Status: StatusResolutionError,
			Detail: err.Error(),
		}
	}
	return e.Execute(m, args...)
}

// Execute runs m to completion or until a budget is exhausted. args holds
// one value per parameter, preceded by the receiver for instance methods.
// The declaring class is initialized first; executing a <clinit> directly
// counts as initializing its class.
func (e *Engine) Execute(m *Method, args ...heap.Value) (res *Result) {
	r := newRun(e.ctx)
	defer func() {
		if p := recover(); p != nil {
			name := "<nil>"
			if m != nil {
				name = m.String()
			}
			Logger().Warn("recovered from malformed bytecode",
				zap.String("method", name),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
			res = r.result(heap.Value{}, heap.Value{}, faultf(StatusUnsupported, "malformed bytecode: %v", p))
		}
	}()
	ret, exc, err := r.execute(m, args)
	return r.result(ret, exc, err)
}

// run is the state of one Execute call. It is the native.Env handed to
// native handlers.
type run struct {
	ctx      *Context
	resolver *ClassResolver
	heap     *heap.Manager
	natives  *native.Registry

	executed int64
	maxDepth int
	rec      *recorder
	stdout   strings.Builder
	stderr   strings.Builder

	// Results of the last step.
	ret  heap.Value
	exc  heap.Value
	next *Frame

	descs map[string]*classfile.MethodDescriptor
}

func newRun(ctx *Context) *run {
	r := &run{
		ctx:      ctx,
		resolver: ctx.resolver,
		heap:     ctx.heap,
		natives:  ctx.natives,
		descs:    make(map[string]*classfile.MethodDescriptor),
	}
	if ctx.trace {
		r.rec = newRecorder(ctx.clock)
	}
	return r
}

func (r *run) Heap() *heap.Manager { return r.heap }

func (r *run) Print(s native.Stream, text string) {
	if s == native.Stderr {
		r.stderr.WriteString(text)
		return
	}
	r.stdout.WriteString(text)
}

func (r *run) ClassObject(name string) (heap.Value, error) {
	if h, ok := r.ctx.classObjects[name]; ok {
		return heap.Ref(h), nil
	}
	h, err := r.heap.NewObject("java/lang/Class")
	if err != nil {
		return heap.Value{}, err
	}
	obj, err := r.heap.Object(h)
	if err != nil {
		return heap.Value{}, err
	}
	obj.Native = name
	r.ctx.classObjects[name] = h
	return heap.Ref(h), nil
}

func (r *run) descriptor(desc string) (*classfile.MethodDescriptor, error) {
	if md, ok := r.descs[desc]; ok {
		return md, nil
	}
	md, err := classfile.ParseMethodDescriptor(desc)
	if err != nil {
		return nil, &Fault{Status: StatusResolutionError, Detail: "bad descriptor", Cause: err}
	}
	r.descs[desc] = md
	return md, nil
}

func (r *run) execute(m *Method, args []heap.Value) (heap.Value, heap.Value, error) {
	if m == nil {
		return heap.Value{}, heap.Value{}, faultf(StatusResolutionError, "no method to execute")
	}
	md, err := r.descriptor(m.Desc)
	if err != nil {
		return heap.Value{}, heap.Value{}, err
	}
	static := m.IsStatic()
	if m.Info == nil && len(args) == len(md.Params) {
		// Emulated without a definition; the arguments decide.
		static = true
	}
	want := len(md.Params)
	if !static {
		want++
	}
	if len(args) != want {
		return heap.Value{}, heap.Value{}, faultf(StatusResolutionError, "%s takes %d arguments, got %d", m, want, len(args))
	}
	if !static && !args[0].IsRef() {
		return heap.Value{}, heap.Value{}, faultf(StatusResolutionError, "receiver of %s is %s, want reference", m, args[0].Kind())
	}
	for i, p := range md.Params {
		got, exp := args[want-len(md.Params)+i].Kind(), heap.Zero(p).Kind()
		if got != exp {
			return heap.Value{}, heap.Value{}, faultf(StatusResolutionError, "argument %d of %s is %s, want %s", i+1, m, got, exp)
		}
	}

	if m.Name == "<clinit>" {
		// Initializers run at most once per context.
		if r.ctx.initialized[m.Class] {
			return heap.Value{}, heap.Value{}, nil
		}
		if err := r.prepareClass(m.Class); err != nil {
			return heap.Value{}, heap.Value{}, err
		}
	}
	for {
		clinit, exc, err := r.nextInit(m.Class)
		if err != nil || isThrown(exc) {
			return heap.Value{}, exc, err
		}
		if clinit == nil {
			break
		}
		if _, exc, err := r.call(clinit, nil, 1); err != nil || isThrown(exc) {
			return heap.Value{}, exc, err
		}
	}

	if m.Emulated {
		this := heap.Null
		if !static {
			this, args = args[0], args[1:]
		}
		v, err := r.invokeNative(m, this, args, 1)
		if err != nil {
			var t *native.Throw
			if errors.As(err, &t) {
				exc, ferr := r.newThrowable(t.Class, t.Message)
				return heap.Value{}, exc, ferr
			}
			return heap.Value{}, heap.Value{}, err
		}
		return v, heap.Value{}, nil
	}
	return r.call(m, args, 1)
}

// call runs the bytecode of m with the mode's driver and returns its
// return value or the exception it threw.
func (r *run) call(m *Method, args []heap.Value, depth int) (heap.Value, heap.Value, error) {
	if err := checkCode(m); err != nil {
		return heap.Value{}, heap.Value{}, err
	}
	fr := NewFrame(m, depth)
	fr.setArgs(args)
	if r.ctx.mode == ModeIterative {
		return r.runIterative(fr)
	}
	return r.runRecursive(fr)
}

func checkCode(m *Method) error {
	switch {
	case m.Info == nil:
		return faultf(StatusResolutionError, "%s has no definition", m)
	case m.Info.IsAbstract():
		return faultf(StatusResolutionError, "%s is abstract", m)
	case m.Info.IsNative():
		return faultf(StatusUnsupported, "native method %s has no emulation", m)
	case m.Info.Code == nil:
		return faultf(StatusUnsupported, "%s has no Code attribute", m)
	}
	return nil
}

func isThrown(v heap.Value) bool { return v.IsRef() && !v.IsNull() }

// tick charges one instruction against the budget. A re-run after class
// initialization is not charged again.
func (r *run) tick(fr *Frame) error {
	if fr.retry {
		fr.retry = false
		return nil
	}
	if r.executed >= r.ctx.maxInstructions {
		Logger().Debug("instruction limit reached",
			zap.String("method", fr.Method.String()),
			zap.Int64("limit", r.ctx.maxInstructions))
		return faultf(StatusLimitExceeded, "instruction limit %d reached in %s", r.ctx.maxInstructions, fr.Method)
	}
	r.executed++
	return nil
}

// enter admits a frame, enforcing the depth limit.
func (r *run) enter(fr *Frame) error {
	if fr.Depth > r.ctx.maxCallDepth {
		Logger().Debug("call depth limit reached",
			zap.String("method", fr.Method.String()),
			zap.Int("limit", r.ctx.maxCallDepth))
		return faultf(StatusLimitExceeded, "call depth limit %d reached entering %s", r.ctx.maxCallDepth, fr.Method)
	}
	if fr.Depth > r.maxDepth {
		r.maxDepth = fr.Depth
	}
	if r.rec != nil {
		r.rec.begin(&Call{
			Depth: fr.Depth,
			Owner: fr.Method.Class,
			Name:  fr.Method.Name,
			Desc:  fr.Method.Desc,
			Args:  r.describeArgs(fr),
		})
	}
	return nil
}

// leave closes the trace record of a frame.
func (r *run) leave(fr *Frame, ret heap.Value, exceptional bool) {
	if r.rec == nil {
		return
	}
	s := ""
	if !fr.void && !exceptional {
		s = r.describe(ret)
	}
	r.rec.end(s, exceptional)
}

// runRecursive interprets fr, running every callee as a nested host call.
func (r *run) runRecursive(fr *Frame) (heap.Value, heap.Value, error) {
	if err := r.enter(fr); err != nil {
		return heap.Value{}, heap.Value{}, err
	}
	for {
		act, err := r.exec(fr)
		if err != nil {
			r.leave(fr, heap.Value{}, true)
			return heap.Value{}, heap.Value{}, err
		}
		switch act {
		case actReturn:
			ret := r.ret
			r.leave(fr, ret, false)
			return ret, heap.Value{}, nil

		case actInvoke:
			callee := r.next
			r.next = nil
			ret, exc, err := r.runRecursive(callee)
			if err != nil {
				r.leave(fr, heap.Value{}, true)
				return heap.Value{}, heap.Value{}, err
			}
			if isThrown(exc) {
				if !r.catch(fr, exc) {
					r.leave(fr, heap.Value{}, true)
					return heap.Value{}, exc, nil
				}
				continue
			}
			if !callee.void {
				fr.Push(ret)
			}

		case actThrow:
			exc := r.exc
			if !r.catch(fr, exc) {
				r.leave(fr, heap.Value{}, true)
				return heap.Value{}, exc, nil
			}
		}
	}
}

// runIterative interprets root on an explicit frame stack.
func (r *run) runIterative(root *Frame) (heap.Value, heap.Value, error) {
	if err := r.enter(root); err != nil {
		return heap.Value{}, heap.Value{}, err
	}
	frames := []*Frame{root}
	unwind := func() {
		for i := len(frames) - 1; i >= 0; i-- {
			r.leave(frames[i], heap.Value{}, true)
		}
	}
	for {
		fr := frames[len(frames)-1]
		act, err := r.exec(fr)
		if err != nil {
			unwind()
			return heap.Value{}, heap.Value{}, err
		}
		switch act {
		case actReturn:
			ret := r.ret
			r.leave(fr, ret, false)
			frames = frames[:len(frames)-1]
			if len(frames) == 0 {
				return ret, heap.Value{}, nil
			}
			if !fr.void {
				frames[len(frames)-1].Push(ret)
			}

		case actInvoke:
			callee := r.next
			r.next = nil
			if err := r.enter(callee); err != nil {
				unwind()
				return heap.Value{}, heap.Value{}, err
			}
			frames = append(frames, callee)

		case actThrow:
			exc := r.exc
			for !r.catch(fr, exc) {
				r.leave(fr, heap.Value{}, true)
				frames = frames[:len(frames)-1]
				if len(frames) == 0 {
					return heap.Value{}, exc, nil
				}
				fr = frames[len(frames)-1]
			}
		}
	}
}

// exec charges and runs one instruction of fr.
func (r *run) exec(fr *Frame) (action, error) {
	if err := r.tick(fr); err != nil {
		return 0, err
	}
	return r.step(fr)
}

// catch looks for a handler of exc covering the current instruction of fr
// and, when one matches, transfers control to it.
func (r *run) catch(fr *Frame, exc heap.Value) bool {
	class, err := r.heap.ClassOf(exc.AsRef())
	if err != nil {
		return false
	}
	for _, h := range fr.Method.Info.Code.ExceptionHandlers {
		if fr.start < int(h.StartPC) || fr.start >= int(h.EndPC) {
			continue
		}
		if h.CatchType != 0 {
			name, err := classfile.GetClassName(fr.Class.ConstantPool, h.CatchType)
			if err != nil || !r.resolver.IsAssignable(class, name) {
				continue
			}
		}
		fr.SP = 0
		fr.Push(exc)
		fr.PC = int(h.HandlerPC)
		fr.retry = false
		return true
	}
	return false
}

func (r *run) result(ret, exc heap.Value, err error) *Result {
	res := &Result{
		InstructionsExecuted: r.executed,
		MaxDepth:             r.maxDepth,
		Stdout:               r.stdout.String(),
		Stderr:               r.stderr.String(),
	}
	if r.rec != nil {
		res.Trace = &r.rec.trace
	}
	switch {
	case err != nil:
		var f *Fault
		if !errors.As(err, &f) {
			f = &Fault{Status: StatusUnsupported, Cause: err}
		}
		res.Status = f.Status
		res.Detail = f.Detail
		if f.Cause != nil {
			if res.Detail != "" {
				res.Detail += ": "
			}
			res.Detail += f.Cause.Error()
		}
	case isThrown(exc):
		class, _ := r.heap.ClassOf(exc.AsRef())
		res.Status = StatusException
		res.Exception = &ExceptionInfo{
			Ref:     exc,
			Class:   class,
			Message: native.ThrowableMessage(r.heap, exc),
		}
		res.Detail = res.Exception.String()
	default:
		res.Status = StatusSuccess
		res.ReturnValue = ret
	}
	return res
}

// describe renders a value for traces; strings show their content.
func (r *run) describe(v heap.Value) string {
	if !v.IsRef() || v.IsNull() {
		return v.String()
	}
	units, err := r.heap.StringUnits(v.AsRef())
	if err != nil {
		return v.String()
	}
	const limit = 64
	if len(units) > limit {
		return fmt.Sprintf("%q...", string(utf16.Decode(units[:limit])))
	}
	return fmt.Sprintf("%q", string(utf16.Decode(units)))
}

func (r *run) describeArgs(fr *Frame) []string {
	var out []string
	for i := 0; i < len(fr.Locals); i++ {
		v := fr.Locals[i]
		if v.Kind() == heap.KindInvalid {
			break
		}
		if v.Kind() == heap.KindTop {
			continue
		}
		out = append(out, r.describe(v))
	}
	return out
}
