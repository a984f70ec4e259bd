package vm

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/daimatz/jvmexec/pkg/bytecode"
	"github.com/daimatz/jvmexec/pkg/classfile"
	"github.com/daimatz/jvmexec/pkg/heap"
	"github.com/daimatz/jvmexec/pkg/native"
)

const stringConcatFactory = "java/lang/invoke/StringConcatFactory"

// Recipe tags of StringConcatFactory.makeConcatWithConstants.
const (
	recipeArg      = 0x0001
	recipeConstant = 0x0002
)

func (r *run) field(fr *Frame, op byte) (action, error) {
	ref, err := classfile.ResolveFieldref(fr.Class.ConstantPool, fr.ReadU16())
	if err != nil {
		return 0, &Fault{Status: StatusResolutionError, Cause: err}
	}
	decl, _, err := r.resolver.ResolveField(ref.ClassName, ref.FieldName)
	if err != nil {
		if IsBuiltin(ref.ClassName) {
			return 0, faultf(StatusUnsupported, "field %s.%s is not emulated", ref.ClassName, ref.FieldName)
		}
		return 0, r.fault(err)
	}

	switch op {
	case bytecode.OpGetstatic, bytecode.OpPutstatic:
		if pending, act, err := r.ensureInit(fr, decl); pending || err != nil {
			return act, err
		}
		if op == bytecode.OpPutstatic {
			r.heap.SetStatic(decl, ref.FieldName, heap.Narrow(ref.Descriptor, fr.Pop()))
			return actNext, nil
		}
		v, ok := r.heap.GetStatic(decl, ref.FieldName)
		if !ok {
			return 0, faultf(StatusResolutionError, "static field %s.%s has no storage", decl, ref.FieldName)
		}
		fr.Push(v)

	case bytecode.OpGetfield:
		obj := fr.Pop()
		if obj.IsNull() {
			return r.throw(native.ClassNullPointer, fmt.Sprintf("Cannot read field %q because value is null", ref.FieldName))
		}
		v, err := r.heap.GetField(obj.AsRef(), decl, ref.FieldName)
		if err != nil {
			return r.raise(err)
		}
		fr.Push(v)

	case bytecode.OpPutfield:
		v := fr.Pop()
		obj := fr.Pop()
		if obj.IsNull() {
			return r.throw(native.ClassNullPointer, fmt.Sprintf("Cannot assign field %q because value is null", ref.FieldName))
		}
		if err := r.heap.SetField(obj.AsRef(), decl, ref.FieldName, heap.Narrow(ref.Descriptor, v)); err != nil {
			return r.raise(err)
		}
	}
	return actNext, nil
}

func (r *run) invoke(fr *Frame, op byte) (action, error) {
	ref, err := classfile.ResolveMethodref(fr.Class.ConstantPool, fr.ReadU16())
	if err != nil {
		return 0, &Fault{Status: StatusResolutionError, Cause: err}
	}
	if op == bytecode.OpInvokeinterface {
		fr.PC += 2 // count and zero byte
	}
	md, err := r.descriptor(ref.Descriptor)
	if err != nil {
		return 0, err
	}

	var m *Method
	if op == bytecode.OpInvokestatic {
		if m, err = r.lookup(ref, ref.ClassName, false); err != nil {
			return 0, err
		}
		if pending, act, err := r.ensureInit(fr, m.Class); pending || err != nil {
			return act, err
		}
	}

	args := make([]heap.Value, len(md.Params))
	for i := len(args) - 1; i >= 0; i-- {
		args[i] = fr.Pop()
	}
	this := heap.Null
	if op != bytecode.OpInvokestatic {
		this = fr.Pop()
		if this.IsNull() {
			return r.throw(native.ClassNullPointer, fmt.Sprintf("Cannot invoke \"%s.%s()\" because value is null", dotted(ref.ClassName), ref.MethodName))
		}
		if strings.HasPrefix(ref.ClassName, "[") && ref.MethodName == "clone" {
			return r.cloneArray(fr, this)
		}
		owner, virtual := ref.ClassName, false
		if op == bytecode.OpInvokevirtual || op == bytecode.OpInvokeinterface {
			class, err := r.heap.ClassOf(this.AsRef())
			if err != nil {
				return r.raise(err)
			}
			if strings.HasPrefix(class, "[") {
				class = "java/lang/Object"
			}
			owner, virtual = class, true
		}
		if m, err = r.lookup(ref, owner, virtual); err != nil {
			return 0, err
		}
	}

	if m.Emulated {
		v, err := r.invokeNative(m, this, args, fr.Depth+1)
		if err != nil {
			return r.raise(err)
		}
		if md.Return != "V" {
			fr.Push(v)
		}
		return actNext, nil
	}
	if m.Info.IsAbstract() {
		return r.throw(classAbstractMethod, fmt.Sprintf("%s.%s%s", dotted(m.Class), m.Name, m.Desc))
	}
	if err := checkCode(m); err != nil {
		return 0, err
	}
	callee := NewFrame(m, fr.Depth+1)
	if op == bytecode.OpInvokestatic {
		callee.setArgs(args)
	} else {
		callee.setArgs(append([]heap.Value{this}, args...))
	}
	r.next = callee
	return actInvoke, nil
}

// lookup resolves a method reference starting at owner. A reference to a
// built-in class that neither the stubs nor the native registry provide
// is reported as unsupported rather than unresolvable.
func (r *run) lookup(ref *classfile.MethodRefInfo, owner string, virtual bool) (*Method, error) {
	m, err := r.resolver.resolveMethod(owner, ref.MethodName, ref.Descriptor, virtual, r.natives.Has)
	if err == nil {
		return m, nil
	}
	if IsBuiltin(ref.ClassName) && errors.Is(err, ErrNoSuchMethod) {
		return nil, faultf(StatusUnsupported, "no emulation for %s.%s%s", ref.ClassName, ref.MethodName, ref.Descriptor)
	}
	return nil, &Fault{Status: StatusResolutionError, Detail: "invoke", Cause: err}
}

// invokeNative calls the registered handler of m and records it in the
// trace.
func (r *run) invokeNative(m *Method, this heap.Value, args []heap.Value, depth int) (heap.Value, error) {
	var start time.Duration
	if r.rec != nil {
		start = r.rec.now()
	}
	v, err := r.natives.Invoke(r, m.Class, m.Name, m.Desc, this, args)
	if r.rec != nil {
		c := &Call{Depth: depth, Owner: m.Class, Name: m.Name, Desc: m.Desc, Native: true}
		if !this.IsNull() {
			c.Args = append(c.Args, r.describe(this))
		}
		for _, a := range args {
			c.Args = append(c.Args, r.describe(a))
		}
		switch {
		case err != nil:
			c.Exceptional = true
		case !strings.HasSuffix(m.Desc, ")V"):
			c.Return = r.describe(v)
		}
		r.rec.leaf(c, start)
	}
	if errors.Is(err, native.ErrNoHandler) {
		return heap.Value{}, &Fault{Status: StatusUnsupported, Cause: err}
	}
	if err == nil {
		if err := r.checkHeap(); err != nil {
			return heap.Value{}, err
		}
	}
	return v, err
}

func (r *run) cloneArray(fr *Frame, v heap.Value) (action, error) {
	src, err := r.heap.Array(v.AsRef())
	if err != nil {
		return r.raise(err)
	}
	h, err := r.heap.NewArray(src.ElemType, src.Len())
	if err != nil {
		return r.raise(err)
	}
	dst, err := r.heap.Array(h)
	if err != nil {
		return r.raise(err)
	}
	copy(dst.Elems, src.Elems)
	fr.Push(heap.Ref(h))
	return actNext, nil
}

// invokeDynamic supports the string concatenation bootstraps only.
func (r *run) invokeDynamic(fr *Frame) (action, error) {
	idx := fr.ReadU16()
	fr.PC += 2
	info, err := fr.Class.ResolveInvokeDynamic(idx)
	if err != nil {
		return 0, &Fault{Status: StatusUnsupported, Detail: "invokedynamic", Cause: err}
	}
	if info.Handle.ClassName != stringConcatFactory {
		return 0, faultf(StatusUnsupported, "invokedynamic bootstrap %s.%s", info.Handle.ClassName, info.Handle.MethodName)
	}
	md, err := r.descriptor(info.Descriptor)
	if err != nil {
		return 0, err
	}
	args := make([]heap.Value, len(md.Params))
	for i := len(args) - 1; i >= 0; i-- {
		args[i] = fr.Pop()
	}

	pool := fr.Class.ConstantPool
	var recipe []uint16
	var constants []uint16
	switch info.Handle.MethodName {
	case "makeConcatWithConstants":
		bsmArgs := info.Bootstrap.BootstrapArguments
		if len(bsmArgs) == 0 {
			return 0, faultf(StatusUnsupported, "makeConcatWithConstants without a recipe")
		}
		if recipe, err = classfile.GetString(pool, bsmArgs[0]); err != nil {
			return 0, &Fault{Status: StatusUnsupported, Detail: "concat recipe", Cause: err}
		}
		constants = bsmArgs[1:]
	case "makeConcat":
		recipe = make([]uint16, len(args))
		for i := range recipe {
			recipe[i] = recipeArg
		}
	default:
		return 0, faultf(StatusUnsupported, "invokedynamic bootstrap %s.%s", info.Handle.ClassName, info.Handle.MethodName)
	}

	var out []uint16
	next, nextConst := 0, 0
	for _, u := range recipe {
		switch u {
		case recipeArg:
			if next >= len(args) {
				return 0, faultf(StatusUnsupported, "concat recipe uses more than %d arguments", len(args))
			}
			s, err := r.stringUnits(md.Params[next], args[next])
			if err != nil {
				return r.raise(err)
			}
			out = append(out, s...)
			next++
		case recipeConstant:
			if nextConst >= len(constants) {
				return 0, faultf(StatusUnsupported, "concat recipe uses more than %d constants", len(constants))
			}
			v, err := r.constant(fr.Class, constants[nextConst])
			if err != nil {
				return 0, err
			}
			s, err := r.stringUnits(kindDescriptor(v), v)
			if err != nil {
				return r.raise(err)
			}
			out = append(out, s...)
			nextConst++
		default:
			out = append(out, u)
		}
	}
	fr.Push(heap.Ref(r.heap.NewString(out)))
	return actNext, r.checkHeap()
}

func kindDescriptor(v heap.Value) string {
	switch v.Kind() {
	case heap.KindInt:
		return "I"
	case heap.KindLong:
		return "J"
	case heap.KindFloat:
		return "F"
	case heap.KindDouble:
		return "D"
	}
	return "Ljava/lang/Object;"
}

// stringUnits converts a value of the given type the way String.valueOf
// would.
func (r *run) stringUnits(desc string, v heap.Value) ([]uint16, error) {
	var key string
	switch desc {
	case "B", "S", "I":
		key = "(I)Ljava/lang/String;"
	case "J", "F", "D", "C", "Z":
		key = "(" + desc + ")Ljava/lang/String;"
	default:
		if !v.IsNull() {
			if units, err := r.heap.StringUnits(v.AsRef()); err == nil {
				return units, nil
			}
		}
		key = "(Ljava/lang/Object;)Ljava/lang/String;"
	}
	s, err := r.natives.Invoke(r, heap.StringClass, "valueOf", key, heap.Null, []heap.Value{v})
	if err != nil {
		return nil, err
	}
	return r.heap.StringUnits(s.AsRef())
}
