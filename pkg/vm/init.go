package vm

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/daimatz/jvmexec/pkg/classfile"
	"github.com/daimatz/jvmexec/pkg/heap"
	"github.com/daimatz/jvmexec/pkg/native"
)

// prepareClass marks class initialized and sets up its static storage:
// zero values first, then ConstantValue attributes. Static values already
// present on the heap are kept.
func (r *run) prepareClass(class string) error {
	if r.ctx.initialized[class] {
		return nil
	}
	r.ctx.initialized[class] = true
	cf, err := r.resolver.Resolve(class)
	if err != nil {
		return r.fault(err)
	}
	slots, err := r.resolver.StaticFields(class)
	if err != nil {
		return r.fault(err)
	}
	r.heap.DefineStatics(class, slots)
	for i := range cf.Fields {
		f := &cf.Fields[i]
		if !f.IsStatic() {
			continue
		}
		idx := f.ConstantValueIndex()
		if idx == 0 {
			continue
		}
		v, err := r.constant(cf, idx)
		if err != nil {
			return err
		}
		r.heap.SetStatic(class, f.Name, heap.Narrow(f.Descriptor, v))
	}
	Logger().Debug("initializing class", zap.String("class", class), zap.Int("statics", len(slots)))
	return nil
}

// nextInit initializes the most general uninitialized class in the lineage
// of class. Emulated initializers run inline; a <clinit> that has to be
// interpreted is returned instead, already marked as initialized. A nil
// method means the whole lineage is initialized.
func (r *run) nextInit(class string) (*Method, heap.Value, error) {
	chain, err := r.resolver.Lineage(class)
	if err != nil {
		return nil, heap.Value{}, r.fault(err)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		cf := chain[i]
		name, err := cf.ClassName()
		if err != nil {
			return nil, heap.Value{}, r.fault(err)
		}
		if r.ctx.initialized[name] {
			continue
		}
		if err := r.prepareClass(name); err != nil {
			return nil, heap.Value{}, err
		}
		if fn, ok := r.natives.ClassInit(name); ok {
			if err := fn(r); err != nil {
				var t *native.Throw
				if errors.As(err, &t) {
					exc, ferr := r.newThrowable(t.Class, t.Message)
					return nil, exc, ferr
				}
				return nil, heap.Value{}, r.fault(err)
			}
			continue
		}
		if mi := cf.FindMethod("<clinit>", "()V"); mi != nil {
			return &Method{Class: name, File: cf, Info: mi, Name: "<clinit>", Desc: "()V"}, heap.Value{}, nil
		}
	}
	return nil, heap.Value{}, nil
}

// ensureInit initializes class on behalf of the current instruction of fr.
// When a <clinit> has to run first, the instruction is rewound so that it
// is retried once the initializer returns, and pending is true.
func (r *run) ensureInit(fr *Frame, class string) (pending bool, act action, err error) {
	if r.ctx.initialized[class] {
		return false, actNext, nil
	}
	clinit, exc, err := r.nextInit(class)
	switch {
	case err != nil:
		return true, 0, err
	case isThrown(exc):
		r.exc = exc
		return true, actThrow, nil
	case clinit == nil:
		return false, actNext, nil
	}
	if err := checkCode(clinit); err != nil {
		return true, 0, err
	}
	fr.PC = fr.start
	fr.retry = true
	r.next = NewFrame(clinit, fr.Depth+1)
	return true, actInvoke, nil
}

// constant loads a loadable constant pool entry.
func (r *run) constant(cf *classfile.ClassFile, idx uint16) (heap.Value, error) {
	pool := cf.ConstantPool
	if int(idx) >= len(pool) || pool[idx] == nil {
		return heap.Value{}, faultf(StatusUnsupported, "invalid constant pool index %d", idx)
	}
	switch c := pool[idx].(type) {
	case *classfile.ConstantInteger:
		return heap.Int(c.Value), nil
	case *classfile.ConstantFloat:
		return heap.Float(c.Value), nil
	case *classfile.ConstantLong:
		return heap.Long(c.Value), nil
	case *classfile.ConstantDouble:
		return heap.Double(c.Value), nil
	case *classfile.ConstantString:
		units, err := classfile.GetString(pool, idx)
		if err != nil {
			return heap.Value{}, faultf(StatusUnsupported, "string constant %d: %v", idx, err)
		}
		return heap.Ref(r.heap.InternUnits(units)), nil
	case *classfile.ConstantClass:
		name, err := classfile.GetClassName(pool, idx)
		if err != nil {
			return heap.Value{}, faultf(StatusUnsupported, "class constant %d: %v", idx, err)
		}
		return r.ClassObject(name)
	}
	return heap.Value{}, faultf(StatusUnsupported, "loading constant of tag %d", pool[idx].Tag())
}

// describeClass renders an internal class name the way JVM messages do.
func describeClass(name string) string {
	if len(name) > 0 && name[0] == '[' {
		return name
	}
	return fmt.Sprintf("class %s", dotted(name))
}
