package vm

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/daimatz/jvmexec/pkg/classfile"
	"github.com/daimatz/jvmexec/pkg/heap"
)

var (
	ErrNoSuchMethod = errors.New("no such method")
	ErrNoSuchField  = errors.New("no such field")
)

// Method is a resolved method: the class that declares it and its
// definition. Emulated methods are served by the native registry and may
// have no definition.
type Method struct {
	Class    string
	File     *classfile.ClassFile
	Info     *classfile.MethodInfo
	Name     string
	Desc     string
	Emulated bool
}

func (m *Method) String() string { return m.Class + "." + m.Name + m.Desc }

// IsStatic reports whether the method is declared static.
func (m *Method) IsStatic() bool { return m.Info != nil && m.Info.IsStatic() }

// ClassResolver resolves classes, methods and fields against a ClassPool.
// A resolver belongs to one context and caches what it resolved; it is
// not safe for concurrent use. The pool behind it may be shared.
type ClassResolver struct {
	pool    *ClassPool
	classes map[string]*classfile.ClassFile
	layouts map[string][]heap.FieldSlot
}

// NewClassResolver returns a resolver holding a reference on pool.
func NewClassResolver(pool *ClassPool) *ClassResolver {
	return &ClassResolver{
		pool:    pool.Retain(),
		classes: make(map[string]*classfile.ClassFile),
		layouts: make(map[string][]heap.FieldSlot),
	}
}

// Pool returns the backing pool.
func (r *ClassResolver) Pool() *ClassPool { return r.pool }

// Close releases the resolver's reference on the pool.
func (r *ClassResolver) Close() error { return r.pool.Release() }

// Resolve returns the class named name.
func (r *ClassResolver) Resolve(name string) (*classfile.ClassFile, error) {
	if cf, ok := r.classes[name]; ok {
		return cf, nil
	}
	cf, err := r.pool.LoadClass(name)
	if err != nil {
		return nil, err
	}
	r.classes[name] = cf
	return cf, nil
}

// Lineage returns name followed by its superclasses, ending at the root.
func (r *ClassResolver) Lineage(name string) ([]*classfile.ClassFile, error) {
	var chain []*classfile.ClassFile
	for c := name; c != ""; {
		cf, err := r.Resolve(c)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cf)
		if len(chain) > 256 {
			return nil, fmt.Errorf("class hierarchy of %s is too deep or cyclic", name)
		}
		c = cf.SuperClassName()
	}
	return chain, nil
}

// ResolveMethod finds name+desc starting at owner. The superclass chain is
// searched first; virtual lookups then search the superinterfaces for a
// default method. The first concrete match wins; an abstract match is
// returned only when nothing concrete exists.
func (r *ClassResolver) ResolveMethod(owner, name, desc string, virtual bool) (*Method, error) {
	return r.resolveMethod(owner, name, desc, virtual, nil)
}

// resolveMethod is ResolveMethod with a hook that reports natives; a class
// with a registered handler for the method answers before its bytecode.
func (r *ClassResolver) resolveMethod(owner, name, desc string, virtual bool, emulated func(owner, name, desc string) bool) (*Method, error) {
	chain, err := r.Lineage(owner)
	if err != nil {
		return nil, err
	}
	var abstract *Method
	check := func(cf *classfile.ClassFile) *Method {
		class, _ := cf.ClassName()
		if emulated != nil && emulated(class, name, desc) {
			return &Method{Class: class, File: cf, Info: cf.FindMethod(name, desc), Name: name, Desc: desc, Emulated: true}
		}
		mi := cf.FindMethod(name, desc)
		if mi == nil {
			return nil
		}
		m := &Method{Class: class, File: cf, Info: mi, Name: name, Desc: desc}
		if mi.IsAbstract() {
			if abstract == nil {
				abstract = m
			}
			return nil
		}
		return m
	}
	for _, cf := range chain {
		if m := check(cf); m != nil {
			return m, nil
		}
		if abstract != nil && !virtual {
			return abstract, nil
		}
	}
	if virtual || chain[0].IsInterface() {
		seen := make(map[string]bool)
		queue := make([]string, 0, 8)
		for _, cf := range chain {
			queue = append(queue, cf.InterfaceNames()...)
		}
		for len(queue) > 0 {
			iface := queue[0]
			queue = queue[1:]
			if seen[iface] {
				continue
			}
			seen[iface] = true
			cf, err := r.Resolve(iface)
			if err != nil {
				Logger().Debug("skipping unresolvable interface", zap.String("interface", iface), zap.Error(err))
				continue
			}
			if m := check(cf); m != nil {
				return m, nil
			}
			queue = append(queue, cf.InterfaceNames()...)
		}
	}
	if abstract != nil {
		return abstract, nil
	}
	return nil, fmt.Errorf("%w: %s.%s%s", ErrNoSuchMethod, owner, name, desc)
}

// ResolveField returns the class declaring the field name as seen from
// owner: the class itself, then its superinterfaces, then its superclass.
func (r *ClassResolver) ResolveField(owner, name string) (string, *classfile.FieldInfo, error) {
	seen := make(map[string]bool)
	var lookup func(class string) (string, *classfile.FieldInfo, error)
	lookup = func(class string) (string, *classfile.FieldInfo, error) {
		if class == "" || seen[class] {
			return "", nil, nil
		}
		seen[class] = true
		cf, err := r.Resolve(class)
		if err != nil {
			return "", nil, err
		}
		if f := cf.FindField(name); f != nil {
			return class, f, nil
		}
		for _, iface := range cf.InterfaceNames() {
			if decl, f, err := lookup(iface); err == nil && f != nil {
				return decl, f, nil
			}
		}
		return lookup(cf.SuperClassName())
	}
	decl, f, err := lookup(owner)
	if err != nil {
		return "", nil, err
	}
	if f == nil {
		return "", nil, fmt.Errorf("%w: %s.%s", ErrNoSuchField, owner, name)
	}
	return decl, f, nil
}

// InstanceFields returns every instance field of class and its
// superclasses, most general class first. It implements heap.Layout.
func (r *ClassResolver) InstanceFields(class string) ([]heap.FieldSlot, error) {
	if slots, ok := r.layouts[class]; ok {
		return slots, nil
	}
	chain, err := r.Lineage(class)
	if err != nil {
		return nil, err
	}
	var slots []heap.FieldSlot
	for i := len(chain) - 1; i >= 0; i-- {
		cf := chain[i]
		name, _ := cf.ClassName()
		for _, f := range cf.Fields {
			if !f.IsStatic() {
				slots = append(slots, heap.FieldSlot{Class: name, Name: f.Name, Descriptor: f.Descriptor})
			}
		}
	}
	r.layouts[class] = slots
	return slots, nil
}

// StaticFields returns the static fields declared by class itself.
func (r *ClassResolver) StaticFields(class string) ([]heap.FieldSlot, error) {
	cf, err := r.Resolve(class)
	if err != nil {
		return nil, err
	}
	var slots []heap.FieldSlot
	for _, f := range cf.Fields {
		if f.IsStatic() {
			slots = append(slots, heap.FieldSlot{Class: class, Name: f.Name, Descriptor: f.Descriptor})
		}
	}
	return slots, nil
}

// IsAssignable reports whether a value of runtime class from can be stored
// in a variable of type to. Both are internal names; array classes use
// descriptor form ("[I", "[Ljava/lang/String;"). Unresolvable classes are
// only assignable to themselves and to java/lang/Object.
func (r *ClassResolver) IsAssignable(from, to string) bool {
	if from == to || to == "java/lang/Object" {
		return true
	}
	if strings.HasPrefix(from, "[") {
		switch {
		case to == "java/lang/Cloneable" || to == "java/io/Serializable":
			return true
		case !strings.HasPrefix(to, "["):
			return false
		}
		fe, te := from[1:], to[1:]
		if isPrimitiveDesc(fe) || isPrimitiveDesc(te) {
			return fe == te
		}
		return r.IsAssignable(classfile.ClassNameOf(fe), classfile.ClassNameOf(te))
	}
	if strings.HasPrefix(to, "[") {
		return false
	}
	seen := make(map[string]bool)
	var walk func(class string) bool
	walk = func(class string) bool {
		if class == "" || seen[class] {
			return false
		}
		seen[class] = true
		if class == to {
			return true
		}
		cf, err := r.Resolve(class)
		if err != nil {
			return false
		}
		for _, iface := range cf.InterfaceNames() {
			if walk(iface) {
				return true
			}
		}
		return walk(cf.SuperClassName())
	}
	return walk(from)
}

func isPrimitiveDesc(desc string) bool {
	return len(desc) == 1
}
