package heap

import (
	"errors"
	"fmt"
	"unicode/utf16"
)

const StringClass = "java/lang/String"

var (
	ErrNullReference  = errors.New("null reference")
	ErrInvalidHandle  = errors.New("invalid handle")
	ErrNoSuchField    = errors.New("no such field")
	ErrArrayBounds    = errors.New("array index out of bounds")
	ErrNegativeLength = errors.New("negative array length")
	ErrNotArray       = errors.New("not an array")
	ErrNotObject      = errors.New("not an object")
	ErrNotString      = errors.New("not a string")
	ErrHeapExhausted  = errors.New("heap exhausted")
)

// BoundsError reports an out-of-range array access.
type BoundsError struct {
	Index  int32
	Length int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("index %d out of bounds for length %d", e.Index, e.Length)
}

func (e *BoundsError) Unwrap() error { return ErrArrayBounds }

// Layout supplies the instance fields of a class, most general class
// first. The class resolver implements it.
type Layout interface {
	InstanceFields(class string) ([]FieldSlot, error)
}

// Manager is an arena of objects and arrays addressed by sequential handles,
// plus static field storage. Handles are never reused, so runs with the same
// inputs allocate the same handles.
//
// Allocations are metered in slots: one per object, and one per array or
// string plus its length. Nothing is ever freed, so usage only grows.
type Manager struct {
	layout   Layout
	entries  []any // *Object or *Array; entries[h-1]
	interned map[string]Handle
	statics  map[string]map[string]Value

	limit int64 // 0 is unlimited
	used  int64
}

// NewManager returns an empty heap. layout may be nil, in which case
// objects are created without declared fields.
func NewManager(layout Layout) *Manager {
	return &Manager{
		layout:   layout,
		interned: make(map[string]Handle),
		statics:  make(map[string]map[string]Value),
	}
}

// Count returns the number of live objects and arrays.
func (m *Manager) Count() int { return len(m.entries) }

// SetLimit bounds the slots the heap may hand out. Zero removes the bound.
func (m *Manager) SetLimit(slots int64) { m.limit = slots }

// Limit returns the slot bound, or zero when there is none.
func (m *Manager) Limit() int64 { return m.limit }

// Used returns the slots allocated so far.
func (m *Manager) Used() int64 { return m.used }

// Reserve charges n slots, failing with ErrHeapExhausted when they do not
// fit under the limit. Callers reserve before growing host memory.
func (m *Manager) Reserve(n int) error {
	if n <= 0 {
		return nil
	}
	if m.limit > 0 && int64(n) > m.limit-m.used {
		return fmt.Errorf("%w: %d slots requested, %d of %d in use", ErrHeapExhausted, n, m.used, m.limit)
	}
	m.used += int64(n)
	return nil
}

// Exhausted reports whether usage went past the limit. String
// allocations cannot fail, so they are charged unconditionally and
// the overflow shows up here.
func (m *Manager) Exhausted() bool { return m.limit > 0 && m.used > m.limit }

func (m *Manager) alloc(e any) Handle {
	m.entries = append(m.entries, e)
	return Handle(len(m.entries))
}

func (m *Manager) entry(h Handle) (any, error) {
	if h == 0 {
		return nil, ErrNullReference
	}
	if int(h) > len(m.entries) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	return m.entries[h-1], nil
}

// NewObject allocates an instance of class with every field of the class
// and its superclasses set to its default value. Constructors are not run.
func (m *Manager) NewObject(class string) (Handle, error) {
	obj := &Object{Class: class, Fields: make(map[FieldKey]Value)}
	if m.layout != nil {
		slots, err := m.layout.InstanceFields(class)
		if err != nil {
			return 0, fmt.Errorf("allocating %s: %w", class, err)
		}
		for _, s := range slots {
			obj.Fields[FieldKey{Class: s.Class, Name: s.Name}] = Zero(s.Descriptor)
		}
	}
	m.used++
	obj.Handle = m.alloc(obj)
	return obj.Handle, nil
}

// NewArray allocates a zero-filled array of elemType.
func (m *Manager) NewArray(elemType string, length int) (Handle, error) {
	if length < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeLength, length)
	}
	if err := m.Reserve(length + 1); err != nil {
		return 0, err
	}
	arr := &Array{ElemType: elemType, Elems: make([]Value, length)}
	zero := Zero(elemType)
	for i := range arr.Elems {
		arr.Elems[i] = zero
	}
	arr.Handle = m.alloc(arr)
	return arr.Handle, nil
}

// Object returns the instance behind h.
func (m *Manager) Object(h Handle) (*Object, error) {
	e, err := m.entry(h)
	if err != nil {
		return nil, err
	}
	obj, ok := e.(*Object)
	if !ok {
		return nil, fmt.Errorf("%w: handle %d", ErrNotObject, h)
	}
	return obj, nil
}

// Array returns the array behind h.
func (m *Manager) Array(h Handle) (*Array, error) {
	e, err := m.entry(h)
	if err != nil {
		return nil, err
	}
	arr, ok := e.(*Array)
	if !ok {
		return nil, fmt.Errorf("%w: handle %d", ErrNotArray, h)
	}
	return arr, nil
}

// ClassOf returns the runtime class name of an object or array.
func (m *Manager) ClassOf(h Handle) (string, error) {
	e, err := m.entry(h)
	if err != nil {
		return "", err
	}
	switch v := e.(type) {
	case *Object:
		return v.Class, nil
	case *Array:
		return v.ClassName(), nil
	}
	return "", fmt.Errorf("%w: %d", ErrInvalidHandle, h)
}

// GetField reads the field declared by class on the object h.
func (m *Manager) GetField(h Handle, class, name string) (Value, error) {
	obj, err := m.Object(h)
	if err != nil {
		return Value{}, err
	}
	v, ok := obj.Fields[FieldKey{Class: class, Name: name}]
	if !ok {
		return Value{}, fmt.Errorf("%w: %s.%s on %s", ErrNoSuchField, class, name, obj.Class)
	}
	return v, nil
}

// SetField writes the field declared by class on the object h.
func (m *Manager) SetField(h Handle, class, name string, v Value) error {
	obj, err := m.Object(h)
	if err != nil {
		return err
	}
	key := FieldKey{Class: class, Name: name}
	if _, ok := obj.Fields[key]; !ok {
		return fmt.Errorf("%w: %s.%s on %s", ErrNoSuchField, class, name, obj.Class)
	}
	obj.Fields[key] = v
	return nil
}

// Load reads an array element.
func (m *Manager) Load(h Handle, index int32) (Value, error) {
	arr, err := m.Array(h)
	if err != nil {
		return Value{}, err
	}
	if index < 0 || int(index) >= len(arr.Elems) {
		return Value{}, &BoundsError{Index: index, Length: len(arr.Elems)}
	}
	return arr.Elems[index], nil
}

// Store writes an array element, narrowing ints to the element type.
func (m *Manager) Store(h Handle, index int32, v Value) error {
	arr, err := m.Array(h)
	if err != nil {
		return err
	}
	if index < 0 || int(index) >= len(arr.Elems) {
		return &BoundsError{Index: index, Length: len(arr.Elems)}
	}
	arr.Elems[index] = Narrow(arr.ElemType, v)
	return nil
}

// NewString allocates a String holding a copy of units. It is not interned.
func (m *Manager) NewString(units []uint16) Handle {
	obj := &Object{
		Class:  StringClass,
		Fields: make(map[FieldKey]Value),
		Chars:  append([]uint16(nil), units...),
	}
	m.used += int64(len(units)) + 1
	obj.Handle = m.alloc(obj)
	return obj.Handle
}

// NewGoString allocates a String from Go text.
func (m *Manager) NewGoString(s string) Handle {
	return m.NewString(utf16.Encode([]rune(s)))
}

// InternUnits returns the canonical String for units, allocating it on
// first use.
func (m *Manager) InternUnits(units []uint16) Handle {
	key := unitsKey(units)
	if h, ok := m.interned[key]; ok {
		return h
	}
	h := m.NewString(units)
	m.interned[key] = h
	return h
}

// InternString is InternUnits for Go text.
func (m *Manager) InternString(s string) Handle {
	return m.InternUnits(utf16.Encode([]rune(s)))
}

func unitsKey(units []uint16) string {
	b := make([]byte, 2*len(units))
	for i, u := range units {
		b[2*i] = byte(u >> 8)
		b[2*i+1] = byte(u)
	}
	return string(b)
}

// StringUnits returns the UTF-16 content of a String object.
func (m *Manager) StringUnits(h Handle) ([]uint16, error) {
	obj, err := m.Object(h)
	if err != nil {
		return nil, err
	}
	if obj.Class != StringClass {
		return nil, fmt.Errorf("%w: %s", ErrNotString, obj.Class)
	}
	return obj.Chars, nil
}

// ExtractString returns the content of a String value as Go text. Unpaired
// surrogates become U+FFFD.
func (m *Manager) ExtractString(v Value) (string, error) {
	if !v.IsRef() {
		return "", fmt.Errorf("%w: %s value", ErrNotString, v.Kind())
	}
	units, err := m.StringUnits(v.AsRef())
	if err != nil {
		return "", err
	}
	return string(utf16.Decode(units)), nil
}

// IdentityHash returns a deterministic identity hash for h.
func (m *Manager) IdentityHash(h Handle) int32 {
	return int32((uint32(h) * 2654435761) >> 1)
}

// DefineStatics creates zeroed static storage for class. Existing values
// are kept.
func (m *Manager) DefineStatics(class string, slots []FieldSlot) {
	st, ok := m.statics[class]
	if !ok {
		st = make(map[string]Value, len(slots))
		m.statics[class] = st
	}
	for _, s := range slots {
		if _, ok := st[s.Name]; !ok {
			st[s.Name] = Zero(s.Descriptor)
		}
	}
}

// GetStatic reads a static field.
func (m *Manager) GetStatic(class, name string) (Value, bool) {
	v, ok := m.statics[class][name]
	return v, ok
}

// SetStatic writes a static field, creating the slot when needed.
func (m *Manager) SetStatic(class, name string, v Value) {
	st, ok := m.statics[class]
	if !ok {
		st = make(map[string]Value)
		m.statics[class] = st
	}
	st[name] = v
}
