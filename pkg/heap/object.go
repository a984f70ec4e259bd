package heap

// FieldKey names an instance field by its declaring class, so a subclass
// field shadowing a superclass field of the same name gets its own slot.
type FieldKey struct {
	Class string
	Name  string
}

// FieldSlot describes one field of an instance or static layout.
type FieldSlot struct {
	Class      string
	Name       string
	Descriptor string
}

// Object is an instance on the emulated heap.
type Object struct {
	Handle Handle
	Class  string
	Fields map[FieldKey]Value
	// Chars holds the UTF-16 content of String and string-builder objects.
	Chars []uint16
	// Native carries state owned by native emulations, e.g. a hash map table.
	Native any
}

// Array is a fixed-length array on the emulated heap.
type Array struct {
	Handle Handle
	// ElemType is the element field descriptor, e.g. "I" or "Ljava/lang/String;".
	ElemType string
	Elems    []Value
}

// Len returns the array length.
func (a *Array) Len() int { return len(a.Elems) }

// ClassName returns the array's class name, e.g. "[I".
func (a *Array) ClassName() string { return "[" + a.ElemType }
