package native

import (
	"fmt"

	"github.com/daimatz/jvmexec/pkg/heap"
)

const hashMapClass = "java/util/HashMap"

// HashMap is the native state behind a java.util.HashMap object. Keys are
// compared by content for strings and boxed primitives and by identity for
// everything else. Iteration order is insertion order.
type HashMap struct {
	index map[string]int
	keys  []heap.Value
	vals  []heap.Value
}

// NewHashMap returns an empty table.
func NewHashMap() *HashMap {
	return &HashMap{index: make(map[string]int)}
}

// Len returns the number of entries.
func (m *HashMap) Len() int { return len(m.index) }

// Get returns the value for key, or Null.
func (m *HashMap) Get(h *heap.Manager, key heap.Value) (heap.Value, bool) {
	i, ok := m.index[mapKey(h, key)]
	if !ok {
		return heap.Null, false
	}
	return m.vals[i], true
}

// Put stores a key-value pair and returns the previous value (Null if none).
func (m *HashMap) Put(h *heap.Manager, key, value heap.Value) heap.Value {
	k := mapKey(h, key)
	if i, ok := m.index[k]; ok {
		old := m.vals[i]
		m.vals[i] = value
		return old
	}
	m.index[k] = len(m.keys)
	m.keys = append(m.keys, key)
	m.vals = append(m.vals, value)
	return heap.Null
}

// Remove deletes key and returns its value (Null if absent).
func (m *HashMap) Remove(h *heap.Manager, key heap.Value) heap.Value {
	k := mapKey(h, key)
	i, ok := m.index[k]
	if !ok {
		return heap.Null
	}
	old := m.vals[i]
	delete(m.index, k)
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	m.vals = append(m.vals[:i], m.vals[i+1:]...)
	for j, key := range m.keys[i:] {
		m.index[mapKey(h, key)] = i + j
	}
	return old
}

func mapKey(h *heap.Manager, key heap.Value) string {
	if key.IsNull() {
		return "null"
	}
	obj, err := h.Object(key.AsRef())
	if err != nil {
		return fmt.Sprintf("#%d", key.AsRef())
	}
	if obj.Class == heap.StringClass {
		return "s:" + utf16String(obj.Chars)
	}
	if v, ok := obj.Fields[heap.FieldKey{Class: obj.Class, Name: "value"}]; ok {
		switch obj.Class {
		case integerClass, longClass, characterClass, booleanClass:
			return obj.Class + ":" + v.String()
		}
	}
	return fmt.Sprintf("#%d", key.AsRef())
}

func registerHashMap(r *Registry) {
	r.RegisterClassInit(hashMapClass, noop)

	table := func(env Env, this heap.Value) (*HashMap, error) {
		if this.IsNull() {
			return nil, &Throw{Class: ClassNullPointer}
		}
		obj, err := env.Heap().Object(this.AsRef())
		if err != nil {
			return nil, err
		}
		m, ok := obj.Native.(*HashMap)
		if !ok {
			m = NewHashMap()
			obj.Native = m
		}
		return m, nil
	}
	method := func(name, desc string, fn func(env Env, m *HashMap, args []heap.Value) heap.Value) {
		r.Register(hashMapClass, name, desc, func(env Env, this heap.Value, args []heap.Value) (heap.Value, error) {
			m, err := table(env, this)
			if err != nil {
				return heap.Value{}, err
			}
			return fn(env, m, args), nil
		})
	}
	ctor := func(env Env, m *HashMap, _ []heap.Value) heap.Value {
		*m = *NewHashMap()
		return heap.Value{}
	}
	method("<init>", "()V", ctor)
	method("<init>", "(I)V", ctor)
	method("<init>", "(IF)V", ctor)
	method("put", "(Ljava/lang/Object;Ljava/lang/Object;)Ljava/lang/Object;", func(env Env, m *HashMap, a []heap.Value) heap.Value {
		return m.Put(env.Heap(), a[0], a[1])
	})
	method("get", "(Ljava/lang/Object;)Ljava/lang/Object;", func(env Env, m *HashMap, a []heap.Value) heap.Value {
		v, _ := m.Get(env.Heap(), a[0])
		return v
	})
	method("getOrDefault", "(Ljava/lang/Object;Ljava/lang/Object;)Ljava/lang/Object;", func(env Env, m *HashMap, a []heap.Value) heap.Value {
		if v, ok := m.Get(env.Heap(), a[0]); ok {
			return v
		}
		return a[1]
	})
	method("containsKey", "(Ljava/lang/Object;)Z", func(env Env, m *HashMap, a []heap.Value) heap.Value {
		_, ok := m.Get(env.Heap(), a[0])
		return heap.Bool(ok)
	})
	method("remove", "(Ljava/lang/Object;)Ljava/lang/Object;", func(env Env, m *HashMap, a []heap.Value) heap.Value {
		return m.Remove(env.Heap(), a[0])
	})
	method("size", "()I", func(_ Env, m *HashMap, _ []heap.Value) heap.Value {
		return heap.Int(int32(m.Len()))
	})
	method("isEmpty", "()Z", func(_ Env, m *HashMap, _ []heap.Value) heap.Value {
		return heap.Bool(m.Len() == 0)
	})
	method("clear", "()V", func(_ Env, m *HashMap, _ []heap.Value) heap.Value {
		*m = *NewHashMap()
		return heap.Value{}
	})
}
