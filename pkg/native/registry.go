// Package native emulates JDK methods that cannot, or should not, be
// interpreted from bytecode: methods declared native, and hot library
// methods whose real implementations depend on VM internals.
package native

import (
	"errors"
	"fmt"
	"sort"

	"github.com/daimatz/jvmexec/pkg/heap"
)

// ErrNoHandler is returned by Invoke for an unregistered method.
var ErrNoHandler = errors.New("no native handler")

// Stream selects a console stream for Env.Print.
type Stream int

const (
	Stdout Stream = 1
	Stderr Stream = 2
)

// Env is the part of the engine a handler may use. Handlers never perform
// real I/O; printing is captured by the engine.
type Env interface {
	Heap() *heap.Manager
	Print(s Stream, text string)
	// ClassObject returns the java/lang/Class instance for a class name.
	ClassObject(name string) (heap.Value, error)
}

// Handler emulates one method. this is the receiver (Null for static
// methods); args are in declaration order, one entry per parameter. Void
// methods return the zero Value.
type Handler func(env Env, this heap.Value, args []heap.Value) (heap.Value, error)

// ClassInit replaces a class's <clinit>.
type ClassInit func(env Env) error

// Throw asks the engine to raise a Java exception of Class with Message.
type Throw struct {
	Class   string
	Message string
}

func (t *Throw) Error() string {
	if t.Message == "" {
		return t.Class
	}
	return t.Class + ": " + t.Message
}

// Throwf builds a Throw with a formatted message.
func Throwf(class, format string, args ...any) *Throw {
	return &Throw{Class: class, Message: fmt.Sprintf(format, args...)}
}

const (
	ClassNullPointer      = "java/lang/NullPointerException"
	ClassArithmetic       = "java/lang/ArithmeticException"
	ClassIndexOutOfBounds = "java/lang/ArrayIndexOutOfBoundsException"
	ClassStringIndex      = "java/lang/StringIndexOutOfBoundsException"
	ClassNegativeSize     = "java/lang/NegativeArraySizeException"
	ClassArrayStore       = "java/lang/ArrayStoreException"
	ClassNumberFormat     = "java/lang/NumberFormatException"
	ClassIllegalArgument  = "java/lang/IllegalArgumentException"
	ClassUnsupportedEnc   = "java/io/UnsupportedEncodingException"
)

// Key identifies a method by owner, name and descriptor.
type Key struct {
	Owner string
	Name  string
	Desc  string
}

func (k Key) String() string { return k.Owner + "." + k.Name + k.Desc }

// Registry maps methods to handlers. It is filled before execution starts
// and only read afterwards, so one registry may back several engines.
type Registry struct {
	handlers map[Key]Handler
	inits    map[string]ClassInit
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[Key]Handler),
		inits:    make(map[string]ClassInit),
	}
}

// Defaults returns a registry with the default handlers installed.
func Defaults() *Registry {
	r := NewRegistry()
	r.RegisterDefaults()
	return r
}

// Register installs or replaces a handler.
func (r *Registry) Register(owner, name, desc string, h Handler) {
	r.handlers[Key{Owner: owner, Name: name, Desc: desc}] = h
}

// Has reports whether a handler exists.
func (r *Registry) Has(owner, name, desc string) bool {
	_, ok := r.handlers[Key{Owner: owner, Name: name, Desc: desc}]
	return ok
}

// Invoke runs the handler for the method.
func (r *Registry) Invoke(env Env, owner, name, desc string, this heap.Value, args []heap.Value) (heap.Value, error) {
	h, ok := r.handlers[Key{Owner: owner, Name: name, Desc: desc}]
	if !ok {
		return heap.Value{}, fmt.Errorf("%w: %s.%s%s", ErrNoHandler, owner, name, desc)
	}
	return h(env, this, args)
}

// RegisterClassInit replaces the static initializer of class.
func (r *Registry) RegisterClassInit(class string, fn ClassInit) {
	r.inits[class] = fn
}

// ClassInit returns the replacement initializer for class, if any.
func (r *Registry) ClassInit(class string) (ClassInit, bool) {
	fn, ok := r.inits[class]
	return fn, ok
}

// Keys returns every registered method, sorted.
func (r *Registry) Keys() []Key {
	keys := make([]Key, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int { return len(r.handlers) }

// RegisterDefaults installs the built-in emulations.
func (r *Registry) RegisterDefaults() {
	registerLang(r)
	registerSystem(r)
	registerStrings(r)
	registerBoxes(r)
	registerMath(r)
	registerHashMap(r)
}

func noop(Env) error { return nil }

func void(Env, heap.Value, []heap.Value) (heap.Value, error) { return heap.Value{}, nil }
