package vm

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/daimatz/jvmexec/pkg/heap"
	"github.com/daimatz/jvmexec/pkg/native"
)

// Mode selects how Java calls map onto the host.
type Mode int

const (
	// ModeRecursive runs every Java invocation as a host call.
	ModeRecursive Mode = iota
	// ModeIterative keeps an explicit frame stack and never recurses.
	ModeIterative
)

func (m Mode) String() string {
	switch m {
	case ModeRecursive:
		return "RECURSIVE"
	case ModeIterative:
		return "ITERATIVE"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses "recursive" or "iterative", case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "RECURSIVE":
		return ModeRecursive, nil
	case "ITERATIVE":
		return ModeIterative, nil
	}
	return 0, fmt.Errorf("unknown execution mode %q", s)
}

const (
	DefaultMaxCallDepth    = 100
	DefaultMaxInstructions = 1_000_000

	// DefaultMaxHeapSlots allows about 128 MiB of array elements.
	DefaultMaxHeapSlots = 8 << 20
)

// Context bundles everything one engine session needs. Its configuration
// is fixed at construction; the heap and the set of initialized classes
// persist across Execute calls, so receivers pre-seeded on the heap and
// classes already initialized stay available.
type Context struct {
	resolver        *ClassResolver
	heap            *heap.Manager
	natives         *native.Registry
	mode            Mode
	maxCallDepth    int
	maxInstructions int64
	maxHeapSlots    int64
	trace           bool
	clock           func() time.Time

	initialized  map[string]bool
	classObjects map[string]heap.Handle
}

// Option configures a Context.
type Option func(*Context)

// WithMode selects the execution mode.
func WithMode(m Mode) Option { return func(c *Context) { c.mode = m } }

// WithMaxCallDepth bounds the number of live frames.
func WithMaxCallDepth(n int) Option { return func(c *Context) { c.maxCallDepth = n } }

// WithMaxInstructions bounds the opcodes executed by one Execute call.
func WithMaxInstructions(n int64) Option { return func(c *Context) { c.maxInstructions = n } }

// WithMaxHeapSlots bounds heap allocations: one slot per object, and one
// per array or string plus its length.
func WithMaxHeapSlots(n int64) Option { return func(c *Context) { c.maxHeapSlots = n } }

// WithTrace records a call trace in every Result.
func WithTrace(on bool) Option { return func(c *Context) { c.trace = on } }

// WithNatives replaces the default native registry.
func WithNatives(r *native.Registry) Option { return func(c *Context) { c.natives = r } }

// WithClock sets the time source used for trace timings.
func WithClock(now func() time.Time) Option { return func(c *Context) { c.clock = now } }

// NewContext validates and assembles a context. The heap should use the
// resolver as its layout so objects get the fields of their classes.
func NewContext(resolver *ClassResolver, h *heap.Manager, opts ...Option) (*Context, error) {
	if resolver == nil {
		return nil, errors.New("vm: context requires a class resolver")
	}
	if h == nil {
		return nil, errors.New("vm: context requires a heap")
	}
	c := &Context{
		resolver:        resolver,
		heap:            h,
		mode:            ModeRecursive,
		maxCallDepth:    DefaultMaxCallDepth,
		maxInstructions: DefaultMaxInstructions,
		maxHeapSlots:    DefaultMaxHeapSlots,
		clock:           time.Now,
		initialized:     make(map[string]bool),
		classObjects:    make(map[string]heap.Handle),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.natives == nil {
		c.natives = native.Defaults()
	}
	switch {
	case c.maxCallDepth <= 0:
		return nil, fmt.Errorf("vm: max call depth must be positive, got %d", c.maxCallDepth)
	case c.maxInstructions <= 0:
		return nil, fmt.Errorf("vm: max instructions must be positive, got %d", c.maxInstructions)
	case c.maxHeapSlots <= 0:
		return nil, fmt.Errorf("vm: max heap slots must be positive, got %d", c.maxHeapSlots)
	case c.mode != ModeRecursive && c.mode != ModeIterative:
		return nil, fmt.Errorf("vm: invalid mode %d", int(c.mode))
	case c.clock == nil:
		return nil, errors.New("vm: clock must not be nil")
	}
	h.SetLimit(c.maxHeapSlots)
	return c, nil
}

func (c *Context) Resolver() *ClassResolver  { return c.resolver }
func (c *Context) Heap() *heap.Manager       { return c.heap }
func (c *Context) Natives() *native.Registry { return c.natives }
func (c *Context) Mode() Mode                { return c.mode }
func (c *Context) MaxCallDepth() int         { return c.maxCallDepth }
func (c *Context) MaxInstructions() int64    { return c.maxInstructions }
func (c *Context) MaxHeapSlots() int64       { return c.maxHeapSlots }
func (c *Context) Tracing() bool             { return c.trace }

// IsInitialized reports whether class has been initialized in this context.
func (c *Context) IsInitialized(class string) bool { return c.initialized[class] }

// InitializedClasses returns how many classes this context initialized.
func (c *Context) InitializedClasses() int { return len(c.initialized) }
