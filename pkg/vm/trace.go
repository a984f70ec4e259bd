package vm

import (
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Call is one method invocation in a trace.
type Call struct {
	Depth       int      `cbor:"1,keyasint"`
	Owner       string   `cbor:"2,keyasint"`
	Name        string   `cbor:"3,keyasint"`
	Desc        string   `cbor:"4,keyasint"`
	Args        []string `cbor:"5,keyasint,omitempty"`
	Return      string   `cbor:"6,keyasint,omitempty"`
	Exceptional bool     `cbor:"7,keyasint,omitempty"`
	Native      bool     `cbor:"8,keyasint,omitempty"`
	// Start is the offset from the beginning of the run.
	Start    time.Duration `cbor:"9,keyasint"`
	Duration time.Duration `cbor:"10,keyasint"`
	Children []*Call       `cbor:"11,keyasint,omitempty"`
}

// Signature returns owner.name+desc with dotted class names.
func (c *Call) Signature() string {
	return strings.ReplaceAll(c.Owner, "/", ".") + "." + c.Name + c.Desc
}

func (c *Call) String() string {
	var b strings.Builder
	b.WriteString(c.Signature())
	b.WriteByte('(')
	b.WriteString(strings.Join(c.Args, ", "))
	b.WriteByte(')')
	switch {
	case c.Exceptional:
		b.WriteString(" threw")
	case c.Return != "":
		b.WriteString(" -> ")
		b.WriteString(c.Return)
	}
	if c.Native {
		b.WriteString(" [native]")
	}
	return b.String()
}

// Trace is the call tree of one run.
type Trace struct {
	Roots []*Call `cbor:"1,keyasint"`
}

// Calls returns every call in pre-order.
func (t *Trace) Calls() []*Call {
	var out []*Call
	var walk func(cs []*Call)
	walk = func(cs []*Call) {
		for _, c := range cs {
			out = append(out, c)
			walk(c.Children)
		}
	}
	walk(t.Roots)
	return out
}

// MaxDepth returns the deepest call depth recorded.
func (t *Trace) MaxDepth() int {
	deepest := 0
	for _, c := range t.Calls() {
		if c.Depth > deepest {
			deepest = c.Depth
		}
	}
	return deepest
}

// Tree renders the trace as an indented tree.
func (t *Trace) Tree() string {
	var b strings.Builder
	for _, c := range t.Calls() {
		b.WriteString(strings.Repeat("  ", c.Depth-1))
		b.WriteString(c.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// Summary counts calls, native calls and exceptional exits.
func (t *Trace) Summary() string {
	calls := t.Calls()
	natives, thrown := 0, 0
	for _, c := range calls {
		if c.Native {
			natives++
		}
		if c.Exceptional {
			thrown++
		}
	}
	return fmt.Sprintf("%d calls (%d native, %d exceptional), max depth %d", len(calls), natives, thrown, t.MaxDepth())
}

var traceEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	traceEncMode = em
}

// MarshalBinary serializes the trace as canonical CBOR.
func (t *Trace) MarshalBinary() ([]byte, error) {
	type plain Trace
	return traceEncMode.Marshal((*plain)(t))
}

// UnmarshalTrace decodes a trace produced by MarshalBinary.
func UnmarshalTrace(data []byte) (*Trace, error) {
	var t Trace
	if err := cbor.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("vm: unmarshal trace: %w", err)
	}
	return &t, nil
}

// recorder builds a Trace while the engine runs.
type recorder struct {
	trace Trace
	open  []*Call
	clock func() time.Time
	base  time.Time
}

func newRecorder(clock func() time.Time) *recorder {
	return &recorder{clock: clock, base: clock()}
}

func (r *recorder) now() time.Duration { return r.clock().Sub(r.base) }

func (r *recorder) attach(c *Call) {
	if n := len(r.open); n > 0 {
		parent := r.open[n-1]
		parent.Children = append(parent.Children, c)
		return
	}
	r.trace.Roots = append(r.trace.Roots, c)
}

// begin opens a call record.
func (r *recorder) begin(c *Call) {
	c.Start = r.now()
	r.attach(c)
	r.open = append(r.open, c)
}

// end closes the innermost open record.
func (r *recorder) end(ret string, exceptional bool) {
	n := len(r.open)
	if n == 0 {
		return
	}
	c := r.open[n-1]
	r.open = r.open[:n-1]
	c.Duration = r.now() - c.Start
	c.Return = ret
	c.Exceptional = exceptional
}

// leaf records a call that has no children, such as a native.
func (r *recorder) leaf(c *Call, start time.Duration) {
	c.Start = start
	c.Duration = r.now() - start
	r.attach(c)
}
