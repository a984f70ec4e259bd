package vm

import (
	"fmt"
	"strings"

	"github.com/daimatz/jvmexec/pkg/classfile"
	"github.com/daimatz/jvmexec/pkg/heap"
)

// Frame is the activation record of one interpreted method.
type Frame struct {
	Method *Method
	Class  *classfile.ClassFile
	Locals []heap.Value
	// Stack holds one entry per value; a long or double takes one entry.
	Stack []heap.Value
	SP    int
	Code  []byte
	PC    int
	Depth int

	start int  // pc of the instruction being executed
	retry bool // the instruction is re-run after a class initializer
	void  bool
}

// NewFrame creates a frame for m at depth. m must have code.
func NewFrame(m *Method, depth int) *Frame {
	code := m.Info.Code
	return &Frame{
		Method: m,
		Class:  m.File,
		Locals: make([]heap.Value, code.MaxLocals),
		Stack:  make([]heap.Value, code.MaxStack),
		Code:   code.Code,
		Depth:  depth,
		void:   strings.HasSuffix(m.Desc, ")V"),
	}
}

// Push pushes a value onto the operand stack.
func (f *Frame) Push(v heap.Value) {
	if f.SP >= len(f.Stack) {
		panic(fmt.Sprintf("operand stack overflow: SP=%d, max=%d", f.SP, len(f.Stack)))
	}
	f.Stack[f.SP] = v
	f.SP++
}

// Pop pops a value from the operand stack.
func (f *Frame) Pop() heap.Value {
	if f.SP <= 0 {
		panic("operand stack underflow: SP=0")
	}
	f.SP--
	return f.Stack[f.SP]
}

// Peek returns the value n entries below the top without popping it.
func (f *Frame) Peek(n int) heap.Value {
	if n < 0 || n >= f.SP {
		panic(fmt.Sprintf("operand stack underflow: peek %d with SP=%d", n, f.SP))
	}
	return f.Stack[f.SP-1-n]
}

// GetLocal returns the value at the given local variable index.
func (f *Frame) GetLocal(index int) heap.Value {
	if index < 0 || index >= len(f.Locals) {
		panic(fmt.Sprintf("local variable index out of range: index=%d, max=%d", index, len(f.Locals)))
	}
	return f.Locals[index]
}

// SetLocal sets the value at the given local variable index. A long or
// double also claims the next slot.
func (f *Frame) SetLocal(index int, v heap.Value) {
	width := v.Category()
	if index < 0 || index+width > len(f.Locals) {
		panic(fmt.Sprintf("local variable index out of range: index=%d, max=%d", index, len(f.Locals)))
	}
	f.Locals[index] = v
	if width == 2 {
		f.Locals[index+1] = heap.Top
	}
}

// ReadU8 reads a uint8 operand and advances PC.
func (f *Frame) ReadU8() uint8 {
	val := f.Code[f.PC]
	f.PC++
	return val
}

// ReadI8 reads an int8 operand and advances PC.
func (f *Frame) ReadI8() int8 {
	val := int8(f.Code[f.PC])
	f.PC++
	return val
}

// ReadU16 reads a uint16 operand (big-endian) and advances PC by 2.
func (f *Frame) ReadU16() uint16 {
	val := uint16(f.Code[f.PC])<<8 | uint16(f.Code[f.PC+1])
	f.PC += 2
	return val
}

// ReadI16 reads an int16 operand (big-endian) and advances PC by 2.
func (f *Frame) ReadI16() int16 {
	return int16(f.ReadU16())
}

// ReadI32 reads an int32 operand (big-endian) and advances PC by 4.
func (f *Frame) ReadI32() int32 {
	hi := uint32(f.ReadU16())
	lo := uint32(f.ReadU16())
	return int32(hi<<16 | lo)
}

// setArgs stores the receiver and arguments into the leading locals.
func (f *Frame) setArgs(args []heap.Value) {
	slot := 0
	for _, a := range args {
		f.SetLocal(slot, a)
		slot += a.Category()
	}
}
