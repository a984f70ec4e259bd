package asm

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/daimatz/jvmexec/pkg/bytecode"
	"github.com/daimatz/jvmexec/pkg/classfile"
)

// Label marks a code position; it may be referenced before it is placed.
type Label struct {
	pc     int
	placed bool
}

type fixup struct {
	label *Label
	at    int // where the offset is written
	from  int // pc of the branching instruction
	wide  bool
}

type tryBlock struct {
	start, end, handler *Label
	catchType           string
}

// Method assembles one method body.
type Method struct {
	class     *Class
	flags     uint16
	name      string
	desc      string
	code      []byte
	fixups    []fixup
	tries     []tryBlock
	maxStack  int
	maxLocals int
	localsSet bool
}

// MaxStack overrides the operand stack size (default 16).
func (m *Method) MaxStack(n int) *Method {
	m.maxStack = n
	return m
}

// MaxLocals overrides the local variable count (default: parameter slots
// plus 16 scratch slots).
func (m *Method) MaxLocals(n int) *Method {
	m.maxLocals = n
	m.localsSet = true
	return m
}

// PC returns the offset the next instruction will be written at.
func (m *Method) PC() int { return len(m.code) }

func (m *Method) u16(v uint16) { m.code = binary.BigEndian.AppendUint16(m.code, v) }
func (m *Method) u32(v uint32) { m.code = binary.BigEndian.AppendUint32(m.code, v) }

// Op emits raw opcodes with no operands.
func (m *Method) Op(ops ...byte) *Method {
	m.code = append(m.code, ops...)
	return m
}

// Raw appends bytes verbatim.
func (m *Method) Raw(b ...byte) *Method { return m.Op(b...) }

// Int pushes an int constant with the shortest encoding.
func (m *Method) Int(v int32) *Method {
	switch {
	case v >= -1 && v <= 5:
		m.code = append(m.code, byte(bytecode.OpIconst0+v))
	case v >= -128 && v <= 127:
		m.code = append(m.code, bytecode.OpBipush, byte(int8(v)))
	case v >= -32768 && v <= 32767:
		m.code = append(m.code, bytecode.OpSipush)
		m.u16(uint16(int16(v)))
	default:
		m.ldc(m.class.Pool.Integer(v))
	}
	return m
}

// Long pushes a long constant.
func (m *Method) Long(v int64) *Method {
	if v == 0 || v == 1 {
		return m.Op(byte(bytecode.OpLconst0 + v))
	}
	m.code = append(m.code, bytecode.OpLdc2W)
	m.u16(m.class.Pool.Long(v))
	return m
}

// Float pushes a float constant.
func (m *Method) Float(v float32) *Method {
	m.ldc(m.class.Pool.Float(v))
	return m
}

// Double pushes a double constant.
func (m *Method) Double(v float64) *Method {
	m.code = append(m.code, bytecode.OpLdc2W)
	m.u16(m.class.Pool.Double(v))
	return m
}

// String pushes a string literal.
func (m *Method) String(s string) *Method {
	m.ldc(m.class.Pool.String(s))
	return m
}

// ClassLiteral pushes a java/lang/Class constant.
func (m *Method) ClassLiteral(name string) *Method {
	m.ldc(m.class.Pool.Class(name))
	return m
}

func (m *Method) ldc(idx uint16) {
	if idx < 256 {
		m.code = append(m.code, bytecode.OpLdc, byte(idx))
		return
	}
	m.code = append(m.code, bytecode.OpLdcW)
	m.u16(idx)
}

// Var emits a load or store with an explicit local index, using wide
// when the index does not fit a byte.
func (m *Method) Var(op byte, index int) *Method {
	if index > 255 {
		m.code = append(m.code, bytecode.OpWide, op)
		m.u16(uint16(index))
		return m
	}
	m.code = append(m.code, op, byte(index))
	return m
}

// Iinc increments a local int.
func (m *Method) Iinc(index int, delta int) *Method {
	if index > 255 || delta < -128 || delta > 127 {
		m.code = append(m.code, bytecode.OpWide, bytecode.OpIinc)
		m.u16(uint16(index))
		m.u16(uint16(int16(delta)))
		return m
	}
	m.code = append(m.code, bytecode.OpIinc, byte(index), byte(int8(delta)))
	return m
}

// Field emits getstatic, putstatic, getfield or putfield.
func (m *Method) Field(op byte, owner, name, desc string) *Method {
	m.code = append(m.code, op)
	m.u16(m.class.Pool.Fieldref(owner, name, desc))
	return m
}

// Invoke emits an invoke instruction. invokeinterface gets its count operand.
func (m *Method) Invoke(op byte, owner, name, desc string) *Method {
	m.code = append(m.code, op)
	if op == bytecode.OpInvokeinterface {
		m.u16(m.class.Pool.InterfaceMethodref(owner, name, desc))
		count := 1
		if md, err := classfile.ParseMethodDescriptor(desc); err == nil {
			count += md.ArgSlots()
		}
		m.code = append(m.code, byte(count), 0)
		return m
	}
	m.u16(m.class.Pool.Methodref(owner, name, desc))
	return m
}

// InvokeDynamic emits invokedynamic for a bootstrap registered on the class.
func (m *Method) InvokeDynamic(bootstrap uint16, name, desc string) *Method {
	m.code = append(m.code, bytecode.OpInvokedynamic)
	m.u16(m.class.Pool.InvokeDynamic(bootstrap, name, desc))
	m.code = append(m.code, 0, 0)
	return m
}

// Type emits new, anewarray, checkcast or instanceof.
func (m *Method) Type(op byte, name string) *Method {
	m.code = append(m.code, op)
	m.u16(m.class.Pool.Class(name))
	return m
}

// NewArray emits newarray with a primitive array type code (4=boolean ... 11=long).
func (m *Method) NewArray(atype byte) *Method {
	return m.Op(bytecode.OpNewarray, atype)
}

// MultiANewArray emits multianewarray for an array descriptor.
func (m *Method) MultiANewArray(desc string, dims int) *Method {
	m.code = append(m.code, bytecode.OpMultianewarray)
	m.u16(m.class.Pool.Class(desc))
	m.code = append(m.code, byte(dims))
	return m
}

// NewLabel returns an unplaced label.
func (m *Method) NewLabel() *Label { return &Label{} }

// Mark places a label at the current position.
func (m *Method) Mark(l *Label) *Method {
	l.pc = len(m.code)
	l.placed = true
	return m
}

// Jump emits a branch with a 16-bit offset (or 32-bit for goto_w).
func (m *Method) Jump(op byte, l *Label) *Method {
	from := len(m.code)
	m.code = append(m.code, op)
	wide := op == bytecode.OpGotoW
	m.fixups = append(m.fixups, fixup{label: l, at: len(m.code), from: from, wide: wide})
	if wide {
		m.u32(0)
	} else {
		m.u16(0)
	}
	return m
}

func (m *Method) switchHeader(op byte, dflt *Label) int {
	from := len(m.code)
	m.code = append(m.code, op)
	for i := 0; i < bytecode.SwitchPad(from); i++ {
		m.code = append(m.code, 0)
	}
	m.fixups = append(m.fixups, fixup{label: dflt, at: len(m.code), from: from, wide: true})
	m.u32(0)
	return from
}

// TableSwitch emits a tableswitch whose cases start at low.
func (m *Method) TableSwitch(low int32, dflt *Label, targets ...*Label) *Method {
	from := m.switchHeader(bytecode.OpTableswitch, dflt)
	m.u32(uint32(low))
	m.u32(uint32(low + int32(len(targets)) - 1))
	for _, t := range targets {
		m.fixups = append(m.fixups, fixup{label: t, at: len(m.code), from: from, wide: true})
		m.u32(0)
	}
	return m
}

// LookupSwitch emits a lookupswitch; keys are sorted as the format requires.
func (m *Method) LookupSwitch(dflt *Label, cases map[int32]*Label) *Method {
	from := m.switchHeader(bytecode.OpLookupswitch, dflt)
	keys := make([]int32, 0, len(cases))
	for k := range cases {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	m.u32(uint32(len(keys)))
	for _, k := range keys {
		m.u32(uint32(k))
		m.fixups = append(m.fixups, fixup{label: cases[k], at: len(m.code), from: from, wide: true})
		m.u32(0)
	}
	return m
}

// Try adds an exception table entry; catchType "" catches everything.
func (m *Method) Try(start, end, handler *Label, catchType string) *Method {
	m.tries = append(m.tries, tryBlock{start: start, end: end, handler: handler, catchType: catchType})
	return m
}

func (m *Method) build() (classfile.MethodInfo, error) {
	pool := m.class.Pool
	info := classfile.MethodInfo{
		AccessFlags:     m.flags,
		NameIndex:       pool.Utf8(m.name),
		DescriptorIndex: pool.Utf8(m.desc),
		Name:            m.name,
		Descriptor:      m.desc,
	}
	if m.flags&(classfile.AccNative|classfile.AccAbstract) != 0 {
		return info, nil
	}
	for _, f := range m.fixups {
		if !f.label.placed {
			return info, fmt.Errorf("branch at pc %d targets an unplaced label", f.from)
		}
		off := f.label.pc - f.from
		if f.wide {
			binary.BigEndian.PutUint32(m.code[f.at:], uint32(int32(off)))
			continue
		}
		if off < -32768 || off > 32767 {
			return info, fmt.Errorf("branch at pc %d out of 16-bit range", f.from)
		}
		binary.BigEndian.PutUint16(m.code[f.at:], uint16(int16(off)))
	}
	locals := m.maxLocals
	if !m.localsSet {
		locals += 16
	}
	code := &classfile.CodeAttribute{
		MaxStack:  uint16(m.maxStack),
		MaxLocals: uint16(locals),
		Code:      append([]byte(nil), m.code...),
	}
	for _, t := range m.tries {
		if !t.start.placed || !t.end.placed || !t.handler.placed {
			return info, fmt.Errorf("exception table entry uses an unplaced label")
		}
		var catch uint16
		if t.catchType != "" {
			catch = pool.Class(t.catchType)
		}
		code.ExceptionHandlers = append(code.ExceptionHandlers, classfile.ExceptionHandler{
			StartPC:   uint16(t.start.pc),
			EndPC:     uint16(t.end.pc),
			HandlerPC: uint16(t.handler.pc),
			CatchType: catch,
		})
	}
	info.Code = code
	info.Attributes = []classfile.AttributeInfo{{NameIndex: pool.Utf8("Code"), Name: "Code"}}
	return info, nil
}
