// Package asm assembles class files in memory. It backs the built-in
// runtime classes and lets tests describe bytecode with labels instead of
// hand-computed offsets.
package asm

import (
	"fmt"
	"math"
	"unicode/utf16"

	"github.com/daimatz/jvmexec/pkg/classfile"
)

// Pool builds a constant pool, reusing entries that are already present.
type Pool struct {
	entries []classfile.ConstantPoolEntry
	index   map[string]uint16
}

// NewPool returns an empty pool; slot 0 is reserved.
func NewPool() *Pool {
	return &Pool{entries: []classfile.ConstantPoolEntry{nil}, index: map[string]uint16{}}
}

// Entries returns the pool in class-file layout.
func (p *Pool) Entries() []classfile.ConstantPoolEntry { return p.entries }

func (p *Pool) add(key string, e classfile.ConstantPoolEntry, wide bool) uint16 {
	if idx, ok := p.index[key]; ok {
		return idx
	}
	if len(p.entries) >= math.MaxUint16-1 {
		panic(fmt.Sprintf("asm: constant pool overflow adding %s", key))
	}
	idx := uint16(len(p.entries))
	p.entries = append(p.entries, e)
	if wide {
		p.entries = append(p.entries, nil)
	}
	p.index[key] = idx
	return idx
}

// Utf8 adds raw modified UTF-8 text.
func (p *Pool) Utf8(s string) uint16 {
	return p.add("U"+s, &classfile.ConstantUtf8{Value: s}, false)
}

func (p *Pool) Class(name string) uint16 {
	n := p.Utf8(name)
	return p.add("C"+name, &classfile.ConstantClass{NameIndex: n}, false)
}

// String adds a CONSTANT_String for a Go string.
func (p *Pool) String(s string) uint16 {
	n := p.Utf8(classfile.EncodeModifiedUTF8(utf16.Encode([]rune(s))))
	return p.add(fmt.Sprintf("S%d", n), &classfile.ConstantString{StringIndex: n}, false)
}

func (p *Pool) Integer(v int32) uint16 {
	return p.add(fmt.Sprintf("I%d", v), &classfile.ConstantInteger{Value: v}, false)
}

func (p *Pool) Float(v float32) uint16 {
	return p.add(fmt.Sprintf("F%x", math.Float32bits(v)), &classfile.ConstantFloat{Value: v}, false)
}

func (p *Pool) Long(v int64) uint16 {
	return p.add(fmt.Sprintf("J%d", v), &classfile.ConstantLong{Value: v}, true)
}

func (p *Pool) Double(v float64) uint16 {
	return p.add(fmt.Sprintf("D%x", math.Float64bits(v)), &classfile.ConstantDouble{Value: v}, true)
}

func (p *Pool) NameAndType(name, desc string) uint16 {
	n, d := p.Utf8(name), p.Utf8(desc)
	return p.add("N"+name+":"+desc, &classfile.ConstantNameAndType{NameIndex: n, DescriptorIndex: d}, false)
}

func (p *Pool) Fieldref(owner, name, desc string) uint16 {
	c, nt := p.Class(owner), p.NameAndType(name, desc)
	return p.add("f"+owner+"."+name+":"+desc, &classfile.ConstantFieldref{ClassIndex: c, NameAndTypeIndex: nt}, false)
}

func (p *Pool) Methodref(owner, name, desc string) uint16 {
	c, nt := p.Class(owner), p.NameAndType(name, desc)
	return p.add("m"+owner+"."+name+desc, &classfile.ConstantMethodref{ClassIndex: c, NameAndTypeIndex: nt}, false)
}

func (p *Pool) InterfaceMethodref(owner, name, desc string) uint16 {
	c, nt := p.Class(owner), p.NameAndType(name, desc)
	return p.add("i"+owner+"."+name+desc, &classfile.ConstantInterfaceMethodref{ClassIndex: c, NameAndTypeIndex: nt}, false)
}

// MethodHandle adds a handle of the given reference kind to a method.
func (p *Pool) MethodHandle(kind uint8, owner, name, desc string) uint16 {
	ref := p.Methodref(owner, name, desc)
	return p.add(fmt.Sprintf("H%d:%d", kind, ref), &classfile.ConstantMethodHandle{ReferenceKind: kind, ReferenceIndex: ref}, false)
}

func (p *Pool) InvokeDynamic(bootstrap uint16, name, desc string) uint16 {
	nt := p.NameAndType(name, desc)
	return p.add(fmt.Sprintf("Y%d:%d", bootstrap, nt), &classfile.ConstantDynamic{
		Kind:                     classfile.TagInvokeDynamic,
		BootstrapMethodAttrIndex: bootstrap,
		NameAndTypeIndex:         nt,
	}, false)
}
