package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Bytes serializes the class file.
func (cf *ClassFile) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := cf.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write serializes the class file in the layout Parse reads. Code attributes
// are re-encoded from MethodInfo.Code so edits to the bytecode or exception
// table are picked up; every other attribute is written back verbatim.
func (cf *ClassFile) Write(w io.Writer) error {
	cw := &classWriter{w: w}
	cw.u32(classMagic)
	cw.u16(cf.MinorVersion)
	cw.u16(cf.MajorVersion)
	if err := cw.constantPool(cf.ConstantPool); err != nil {
		return err
	}
	cw.u16(cf.AccessFlags)
	cw.u16(cf.ThisClass)
	cw.u16(cf.SuperClass)
	cw.u16(uint16(len(cf.Interfaces)))
	for _, idx := range cf.Interfaces {
		cw.u16(idx)
	}

	cw.u16(uint16(len(cf.Fields)))
	for i := range cf.Fields {
		f := &cf.Fields[i]
		cw.u16(f.AccessFlags)
		cw.u16(f.NameIndex)
		cw.u16(f.DescriptorIndex)
		cw.attributes(f.Attributes)
	}

	cw.u16(uint16(len(cf.Methods)))
	for i := range cf.Methods {
		m := &cf.Methods[i]
		cw.u16(m.AccessFlags)
		cw.u16(m.NameIndex)
		cw.u16(m.DescriptorIndex)
		attrs := m.Attributes
		if m.Code != nil {
			attrs = make([]AttributeInfo, len(m.Attributes))
			copy(attrs, m.Attributes)
			for j := range attrs {
				if attrs[j].Name == "Code" {
					attrs[j].Data = encodeCode(m.Code)
				}
			}
		}
		cw.attributes(attrs)
	}

	cw.attributes(cf.Attributes)
	return cw.err
}

type classWriter struct {
	w   io.Writer
	err error
}

func (cw *classWriter) write(v any) {
	if cw.err != nil {
		return
	}
	cw.err = binary.Write(cw.w, binary.BigEndian, v)
}

func (cw *classWriter) u8(v uint8)   { cw.write(v) }
func (cw *classWriter) u16(v uint16) { cw.write(v) }
func (cw *classWriter) u32(v uint32) { cw.write(v) }

func (cw *classWriter) bytes(b []byte) {
	if cw.err != nil {
		return
	}
	_, cw.err = cw.w.Write(b)
}

func (cw *classWriter) attributes(attrs []AttributeInfo) {
	cw.u16(uint16(len(attrs)))
	for _, a := range attrs {
		cw.u16(a.NameIndex)
		cw.u32(uint32(len(a.Data)))
		cw.bytes(a.Data)
	}
}

func (cw *classWriter) constantPool(pool []ConstantPoolEntry) error {
	if len(pool) == 0 {
		cw.u16(1)
		return nil
	}
	cw.u16(uint16(len(pool)))
	for i := 1; i < len(pool); i++ {
		e := pool[i]
		if e == nil {
			return fmt.Errorf("constant pool index %d is empty", i)
		}
		cw.u8(e.Tag())
		switch c := e.(type) {
		case *ConstantUtf8:
			if len(c.Value) > math.MaxUint16 {
				return fmt.Errorf("Utf8 at index %d exceeds 65535 bytes", i)
			}
			cw.u16(uint16(len(c.Value)))
			cw.bytes([]byte(c.Value))
		case *ConstantInteger:
			cw.write(c.Value)
		case *ConstantFloat:
			cw.u32(math.Float32bits(c.Value))
		case *ConstantLong:
			cw.write(c.Value)
			i++
		case *ConstantDouble:
			cw.write(math.Float64bits(c.Value))
			i++
		case *ConstantClass:
			cw.u16(c.NameIndex)
		case *ConstantString:
			cw.u16(c.StringIndex)
		case *ConstantMethodType:
			cw.u16(c.DescriptorIndex)
		case *ConstantModule:
			cw.u16(c.NameIndex)
		case *ConstantFieldref:
			cw.u16(c.ClassIndex)
			cw.u16(c.NameAndTypeIndex)
		case *ConstantMethodref:
			cw.u16(c.ClassIndex)
			cw.u16(c.NameAndTypeIndex)
		case *ConstantInterfaceMethodref:
			cw.u16(c.ClassIndex)
			cw.u16(c.NameAndTypeIndex)
		case *ConstantNameAndType:
			cw.u16(c.NameIndex)
			cw.u16(c.DescriptorIndex)
		case *ConstantDynamic:
			cw.u16(c.BootstrapMethodAttrIndex)
			cw.u16(c.NameAndTypeIndex)
		case *ConstantMethodHandle:
			cw.u8(c.ReferenceKind)
			cw.u16(c.ReferenceIndex)
		default:
			return fmt.Errorf("unsupported constant pool entry %T at index %d", e, i)
		}
	}
	return nil
}

func encodeCode(c *CodeAttribute) []byte {
	var buf bytes.Buffer
	cw := &classWriter{w: &buf}
	cw.u16(c.MaxStack)
	cw.u16(c.MaxLocals)
	cw.u32(uint32(len(c.Code)))
	cw.bytes(c.Code)
	cw.u16(uint16(len(c.ExceptionHandlers)))
	for _, h := range c.ExceptionHandlers {
		cw.u16(h.StartPC)
		cw.u16(h.EndPC)
		cw.u16(h.HandlerPC)
		cw.u16(h.CatchType)
	}
	cw.attributes(c.Attributes)
	return buf.Bytes()
}
