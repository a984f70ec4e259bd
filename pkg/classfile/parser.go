package classfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const classMagic = 0xCAFEBABE

// ParseFile opens and parses a .class file from the given path.
func ParseFile(path string) (*ClassFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBytes(data)
}

// Parse reads a whole .class file from r.
func Parse(r io.Reader) (*ClassFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading class file: %w", err)
	}
	return ParseBytes(data)
}

// ParseBytes parses an in-memory .class file. Code and BootstrapMethods
// attributes are decoded; every attribute is also kept raw.
func ParseBytes(data []byte) (*ClassFile, error) {
	cr := &classReader{data: data}
	if magic := cr.u32(); cr.err == nil && magic != classMagic {
		return nil, fmt.Errorf("invalid magic number: 0x%X (expected 0xCAFEBABE)", magic)
	}
	cf := &ClassFile{
		MinorVersion: cr.u16(),
		MajorVersion: cr.u16(),
	}
	if cr.err != nil {
		return nil, fmt.Errorf("reading header: %w", cr.err)
	}

	pool, err := cr.constantPool()
	if err != nil {
		return nil, fmt.Errorf("parsing constant pool: %w", err)
	}
	cf.ConstantPool = pool

	cf.AccessFlags = cr.u16()
	cf.ThisClass = cr.u16()
	cf.SuperClass = cr.u16()
	cf.Interfaces = make([]uint16, cr.u16())
	for i := range cf.Interfaces {
		cf.Interfaces[i] = cr.u16()
	}
	if cr.err != nil {
		return nil, fmt.Errorf("reading class header: %w", cr.err)
	}

	cf.Fields = make([]FieldInfo, cr.u16())
	for i := range cf.Fields {
		f := &cf.Fields[i]
		if err := cr.member(pool, &f.AccessFlags, &f.NameIndex, &f.DescriptorIndex, &f.Name, &f.Descriptor, &f.Attributes); err != nil {
			return nil, fmt.Errorf("parsing field %d: %w", i, err)
		}
	}

	cf.Methods = make([]MethodInfo, cr.u16())
	for i := range cf.Methods {
		m := &cf.Methods[i]
		if err := cr.member(pool, &m.AccessFlags, &m.NameIndex, &m.DescriptorIndex, &m.Name, &m.Descriptor, &m.Attributes); err != nil {
			return nil, fmt.Errorf("parsing method %d: %w", i, err)
		}
		if a := findAttribute(m.Attributes, "Code"); a != nil {
			if m.Code, err = parseCode(a.Data, pool); err != nil {
				return nil, fmt.Errorf("parsing Code of %s%s: %w", m.Name, m.Descriptor, err)
			}
		}
	}

	if cf.Attributes, err = cr.attributes(pool); err != nil {
		return nil, fmt.Errorf("parsing class attributes: %w", err)
	}
	if a := findAttribute(cf.Attributes, "BootstrapMethods"); a != nil {
		if cf.BootstrapMethods, err = parseBootstrapMethods(a.Data); err != nil {
			return nil, fmt.Errorf("parsing BootstrapMethods: %w", err)
		}
	}
	return cf, nil
}

// classReader decodes big-endian items from a byte slice. The first
// short read sticks; later reads return zero values.
type classReader struct {
	data []byte
	off  int
	err  error
}

func (cr *classReader) take(n int) []byte {
	if cr.err != nil {
		return nil
	}
	if n > len(cr.data)-cr.off {
		cr.err = fmt.Errorf("need %d bytes at offset %d, have %d: %w", n, cr.off, len(cr.data)-cr.off, io.ErrUnexpectedEOF)
		return nil
	}
	b := cr.data[cr.off : cr.off+n]
	cr.off += n
	return b
}

func (cr *classReader) u8() uint8 {
	if b := cr.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (cr *classReader) u16() uint16 {
	if b := cr.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (cr *classReader) u32() uint32 {
	if b := cr.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (cr *classReader) u64() uint64 {
	if b := cr.take(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

// member reads the shared layout of field_info and method_info.
func (cr *classReader) member(pool []ConstantPoolEntry, flags, nameIdx, descIdx *uint16, name, desc *string, attrs *[]AttributeInfo) error {
	*flags = cr.u16()
	*nameIdx = cr.u16()
	*descIdx = cr.u16()
	if cr.err != nil {
		return cr.err
	}
	var err error
	if *name, err = GetUtf8(pool, *nameIdx); err != nil {
		return fmt.Errorf("name: %w", err)
	}
	if *desc, err = GetUtf8(pool, *descIdx); err != nil {
		return fmt.Errorf("descriptor: %w", err)
	}
	*attrs, err = cr.attributes(pool)
	return err
}

func (cr *classReader) attributes(pool []ConstantPoolEntry) ([]AttributeInfo, error) {
	attrs := make([]AttributeInfo, cr.u16())
	for i := range attrs {
		idx := cr.u16()
		data := cr.take(int(cr.u32()))
		if cr.err != nil {
			return nil, fmt.Errorf("attribute %d: %w", i, cr.err)
		}
		name, err := GetUtf8(pool, idx)
		if err != nil {
			return nil, fmt.Errorf("attribute %d name: %w", i, err)
		}
		attrs[i] = AttributeInfo{NameIndex: idx, Name: name, Data: append([]byte(nil), data...)}
	}
	return attrs, cr.err
}

func findAttribute(attrs []AttributeInfo, name string) *AttributeInfo {
	for i := range attrs {
		if attrs[i].Name == name {
			return &attrs[i]
		}
	}
	return nil
}

func parseCode(data []byte, pool []ConstantPoolEntry) (*CodeAttribute, error) {
	cr := &classReader{data: data}
	c := &CodeAttribute{
		MaxStack:  cr.u16(),
		MaxLocals: cr.u16(),
	}
	c.Code = append([]byte(nil), cr.take(int(cr.u32()))...)
	c.ExceptionHandlers = make([]ExceptionHandler, cr.u16())
	for i := range c.ExceptionHandlers {
		c.ExceptionHandlers[i] = ExceptionHandler{
			StartPC:   cr.u16(),
			EndPC:     cr.u16(),
			HandlerPC: cr.u16(),
			CatchType: cr.u16(),
		}
	}
	if cr.err != nil {
		return nil, cr.err
	}
	// Nested attributes are optional in hand-built classes.
	if cr.off == len(data) {
		return c, nil
	}
	var err error
	if c.Attributes, err = cr.attributes(pool); err != nil {
		return nil, err
	}
	return c, nil
}

func parseBootstrapMethods(data []byte) ([]BootstrapMethod, error) {
	cr := &classReader{data: data}
	methods := make([]BootstrapMethod, cr.u16())
	for i := range methods {
		methods[i].MethodRef = cr.u16()
		methods[i].BootstrapArguments = make([]uint16, cr.u16())
		for j := range methods[i].BootstrapArguments {
			methods[i].BootstrapArguments[j] = cr.u16()
		}
		if cr.err != nil {
			return nil, fmt.Errorf("method %d: %w", i, cr.err)
		}
	}
	return methods, cr.err
}

// ClassName returns the internal name of this class.
func (cf *ClassFile) ClassName() (string, error) {
	return GetClassName(cf.ConstantPool, cf.ThisClass)
}

// FindMethod finds a method by name and descriptor.
func (cf *ClassFile) FindMethod(name, descriptor string) *MethodInfo {
	for i := range cf.Methods {
		if cf.Methods[i].Name == name && cf.Methods[i].Descriptor == descriptor {
			return &cf.Methods[i]
		}
	}
	return nil
}

// FindField finds a field by name.
func (cf *ClassFile) FindField(name string) *FieldInfo {
	for i := range cf.Fields {
		if cf.Fields[i].Name == name {
			return &cf.Fields[i]
		}
	}
	return nil
}

// FindMethodByName returns the first method called name.
func (cf *ClassFile) FindMethodByName(name string) *MethodInfo {
	for i := range cf.Methods {
		if cf.Methods[i].Name == name {
			return &cf.Methods[i]
		}
	}
	return nil
}
