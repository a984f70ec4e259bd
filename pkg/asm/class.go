package asm

import (
	"encoding/binary"
	"fmt"

	"github.com/daimatz/jvmexec/pkg/classfile"
)

// RefInvokeStatic is the method handle kind used by bootstrap methods.
const RefInvokeStatic = 6

// Class assembles a single class file.
type Class struct {
	Pool       *Pool
	name       string
	super      string
	flags      uint16
	interfaces []string
	fields     []classfile.FieldInfo
	methods    []*Method
	bootstrap  []classfile.BootstrapMethod
	err        error
}

// NewClass starts a public class extending java/lang/Object.
func NewClass(name string) *Class {
	return &Class{
		Pool:  NewPool(),
		name:  name,
		super: "java/lang/Object",
		flags: classfile.AccPublic | classfile.AccSuper,
	}
}

// Name returns the internal name of the class being built.
func (c *Class) Name() string { return c.name }

// Extends sets the superclass; an empty name means no superclass.
func (c *Class) Extends(super string) *Class {
	c.super = super
	return c
}

// Implements appends directly implemented interfaces.
func (c *Class) Implements(names ...string) *Class {
	c.interfaces = append(c.interfaces, names...)
	return c
}

// Flags replaces the class access flags.
func (c *Class) Flags(flags uint16) *Class {
	c.flags = flags
	return c
}

// Field declares a field without attributes.
func (c *Class) Field(flags uint16, name, desc string) *Class {
	c.fields = append(c.fields, classfile.FieldInfo{
		AccessFlags:     flags,
		NameIndex:       c.Pool.Utf8(name),
		DescriptorIndex: c.Pool.Utf8(desc),
		Name:            name,
		Descriptor:      desc,
	})
	return c
}

// ConstantField declares a static final field with a ConstantValue
// attribute. value must be int32, int64, float32, float64 or string.
func (c *Class) ConstantField(name, desc string, value any) *Class {
	var idx uint16
	switch v := value.(type) {
	case int32:
		idx = c.Pool.Integer(v)
	case int64:
		idx = c.Pool.Long(v)
	case float32:
		idx = c.Pool.Float(v)
	case float64:
		idx = c.Pool.Double(v)
	case string:
		idx = c.Pool.String(v)
	default:
		c.fail(fmt.Errorf("asm: unsupported constant %T for field %s", value, name))
		return c
	}
	c.Field(classfile.AccPublic|classfile.AccStatic|classfile.AccFinal, name, desc)
	f := &c.fields[len(c.fields)-1]
	f.Attributes = []classfile.AttributeInfo{{
		NameIndex: c.Pool.Utf8("ConstantValue"),
		Name:      "ConstantValue",
		Data:      []byte{byte(idx >> 8), byte(idx)},
	}}
	return c
}

// Method starts a method body. Methods flagged native or abstract get no
// Code attribute.
func (c *Class) Method(flags uint16, name, desc string) *Method {
	m := &Method{class: c, flags: flags, name: name, desc: desc, maxStack: 16}
	if md, err := classfile.ParseMethodDescriptor(desc); err != nil {
		c.fail(err)
	} else {
		m.maxLocals = md.ArgSlots()
		if flags&classfile.AccStatic == 0 {
			m.maxLocals++
		}
	}
	c.methods = append(c.methods, m)
	return m
}

// Bootstrap registers a bootstrap method and returns its index.
func (c *Class) Bootstrap(owner, name, desc string, args ...uint16) uint16 {
	h := c.Pool.MethodHandle(RefInvokeStatic, owner, name, desc)
	c.bootstrap = append(c.bootstrap, classfile.BootstrapMethod{MethodRef: h, BootstrapArguments: args})
	return uint16(len(c.bootstrap) - 1)
}

func (c *Class) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Build resolves labels and returns the class file.
func (c *Class) Build() (*classfile.ClassFile, error) {
	if c.err != nil {
		return nil, c.err
	}
	cf := &classfile.ClassFile{
		MinorVersion: 0,
		MajorVersion: 52,
		AccessFlags:  c.flags,
		ThisClass:    c.Pool.Class(c.name),
		Fields:       c.fields,
	}
	if c.super != "" {
		cf.SuperClass = c.Pool.Class(c.super)
	}
	for _, name := range c.interfaces {
		cf.Interfaces = append(cf.Interfaces, c.Pool.Class(name))
	}
	for _, m := range c.methods {
		info, err := m.build()
		if err != nil {
			return nil, fmt.Errorf("asm: %s.%s%s: %w", c.name, m.name, m.desc, err)
		}
		cf.Methods = append(cf.Methods, info)
	}
	if len(c.bootstrap) > 0 {
		data := binary.BigEndian.AppendUint16(nil, uint16(len(c.bootstrap)))
		for _, b := range c.bootstrap {
			data = binary.BigEndian.AppendUint16(data, b.MethodRef)
			data = binary.BigEndian.AppendUint16(data, uint16(len(b.BootstrapArguments)))
			for _, a := range b.BootstrapArguments {
				data = binary.BigEndian.AppendUint16(data, a)
			}
		}
		cf.Attributes = append(cf.Attributes, classfile.AttributeInfo{
			NameIndex: c.Pool.Utf8("BootstrapMethods"),
			Name:      "BootstrapMethods",
			Data:      data,
		})
		cf.BootstrapMethods = c.bootstrap
	}
	cf.ConstantPool = c.Pool.Entries()
	return cf, nil
}

// MustBuild is Build for fixtures that are known to be well formed.
func (c *Class) MustBuild() *classfile.ClassFile {
	cf, err := c.Build()
	if err != nil {
		panic(err)
	}
	return cf
}

// Bytes builds and serializes the class.
func (c *Class) Bytes() ([]byte, error) {
	cf, err := c.Build()
	if err != nil {
		return nil, err
	}
	return cf.Bytes()
}
