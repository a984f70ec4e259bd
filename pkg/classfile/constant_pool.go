package classfile

import (
	"fmt"
	"math"
)

// Constant pool tags
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
	TagModule             = 19
	TagPackage            = 20
)

// constantPool reads the pool count and its entries. The returned slice is
// indexed like the class file: slot 0 is nil, as is the slot after each
// Long or Double.
func (cr *classReader) constantPool() ([]ConstantPoolEntry, error) {
	count := cr.u16()
	if cr.err != nil {
		return nil, cr.err
	}
	pool := make([]ConstantPoolEntry, count)
	for i := 1; i < len(pool); i++ {
		tag := cr.u8()
		switch tag {
		case TagUtf8:
			pool[i] = &ConstantUtf8{Value: string(cr.take(int(cr.u16())))}
		case TagInteger:
			pool[i] = &ConstantInteger{Value: int32(cr.u32())}
		case TagFloat:
			pool[i] = &ConstantFloat{Value: math.Float32frombits(cr.u32())}
		case TagLong:
			pool[i] = &ConstantLong{Value: int64(cr.u64())}
			i++
		case TagDouble:
			pool[i] = &ConstantDouble{Value: math.Float64frombits(cr.u64())}
			i++
		case TagClass:
			pool[i] = &ConstantClass{NameIndex: cr.u16()}
		case TagString:
			pool[i] = &ConstantString{StringIndex: cr.u16()}
		case TagMethodType:
			pool[i] = &ConstantMethodType{DescriptorIndex: cr.u16()}
		case TagModule, TagPackage:
			pool[i] = &ConstantModule{Kind: tag, NameIndex: cr.u16()}
		case TagFieldref:
			pool[i] = &ConstantFieldref{ClassIndex: cr.u16(), NameAndTypeIndex: cr.u16()}
		case TagMethodref:
			pool[i] = &ConstantMethodref{ClassIndex: cr.u16(), NameAndTypeIndex: cr.u16()}
		case TagInterfaceMethodref:
			pool[i] = &ConstantInterfaceMethodref{ClassIndex: cr.u16(), NameAndTypeIndex: cr.u16()}
		case TagNameAndType:
			pool[i] = &ConstantNameAndType{NameIndex: cr.u16(), DescriptorIndex: cr.u16()}
		case TagDynamic, TagInvokeDynamic:
			pool[i] = &ConstantDynamic{Kind: tag, BootstrapMethodAttrIndex: cr.u16(), NameAndTypeIndex: cr.u16()}
		case TagMethodHandle:
			pool[i] = &ConstantMethodHandle{ReferenceKind: cr.u8(), ReferenceIndex: cr.u16()}
		default:
			if cr.err == nil {
				return nil, fmt.Errorf("unknown tag %d at index %d", tag, i)
			}
		}
		if cr.err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, cr.err)
		}
	}
	return pool, nil
}

func entryAt(pool []ConstantPoolEntry, index uint16) (ConstantPoolEntry, error) {
	if int(index) >= len(pool) || pool[index] == nil {
		return nil, fmt.Errorf("invalid constant pool index %d", index)
	}
	return pool[index], nil
}

// GetUtf8 returns the Utf8 string at the given constant pool index.
func GetUtf8(pool []ConstantPoolEntry, index uint16) (string, error) {
	e, err := entryAt(pool, index)
	if err != nil {
		return "", err
	}
	utf8, ok := e.(*ConstantUtf8)
	if !ok {
		return "", fmt.Errorf("constant pool index %d is not Utf8 (tag=%d)", index, e.Tag())
	}
	return utf8.Value, nil
}

// GetClassName returns the class name referenced by a CONSTANT_Class entry.
func GetClassName(pool []ConstantPoolEntry, classIndex uint16) (string, error) {
	e, err := entryAt(pool, classIndex)
	if err != nil {
		return "", err
	}
	class, ok := e.(*ConstantClass)
	if !ok {
		return "", fmt.Errorf("constant pool index %d is not Class", classIndex)
	}
	return GetUtf8(pool, class.NameIndex)
}

// GetString returns the text of a CONSTANT_String entry as UTF-16 code units.
func GetString(pool []ConstantPoolEntry, index uint16) ([]uint16, error) {
	e, err := entryAt(pool, index)
	if err != nil {
		return nil, err
	}
	s, ok := e.(*ConstantString)
	if !ok {
		return nil, fmt.Errorf("constant pool index %d is not String", index)
	}
	raw, err := GetUtf8(pool, s.StringIndex)
	if err != nil {
		return nil, fmt.Errorf("resolving String value: %w", err)
	}
	return DecodeModifiedUTF8(raw), nil
}

// GetNameAndType returns the name and descriptor of a CONSTANT_NameAndType entry.
func GetNameAndType(pool []ConstantPoolEntry, index uint16) (string, string, error) {
	e, err := entryAt(pool, index)
	if err != nil {
		return "", "", err
	}
	nat, ok := e.(*ConstantNameAndType)
	if !ok {
		return "", "", fmt.Errorf("constant pool index %d is not NameAndType", index)
	}
	name, err := GetUtf8(pool, nat.NameIndex)
	if err != nil {
		return "", "", fmt.Errorf("resolving name: %w", err)
	}
	desc, err := GetUtf8(pool, nat.DescriptorIndex)
	if err != nil {
		return "", "", fmt.Errorf("resolving descriptor: %w", err)
	}
	return name, desc, nil
}

// MethodRefInfo holds resolved method reference info.
type MethodRefInfo struct {
	ClassName  string
	MethodName string
	Descriptor string
	Interface  bool
}

// ResolveMethodref resolves a CONSTANT_Methodref or CONSTANT_InterfaceMethodref
// entry. invokestatic and invokespecial may name either kind.
func ResolveMethodref(pool []ConstantPoolEntry, index uint16) (*MethodRefInfo, error) {
	e, err := entryAt(pool, index)
	if err != nil {
		return nil, err
	}
	var classIndex, natIndex uint16
	iface := false
	switch ref := e.(type) {
	case *ConstantMethodref:
		classIndex, natIndex = ref.ClassIndex, ref.NameAndTypeIndex
	case *ConstantInterfaceMethodref:
		classIndex, natIndex = ref.ClassIndex, ref.NameAndTypeIndex
		iface = true
	default:
		return nil, fmt.Errorf("constant pool index %d is not Methodref", index)
	}

	className, err := GetClassName(pool, classIndex)
	if err != nil {
		return nil, fmt.Errorf("resolving Methodref class: %w", err)
	}
	name, desc, err := GetNameAndType(pool, natIndex)
	if err != nil {
		return nil, fmt.Errorf("resolving Methodref %s: %w", className, err)
	}
	return &MethodRefInfo{
		ClassName:  className,
		MethodName: name,
		Descriptor: desc,
		Interface:  iface,
	}, nil
}

// ResolveInterfaceMethodref resolves a CONSTANT_InterfaceMethodref entry.
func ResolveInterfaceMethodref(pool []ConstantPoolEntry, index uint16) (*MethodRefInfo, error) {
	e, err := entryAt(pool, index)
	if err != nil {
		return nil, err
	}
	if _, ok := e.(*ConstantInterfaceMethodref); !ok {
		return nil, fmt.Errorf("constant pool index %d is not InterfaceMethodref", index)
	}
	return ResolveMethodref(pool, index)
}

// FieldRefInfo holds resolved field reference info.
type FieldRefInfo struct {
	ClassName  string
	FieldName  string
	Descriptor string
}

// ResolveFieldref resolves a CONSTANT_Fieldref entry.
func ResolveFieldref(pool []ConstantPoolEntry, index uint16) (*FieldRefInfo, error) {
	e, err := entryAt(pool, index)
	if err != nil {
		return nil, err
	}
	fref, ok := e.(*ConstantFieldref)
	if !ok {
		return nil, fmt.Errorf("constant pool index %d is not Fieldref", index)
	}

	className, err := GetClassName(pool, fref.ClassIndex)
	if err != nil {
		return nil, fmt.Errorf("resolving Fieldref class: %w", err)
	}
	name, desc, err := GetNameAndType(pool, fref.NameAndTypeIndex)
	if err != nil {
		return nil, fmt.Errorf("resolving Fieldref %s: %w", className, err)
	}
	return &FieldRefInfo{
		ClassName:  className,
		FieldName:  name,
		Descriptor: desc,
	}, nil
}

// InvokeDynamicInfo holds a resolved CONSTANT_InvokeDynamic entry.
type InvokeDynamicInfo struct {
	Bootstrap  *BootstrapMethod
	Handle     *MethodRefInfo
	Name       string
	Descriptor string
}

// ResolveInvokeDynamic resolves a CONSTANT_InvokeDynamic entry together with
// its bootstrap method and the method handle the bootstrap points at.
func (cf *ClassFile) ResolveInvokeDynamic(index uint16) (*InvokeDynamicInfo, error) {
	e, err := entryAt(cf.ConstantPool, index)
	if err != nil {
		return nil, err
	}
	dyn, ok := e.(*ConstantDynamic)
	if !ok || dyn.Kind != TagInvokeDynamic {
		return nil, fmt.Errorf("constant pool index %d is not InvokeDynamic", index)
	}
	if int(dyn.BootstrapMethodAttrIndex) >= len(cf.BootstrapMethods) {
		return nil, fmt.Errorf("bootstrap method %d out of range", dyn.BootstrapMethodAttrIndex)
	}
	bsm := &cf.BootstrapMethods[dyn.BootstrapMethodAttrIndex]
	name, desc, err := GetNameAndType(cf.ConstantPool, dyn.NameAndTypeIndex)
	if err != nil {
		return nil, fmt.Errorf("resolving InvokeDynamic: %w", err)
	}
	he, err := entryAt(cf.ConstantPool, bsm.MethodRef)
	if err != nil {
		return nil, err
	}
	mh, ok := he.(*ConstantMethodHandle)
	if !ok {
		return nil, fmt.Errorf("constant pool index %d is not MethodHandle", bsm.MethodRef)
	}
	handle, err := ResolveMethodref(cf.ConstantPool, mh.ReferenceIndex)
	if err != nil {
		return nil, fmt.Errorf("resolving bootstrap handle: %w", err)
	}
	return &InvokeDynamicInfo{Bootstrap: bsm, Handle: handle, Name: name, Descriptor: desc}, nil
}
