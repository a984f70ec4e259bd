package deobf

import (
	"fmt"
	"math"
	"unicode/utf16"

	"github.com/pkg/errors"

	"github.com/daimatz/jvmexec/pkg/classfile"
)

// ErrNotString is returned when a patch targets anything but a
// CONSTANT_String backed by a CONSTANT_Utf8.
var ErrNotString = errors.New("not a string constant")

// PatchString replaces the text of the CONSTANT_String at cpIndex. The
// String entry is repointed to a Utf8 holding value, reusing an identical
// Utf8 when the pool has one; the old Utf8 stays in place since names,
// descriptors and attributes may share it.
func PatchString(cf *classfile.ClassFile, cpIndex uint16, value string) error {
	s, err := stringEntry(cf, cpIndex)
	if err != nil {
		return err
	}
	encoded := classfile.EncodeModifiedUTF8(utf16.Encode([]rune(value)))
	if len(encoded) > math.MaxUint16 {
		return fmt.Errorf("patch %d: encoded string is %d bytes, limit %d", cpIndex, len(encoded), math.MaxUint16)
	}
	for i, e := range cf.ConstantPool {
		if u, ok := e.(*classfile.ConstantUtf8); ok && u.Value == encoded {
			s.StringIndex = uint16(i)
			return nil
		}
	}
	if len(cf.ConstantPool) >= math.MaxUint16 {
		return fmt.Errorf("patch %d: constant pool is full", cpIndex)
	}
	cf.ConstantPool = append(cf.ConstantPool, &classfile.ConstantUtf8{Value: encoded})
	s.StringIndex = uint16(len(cf.ConstantPool) - 1)
	return nil
}

func stringEntry(cf *classfile.ClassFile, cpIndex uint16) (*classfile.ConstantString, error) {
	if int(cpIndex) <= 0 || int(cpIndex) >= len(cf.ConstantPool) {
		return nil, fmt.Errorf("patch %d: %w: index out of range", cpIndex, ErrNotString)
	}
	s, ok := cf.ConstantPool[cpIndex].(*classfile.ConstantString)
	if !ok {
		return nil, fmt.Errorf("patch %d: %w", cpIndex, ErrNotString)
	}
	if _, err := classfile.GetUtf8(cf.ConstantPool, s.StringIndex); err != nil {
		return nil, fmt.Errorf("patch %d: %w: %v", cpIndex, ErrNotString, err)
	}
	return s, nil
}

// ApplyResults patches every successful, not yet applied result that
// belongs to cf and marks it applied. It returns the number of patches, so
// applying the same results again returns 0.
func ApplyResults(cf *classfile.ClassFile, results []*Result) (int, error) {
	class, err := cf.ClassName()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range results {
		if !r.Success || r.Applied || r.Class != class {
			continue
		}
		if err := PatchString(cf, r.CPIndex, r.Decrypted); err != nil {
			return n, errors.Wrapf(err, "applying %s", r.Location())
		}
		r.Applied = true
		n++
	}
	return n, nil
}

// StringMapping returns the text of every CONSTANT_String by pool index.
func StringMapping(cf *classfile.ClassFile) map[uint16]string {
	m := make(map[uint16]string)
	for i, e := range cf.ConstantPool {
		if _, ok := e.(*classfile.ConstantString); !ok {
			continue
		}
		if units, err := classfile.GetString(cf.ConstantPool, uint16(i)); err == nil {
			m[uint16(i)] = string(utf16.Decode(units))
		}
	}
	return m
}

// StringLocation ties a CONSTANT_String to the Utf8 behind it.
type StringLocation struct {
	StringIndex uint16
	Utf8Index   uint16
	Value       string
}

// FindStringLocations returns the String constants whose text is value, in
// pool order.
func FindStringLocations(cf *classfile.ClassFile, value string) []StringLocation {
	var out []StringLocation
	for i, e := range cf.ConstantPool {
		s, ok := e.(*classfile.ConstantString)
		if !ok {
			continue
		}
		units, err := classfile.GetString(cf.ConstantPool, uint16(i))
		if err != nil {
			continue
		}
		if text := string(utf16.Decode(units)); text == value {
			out = append(out, StringLocation{StringIndex: uint16(i), Utf8Index: s.StringIndex, Value: text})
		}
	}
	return out
}
