package classfile

import "fmt"

// MethodDescriptor is a parsed method descriptor such as "(I[JLjava/lang/String;)V".
type MethodDescriptor struct {
	Params []string
	Return string
}

// ParseMethodDescriptor splits a method descriptor into its parameter and
// return field descriptors.
func ParseMethodDescriptor(desc string) (*MethodDescriptor, error) {
	if len(desc) < 3 || desc[0] != '(' {
		return nil, fmt.Errorf("invalid method descriptor %q", desc)
	}
	md := &MethodDescriptor{}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		end, err := fieldDescriptorEnd(desc, i)
		if err != nil {
			return nil, fmt.Errorf("invalid method descriptor %q: %w", desc, err)
		}
		md.Params = append(md.Params, desc[i:end])
		i = end
	}
	if i >= len(desc) {
		return nil, fmt.Errorf("invalid method descriptor %q: missing ')'", desc)
	}
	ret := desc[i+1:]
	if ret != "V" {
		end, err := fieldDescriptorEnd(ret, 0)
		if err != nil || end != len(ret) {
			return nil, fmt.Errorf("invalid method descriptor %q: bad return type", desc)
		}
	}
	md.Return = ret
	return md, nil
}

func fieldDescriptorEnd(desc string, i int) (int, error) {
	for i < len(desc) && desc[i] == '[' {
		i++
	}
	if i >= len(desc) {
		return 0, fmt.Errorf("truncated type at %d", i)
	}
	switch desc[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return i + 1, nil
	case 'L':
		for j := i + 1; j < len(desc); j++ {
			if desc[j] == ';' {
				return j + 1, nil
			}
		}
		return 0, fmt.Errorf("unterminated class type at %d", i)
	default:
		return 0, fmt.Errorf("unknown type %q at %d", desc[i], i)
	}
}

// IsWide reports whether a field descriptor names a category-2 type.
func IsWide(fieldDesc string) bool {
	return fieldDesc == "J" || fieldDesc == "D"
}

// ArgSlots returns the number of local variable slots the parameters occupy,
// not counting the receiver.
func (md *MethodDescriptor) ArgSlots() int {
	n := 0
	for _, p := range md.Params {
		n++
		if IsWide(p) {
			n++
		}
	}
	return n
}

// ClassNameOf returns the class or array name a reference descriptor
// refers to: "Ljava/lang/String;" becomes "java/lang/String" and array
// descriptors are returned unchanged.
func ClassNameOf(fieldDesc string) string {
	if len(fieldDesc) > 2 && fieldDesc[0] == 'L' && fieldDesc[len(fieldDesc)-1] == ';' {
		return fieldDesc[1 : len(fieldDesc)-1]
	}
	return fieldDesc
}
