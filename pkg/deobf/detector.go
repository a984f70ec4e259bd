// Package deobf finds string decryptors in obfuscated classes, runs them on
// the execution engine and patches the recovered plaintext back into the
// constant pool.
package deobf

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/daimatz/jvmexec/pkg/bytecode"
	"github.com/daimatz/jvmexec/pkg/classfile"
)

// DecryptorType is the calling convention of a decryptor.
type DecryptorType int

const (
	StringToString DecryptorType = iota
	IntToString
	BytesToString
	StringToBytes
	StringIntToString
)

var decryptorTypes = []struct {
	desc  string
	label string
	base  float64
}{
	StringToString:    {"(Ljava/lang/String;)Ljava/lang/String;", "String->String", 0.6},
	IntToString:       {"(I)Ljava/lang/String;", "int->String", 0.5},
	BytesToString:     {"([B)Ljava/lang/String;", "byte[]->String", 0.4},
	StringToBytes:     {"(Ljava/lang/String;)[B", "String->byte[]", 0.4},
	StringIntToString: {"(Ljava/lang/String;I)Ljava/lang/String;", "String,int->String", 0.55},
}

func (t DecryptorType) String() string {
	if int(t) < len(decryptorTypes) {
		return decryptorTypes[t].label
	}
	return fmt.Sprintf("DecryptorType(%d)", int(t))
}

// Descriptor returns the method descriptor of the convention.
func (t DecryptorType) Descriptor() string { return decryptorTypes[t].desc }

// TypeOf maps a method descriptor to its convention.
func TypeOf(desc string) (DecryptorType, bool) {
	for i, dt := range decryptorTypes {
		if dt.desc == desc {
			return DecryptorType(i), true
		}
	}
	return 0, false
}

// MinConfidence is the score below which methods are not reported.
const MinConfidence = 0.3

// Candidate is a static method that looks like a string decryptor.
type Candidate struct {
	Class      string
	Method     string
	Descriptor string
	Type       DecryptorType
	Confidence float64
	Indicators []string
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s.%s() [%s] (%d%% confidence)",
		simpleName(c.Class), c.Method, c.Descriptor, int(c.Confidence*100+0.5))
}

var suspiciousNameParts = []string{"decrypt", "decode", "deobfusc", "unscramble", "unhide", "reveal"}

// DetectDecryptors scores the static methods of cf and returns those at or
// above MinConfidence, most likely first.
func DetectDecryptors(cf *classfile.ClassFile) ([]Candidate, error) {
	class, err := cf.ClassName()
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for i := range cf.Methods {
		if c, ok := score(cf, class, &cf.Methods[i]); ok {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out, nil
}

func score(cf *classfile.ClassFile, class string, m *classfile.MethodInfo) (Candidate, bool) {
	if !m.IsStatic() || m.Name == "<init>" || m.Name == "<clinit>" {
		return Candidate{}, false
	}
	typ, ok := TypeOf(m.Descriptor)
	if !ok {
		return Candidate{}, false
	}
	c := Candidate{
		Class:      class,
		Method:     m.Name,
		Descriptor: m.Descriptor,
		Type:       typ,
		Confidence: decryptorTypes[typ].base,
		Indicators: []string{typ.String() + " signature"},
	}
	add := func(v float64, why string) {
		c.Confidence += v
		c.Indicators = append(c.Indicators, why)
	}

	if m.IsPrivate() {
		add(0.1, "private method")
	}
	if isSuspiciousName(m.Name) {
		add(0.15, "suspicious method name")
	}
	if m.Code != nil {
		f := scanCode(cf, m.Code.Code)
		if f.xor {
			add(0.2, "XOR operations")
		}
		if f.arrays {
			add(0.1, "array element access")
		}
		if f.loops {
			add(0.05, "backward branch")
		}
		if f.makesString {
			add(0.1, "constructs a String")
		}
	}
	if c.Confidence > 1 {
		c.Confidence = 1
	}
	return c, c.Confidence >= MinConfidence
}

func isSuspiciousName(name string) bool {
	lower := strings.ToLower(name)
	for _, part := range suspiciousNameParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return len(name) <= 2
}

type codeFeatures struct {
	xor, arrays, loops, makesString bool
}

// scanCode reports the bytecode features of a decryption loop. Decoding
// stops quietly at the first malformed instruction.
func scanCode(cf *classfile.ClassFile, code []byte) codeFeatures {
	var f codeFeatures
	insns, _ := bytecode.Decode(code)
	for _, in := range insns {
		op := in.Opcode
		switch {
		case op == bytecode.OpIxor:
			f.xor = true
		case op >= bytecode.OpIaload && op <= bytecode.OpSaload,
			op >= bytecode.OpIastore && op <= bytecode.OpSastore:
			f.arrays = true
		case op == bytecode.OpInvokespecial || op == bytecode.OpInvokestatic || op == bytecode.OpInvokevirtual:
			ref, err := classfile.ResolveMethodref(cf.ConstantPool, binary.BigEndian.Uint16(code[in.PC+1:]))
			if err != nil {
				continue
			}
			if (ref.ClassName == "java/lang/String" && ref.MethodName == "<init>") ||
				strings.HasSuffix(ref.Descriptor, ")Ljava/lang/String;") {
				f.makesString = true
			}
		}
		for _, target := range bytecode.BranchTargets(code, in) {
			if target <= in.PC {
				f.loops = true
			}
		}
	}
	return f
}

func simpleName(class string) string {
	if i := strings.LastIndexByte(class, '/'); i >= 0 {
		return class[i+1:]
	}
	return class
}
