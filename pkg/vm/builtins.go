package vm

import (
	"fmt"
	"sync"

	"github.com/daimatz/jvmexec/pkg/asm"
	"github.com/daimatz/jvmexec/pkg/classfile"
)

// builtinSource serves skeleton JDK classes so that code can run without a
// JDK on the class path. The stubs carry the class hierarchy and the fields
// the native handlers rely on; their methods are provided by the native
// registry.
type builtinSource struct {
	once    sync.Once
	classes map[string]*classfile.ClassFile
}

var builtins = &builtinSource{}

type stubField struct {
	flags      uint16
	name, desc string
}

type stub struct {
	name   string
	super  string
	flags  uint16
	ifaces []string
	fields []stubField
}

const (
	stubClass     = classfile.AccPublic | classfile.AccSuper
	stubFinal     = stubClass | classfile.AccFinal
	stubAbstract  = stubClass | classfile.AccAbstract
	stubInterface = classfile.AccPublic | classfile.AccInterface | classfile.AccAbstract
	privateFinal  = classfile.AccPrivate | classfile.AccFinal
	publicStatic  = classfile.AccPublic | classfile.AccStatic | classfile.AccFinal
)

var stubs = []stub{
	{name: "java/lang/Object", flags: stubClass},
	{name: "java/io/Serializable", flags: stubInterface},
	{name: "java/lang/Cloneable", flags: stubInterface},
	{name: "java/lang/CharSequence", flags: stubInterface},
	{name: "java/lang/Comparable", flags: stubInterface},
	{name: "java/lang/Appendable", flags: stubInterface},
	{name: "java/util/Map", flags: stubInterface},

	{name: "java/lang/String", flags: stubFinal,
		ifaces: []string{"java/io/Serializable", "java/lang/Comparable", "java/lang/CharSequence"}},
	{name: "java/lang/StringBuilder", flags: stubFinal,
		ifaces: []string{"java/io/Serializable", "java/lang/CharSequence", "java/lang/Appendable"}},
	{name: "java/lang/StringBuffer", flags: stubFinal,
		ifaces: []string{"java/io/Serializable", "java/lang/CharSequence", "java/lang/Appendable"}},

	{name: "java/lang/Number", flags: stubAbstract, ifaces: []string{"java/io/Serializable"}},
	{name: "java/lang/Integer", super: "java/lang/Number", flags: stubFinal,
		ifaces: []string{"java/lang/Comparable"}, fields: []stubField{{privateFinal, "value", "I"}}},
	{name: "java/lang/Long", super: "java/lang/Number", flags: stubFinal,
		ifaces: []string{"java/lang/Comparable"}, fields: []stubField{{privateFinal, "value", "J"}}},
	{name: "java/lang/Float", super: "java/lang/Number", flags: stubFinal,
		ifaces: []string{"java/lang/Comparable"}, fields: []stubField{{privateFinal, "value", "F"}}},
	{name: "java/lang/Double", super: "java/lang/Number", flags: stubFinal,
		ifaces: []string{"java/lang/Comparable"}, fields: []stubField{{privateFinal, "value", "D"}}},
	{name: "java/lang/Character", flags: stubFinal,
		ifaces: []string{"java/io/Serializable", "java/lang/Comparable"}, fields: []stubField{{privateFinal, "value", "C"}}},
	{name: "java/lang/Boolean", flags: stubFinal,
		ifaces: []string{"java/io/Serializable", "java/lang/Comparable"}, fields: []stubField{{privateFinal, "value", "Z"}}},

	{name: "java/lang/Math", flags: stubFinal},
	{name: "java/lang/StrictMath", flags: stubFinal},
	{name: "java/lang/Class", flags: stubFinal, ifaces: []string{"java/io/Serializable"}},
	{name: "java/lang/System", flags: stubFinal, fields: []stubField{
		{publicStatic, "in", "Ljava/io/InputStream;"},
		{publicStatic, "out", "Ljava/io/PrintStream;"},
		{publicStatic, "err", "Ljava/io/PrintStream;"},
	}},
	{name: "java/io/InputStream", flags: stubAbstract},
	{name: "java/io/PrintStream", flags: stubClass},

	{name: "java/util/AbstractMap", flags: stubAbstract, ifaces: []string{"java/util/Map"}},
	{name: "java/util/HashMap", super: "java/util/AbstractMap", flags: stubClass,
		ifaces: []string{"java/util/Map", "java/lang/Cloneable", "java/io/Serializable"}},

	{name: "java/lang/Throwable", flags: stubClass, ifaces: []string{"java/io/Serializable"}, fields: []stubField{
		{classfile.AccPrivate, "detailMessage", "Ljava/lang/String;"},
		{classfile.AccPrivate, "cause", "Ljava/lang/Throwable;"},
	}},
	{name: "java/lang/Exception", super: "java/lang/Throwable", flags: stubClass},
	{name: "java/lang/RuntimeException", super: "java/lang/Exception", flags: stubClass},
	{name: "java/lang/Error", super: "java/lang/Throwable", flags: stubClass},
	{name: "java/io/IOException", super: "java/lang/Exception", flags: stubClass},
	{name: "java/io/UnsupportedEncodingException", super: "java/io/IOException", flags: stubClass},

	{name: "java/lang/ArithmeticException", super: "java/lang/RuntimeException", flags: stubClass},
	{name: "java/lang/NullPointerException", super: "java/lang/RuntimeException", flags: stubClass},
	{name: "java/lang/ClassCastException", super: "java/lang/RuntimeException", flags: stubClass},
	{name: "java/lang/ArrayStoreException", super: "java/lang/RuntimeException", flags: stubClass},
	{name: "java/lang/NegativeArraySizeException", super: "java/lang/RuntimeException", flags: stubClass},
	{name: "java/lang/IllegalStateException", super: "java/lang/RuntimeException", flags: stubClass},
	{name: "java/lang/UnsupportedOperationException", super: "java/lang/RuntimeException", flags: stubClass},
	{name: "java/lang/IllegalArgumentException", super: "java/lang/RuntimeException", flags: stubClass},
	{name: "java/lang/NumberFormatException", super: "java/lang/IllegalArgumentException", flags: stubClass},
	{name: "java/lang/IndexOutOfBoundsException", super: "java/lang/RuntimeException", flags: stubClass},
	{name: "java/lang/ArrayIndexOutOfBoundsException", super: "java/lang/IndexOutOfBoundsException", flags: stubClass},
	{name: "java/lang/StringIndexOutOfBoundsException", super: "java/lang/IndexOutOfBoundsException", flags: stubClass},

	{name: "java/lang/LinkageError", super: "java/lang/Error", flags: stubClass},
	{name: "java/lang/ExceptionInInitializerError", super: "java/lang/LinkageError", flags: stubClass},
	{name: "java/lang/IncompatibleClassChangeError", super: "java/lang/LinkageError", flags: stubClass},
	{name: "java/lang/AbstractMethodError", super: "java/lang/IncompatibleClassChangeError", flags: stubClass},
	{name: "java/lang/NoSuchFieldError", super: "java/lang/IncompatibleClassChangeError", flags: stubClass},
	{name: "java/lang/NoSuchMethodError", super: "java/lang/IncompatibleClassChangeError", flags: stubClass},
	{name: "java/lang/VirtualMachineError", super: "java/lang/Error", flags: stubAbstract},
	{name: "java/lang/StackOverflowError", super: "java/lang/VirtualMachineError", flags: stubClass},
	{name: "java/lang/OutOfMemoryError", super: "java/lang/VirtualMachineError", flags: stubClass},
}

func (s *builtinSource) load() {
	s.once.Do(func() {
		s.classes = make(map[string]*classfile.ClassFile, len(stubs))
		for _, st := range stubs {
			c := asm.NewClass(st.name).Flags(st.flags).Implements(st.ifaces...)
			switch {
			case st.name == "java/lang/Object":
				c.Extends("")
			case st.super != "":
				c.Extends(st.super)
			}
			for _, f := range st.fields {
				c.Field(f.flags, f.name, f.desc)
			}
			s.classes[st.name] = c.MustBuild()
		}
	})
}

func (s *builtinSource) LoadClass(name string) (*classfile.ClassFile, error) {
	s.load()
	if cf, ok := s.classes[name]; ok {
		return cf, nil
	}
	return nil, fmt.Errorf("builtin: %w: %s", ErrClassNotFound, name)
}

func (s *builtinSource) Close() error { return nil }

// IsBuiltin reports whether name is one of the skeleton JDK classes.
func IsBuiltin(name string) bool {
	builtins.load()
	_, ok := builtins.classes[name]
	return ok
}
