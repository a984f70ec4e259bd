package deobf

import (
	"testing"

	"github.com/daimatz/jvmexec/pkg/asm"
	"github.com/daimatz/jvmexec/pkg/bytecode"
	"github.com/daimatz/jvmexec/pkg/classfile"
	"github.com/daimatz/jvmexec/pkg/vm"
)

const (
	secretClass = "app/Secret"
	plaintext   = "Hello, World"
	xorKey      = 0x2A
)

func xorString(s string) string {
	out := []rune(s)
	for i := range out {
		out[i] ^= xorKey
	}
	return string(out)
}

// secret declares:
//
//	static final String GREETING = d("<ciphertext>");
//	static final String NAME = "hello";
//	private static String d(String s) { xor every char with 0x2A }
//	static String k(int i) { return String.valueOf(i); }
//	String inst(String s) { return s; }
func secret() *asm.Class {
	c := asm.NewClass(secretClass)
	c.Field(classfile.AccStatic|classfile.AccFinal, "GREETING", "Ljava/lang/String;")
	c.Field(classfile.AccStatic, "NAME", "Ljava/lang/String;")
	c.Field(classfile.AccStatic, "COUNT", "I")

	clinit := c.Method(classfile.AccStatic, "<clinit>", "()V")
	clinit.String(xorString(plaintext)).
		Invoke(bytecode.OpInvokestatic, secretClass, "d", "(Ljava/lang/String;)Ljava/lang/String;").
		Field(bytecode.OpPutstatic, secretClass, "GREETING", "Ljava/lang/String;").
		String("hello").
		Field(bytecode.OpPutstatic, secretClass, "NAME", "Ljava/lang/String;").
		Int(3).
		Field(bytecode.OpPutstatic, secretClass, "COUNT", "I").
		Op(bytecode.OpReturn)

	d := c.Method(classfile.AccPrivate|classfile.AccStatic, "d", "(Ljava/lang/String;)Ljava/lang/String;")
	loop, done := d.NewLabel(), d.NewLabel()
	d.Var(bytecode.OpAload, 0).
		Invoke(bytecode.OpInvokevirtual, "java/lang/String", "toCharArray", "()[C").
		Var(bytecode.OpAstore, 1).
		Int(0).Var(bytecode.OpIstore, 2)
	d.Mark(loop).
		Var(bytecode.OpIload, 2).Var(bytecode.OpAload, 1).Op(bytecode.OpArraylength).
		Jump(bytecode.OpIfIcmpge, done)
	d.Var(bytecode.OpAload, 1).Var(bytecode.OpIload, 2).
		Var(bytecode.OpAload, 1).Var(bytecode.OpIload, 2).Op(bytecode.OpCaload).
		Int(xorKey).Op(bytecode.OpIxor, bytecode.OpI2c, bytecode.OpCastore).
		Iinc(2, 1).
		Jump(bytecode.OpGoto, loop)
	d.Mark(done).
		Var(bytecode.OpAload, 1).
		Invoke(bytecode.OpInvokestatic, "java/lang/String", "valueOf", "([C)Ljava/lang/String;").
		Op(bytecode.OpAreturn)

	c.Method(classfile.AccStatic, "k", "(I)Ljava/lang/String;").
		Var(bytecode.OpIload, 0).
		Invoke(bytecode.OpInvokestatic, "java/lang/String", "valueOf", "(I)Ljava/lang/String;").
		Op(bytecode.OpAreturn)

	c.Method(classfile.AccPublic, "inst", "(Ljava/lang/String;)Ljava/lang/String;").
		Var(bytecode.OpAload, 1).Op(bytecode.OpAreturn)
	c.Method(classfile.AccPublic|classfile.AccStatic, "wide", "(J)Ljava/lang/String;").
		Op(bytecode.OpAconstNull, bytecode.OpAreturn)
	return c
}

// broken declares decryptor-shaped methods that fail in different ways.
func broken() *asm.Class {
	c := asm.NewClass("app/Broken")
	c.Method(classfile.AccPublic|classfile.AccStatic, "divide", "(Ljava/lang/String;)Ljava/lang/String;").
		Int(1).Int(0).Op(bytecode.OpIdiv).
		Op(bytecode.OpPop, bytecode.OpAconstNull, bytecode.OpAreturn)
	c.Method(classfile.AccPublic|classfile.AccStatic, "nothing", "(Ljava/lang/String;)Ljava/lang/String;").
		Op(bytecode.OpAconstNull, bytecode.OpAreturn)
	spin := c.Method(classfile.AccPublic|classfile.AccStatic, "spin", "(Ljava/lang/String;)Ljava/lang/String;")
	top := spin.NewLabel()
	spin.Mark(top).Jump(bytecode.OpGoto, top)
	c.Method(classfile.AccPublic|classfile.AccStatic, "hoard", "(Ljava/lang/String;)Ljava/lang/String;").
		Int(0x7fffffff).NewArray(8).
		Op(bytecode.OpPop, bytecode.OpAconstNull, bytecode.OpAreturn)
	c.Method(classfile.AccPublic|classfile.AccStatic, "bytes", "(Ljava/lang/String;)[B").
		Var(bytecode.OpAload, 0).
		Invoke(bytecode.OpInvokevirtual, "java/lang/String", "getBytes", "()[B").
		Op(bytecode.OpAreturn)
	return c
}

func newTestPool(t *testing.T, classes ...*asm.Class) *vm.ClassPool {
	t.Helper()
	pool := vm.NewClassPool()
	for _, c := range classes {
		if _, err := pool.Define(c.MustBuild()); err != nil {
			t.Fatalf("define %s: %v", c.Name(), err)
		}
	}
	t.Cleanup(func() { pool.Release() })
	return pool
}

func newTestService(t *testing.T, opts ...vm.Option) *Service {
	t.Helper()
	s := NewService(newTestPool(t, secret(), broken()), opts...)
	t.Cleanup(func() { s.Close() })
	return s
}

// secretCopy returns a private, parsed copy of the secret class.
func secretCopy(t *testing.T) *classfile.ClassFile {
	t.Helper()
	data, err := secret().Bytes()
	if err != nil {
		t.Fatal(err)
	}
	cf, err := classfile.ParseBytes(data)
	if err != nil {
		t.Fatal(err)
	}
	return cf
}

func candidate(t *testing.T, class, method, desc string) Candidate {
	t.Helper()
	typ, ok := TypeOf(desc)
	if !ok {
		t.Fatalf("no decryptor type for %s", desc)
	}
	return Candidate{Class: class, Method: method, Descriptor: desc, Type: typ}
}

// cipherIndex returns the pool index of the encrypted constant.
func cipherIndex(t *testing.T, cf *classfile.ClassFile) uint16 {
	t.Helper()
	locs := FindStringLocations(cf, xorString(plaintext))
	if len(locs) != 1 {
		t.Fatalf("ciphertext locations: %v", locs)
	}
	return locs[0].StringIndex
}
