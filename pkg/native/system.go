package native

import (
	"strconv"

	"github.com/daimatz/jvmexec/pkg/heap"
)

const (
	systemClass      = "java/lang/System"
	printStreamClass = "java/io/PrintStream"
)

// printStream is the native state of a java.io.PrintStream object: the
// console stream it writes to.
type printStream struct {
	stream Stream
}

func registerSystem(r *Registry) {
	r.RegisterClassInit(systemClass, func(env Env) error {
		h := env.Heap()
		for _, s := range []struct {
			name   string
			stream Stream
		}{{"out", Stdout}, {"err", Stderr}} {
			ps, err := h.NewObject(printStreamClass)
			if err != nil {
				return err
			}
			obj, err := h.Object(ps)
			if err != nil {
				return err
			}
			obj.Native = &printStream{stream: s.stream}
			h.SetStatic(systemClass, s.name, heap.Ref(ps))
		}
		h.SetStatic(systemClass, "in", heap.Null)
		return nil
	})
	r.RegisterClassInit(printStreamClass, noop)

	r.Register(systemClass, "registerNatives", "()V", void)
	r.Register(systemClass, "identityHashCode", "(Ljava/lang/Object;)I", func(env Env, _ heap.Value, args []heap.Value) (heap.Value, error) {
		if args[0].IsNull() {
			return heap.Int(0), nil
		}
		return heap.Int(env.Heap().IdentityHash(args[0].AsRef())), nil
	})
	r.Register(systemClass, "arraycopy", "(Ljava/lang/Object;ILjava/lang/Object;II)V", arraycopy)

	printers := map[string]func(Env, heap.Value) string{
		"(Ljava/lang/String;)V": stringOrNull,
		"(Ljava/lang/Object;)V": func(env Env, v heap.Value) string { return valueOfObject(env, v) },
		"(I)V":                  func(_ Env, v heap.Value) string { return strconv.Itoa(int(v.AsInt())) },
		"(J)V":                  func(_ Env, v heap.Value) string { return strconv.FormatInt(v.AsLong(), 10) },
		"(C)V":                  func(_ Env, v heap.Value) string { return string(rune(uint16(v.AsInt()))) },
		"(Z)V":                  func(_ Env, v heap.Value) string { return strconv.FormatBool(v.AsInt() != 0) },
		"(F)V":                  func(_ Env, v heap.Value) string { return formatFloat(float64(v.AsFloat()), 32) },
		"(D)V":                  func(_ Env, v heap.Value) string { return formatFloat(v.AsDouble(), 64) },
		"([C)V": func(env Env, v heap.Value) string {
			units, _ := charArray(env, v)
			return utf16String(units)
		},
	}
	for desc, format := range printers {
		r.Register(printStreamClass, "println", desc, func(env Env, this heap.Value, args []heap.Value) (heap.Value, error) {
			return heap.Value{}, printTo(env, this, format(env, args[0])+"\n")
		})
		r.Register(printStreamClass, "print", desc, func(env Env, this heap.Value, args []heap.Value) (heap.Value, error) {
			return heap.Value{}, printTo(env, this, format(env, args[0]))
		})
	}
	r.Register(printStreamClass, "println", "()V", func(env Env, this heap.Value, _ []heap.Value) (heap.Value, error) {
		return heap.Value{}, printTo(env, this, "\n")
	})
	r.Register(printStreamClass, "flush", "()V", void)
}

func printTo(env Env, this heap.Value, text string) error {
	obj, err := env.Heap().Object(this.AsRef())
	if err != nil {
		return err
	}
	ps, ok := obj.Native.(*printStream)
	if !ok {
		ps = &printStream{stream: Stdout}
	}
	env.Print(ps.stream, text)
	return nil
}

func arraycopy(env Env, _ heap.Value, args []heap.Value) (heap.Value, error) {
	h := env.Heap()
	src, srcPos, dst, dstPos, n := args[0], args[1].AsInt(), args[2], args[3].AsInt(), args[4].AsInt()
	if src.IsNull() || dst.IsNull() {
		return heap.Value{}, &Throw{Class: ClassNullPointer}
	}
	from, err := h.Array(src.AsRef())
	if err != nil {
		return heap.Value{}, Throwf(ClassArrayStore, "arraycopy: source type is not an array")
	}
	to, err := h.Array(dst.AsRef())
	if err != nil {
		return heap.Value{}, Throwf(ClassArrayStore, "arraycopy: destination type is not an array")
	}
	if isPrimitive(from.ElemType) != isPrimitive(to.ElemType) ||
		(isPrimitive(from.ElemType) && from.ElemType != to.ElemType) {
		return heap.Value{}, Throwf(ClassArrayStore, "arraycopy: type mismatch: can not copy %s[] into %s[]", from.ElemType, to.ElemType)
	}
	if n < 0 || srcPos < 0 || dstPos < 0 ||
		int64(srcPos)+int64(n) > int64(from.Len()) || int64(dstPos)+int64(n) > int64(to.Len()) {
		return heap.Value{}, Throwf(ClassIndexOutOfBounds, "arraycopy: last source index %d out of bounds for length %d", int64(srcPos)+int64(n), from.Len())
	}
	copy(to.Elems[dstPos:dstPos+n], from.Elems[srcPos:srcPos+n])
	return heap.Value{}, nil
}

func isPrimitive(desc string) bool {
	return len(desc) == 1
}
