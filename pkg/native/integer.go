package native

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/daimatz/jvmexec/pkg/heap"
)

const (
	integerClass   = "java/lang/Integer"
	longClass      = "java/lang/Long"
	characterClass = "java/lang/Character"
	booleanClass   = "java/lang/Boolean"
)

// box allocates a wrapper object and stores v in its value field.
func box(env Env, class string, v heap.Value) (heap.Value, error) {
	h, err := env.Heap().NewObject(class)
	if err != nil {
		return heap.Value{}, err
	}
	if err := env.Heap().SetField(h, class, "value", v); err != nil {
		return heap.Value{}, err
	}
	return heap.Ref(h), nil
}

func unbox(env Env, class string, this heap.Value) (heap.Value, error) {
	if this.IsNull() {
		return heap.Value{}, &Throw{Class: ClassNullPointer}
	}
	return env.Heap().GetField(this.AsRef(), class, "value")
}

// boxedString formats wrapper objects for String.valueOf(Object).
func boxedString(env Env, obj *heap.Object) (string, bool) {
	v, ok := obj.Fields[heap.FieldKey{Class: obj.Class, Name: "value"}]
	if !ok {
		return "", false
	}
	switch obj.Class {
	case integerClass:
		return strconv.Itoa(int(v.AsInt())), true
	case longClass:
		return strconv.FormatInt(v.AsLong(), 10), true
	case characterClass:
		return string(rune(uint16(v.AsInt()))), true
	case booleanClass:
		return strconv.FormatBool(v.AsInt() != 0), true
	}
	return "", false
}

func parseJavaInt(env Env, v heap.Value, radix int, bits int) (int64, error) {
	if v.IsNull() {
		return 0, Throwf(ClassNumberFormat, "Cannot parse null string: null")
	}
	s, err := env.Heap().ExtractString(v)
	if err != nil {
		return 0, err
	}
	// Java accepts a leading '+' or '-' but no whitespace or underscores.
	body := strings.TrimLeft(s, "+-")
	if len(s)-len(body) > 1 || body == "" || strings.ContainsAny(body, "_ ") {
		return 0, Throwf(ClassNumberFormat, "For input string: \"%s\"", s)
	}
	n, err := strconv.ParseInt(s, radix, bits)
	if err != nil {
		return 0, Throwf(ClassNumberFormat, "For input string: \"%s\"", s)
	}
	return n, nil
}

func registerBoxes(r *Registry) {
	for _, c := range []string{integerClass, longClass, characterClass, booleanClass,
		"java/lang/Integer$IntegerCache", "java/lang/Long$LongCache", "java/lang/Character$CharacterCache", "java/lang/Number"} {
		r.RegisterClassInit(c, noop)
	}

	for _, b := range []struct {
		class, prim, getter string
	}{
		{integerClass, "I", "intValue"},
		{longClass, "J", "longValue"},
		{characterClass, "C", "charValue"},
		{booleanClass, "Z", "booleanValue"},
	} {
		class, prim := b.class, b.prim
		r.Register(class, "valueOf", "("+prim+")L"+class+";", func(env Env, _ heap.Value, args []heap.Value) (heap.Value, error) {
			return box(env, class, args[0])
		})
		r.Register(class, "<init>", "("+prim+")V", func(env Env, this heap.Value, args []heap.Value) (heap.Value, error) {
			return heap.Value{}, env.Heap().SetField(this.AsRef(), class, "value", args[0])
		})
		r.Register(class, b.getter, "()"+prim, func(env Env, this heap.Value, _ []heap.Value) (heap.Value, error) {
			return unbox(env, class, this)
		})
		r.Register(class, "equals", "(Ljava/lang/Object;)Z", func(env Env, this heap.Value, args []heap.Value) (heap.Value, error) {
			if args[0].IsNull() {
				return heap.Bool(false), nil
			}
			if c, err := env.Heap().ClassOf(args[0].AsRef()); err != nil || c != class {
				return heap.Bool(false), nil
			}
			a, err := unbox(env, class, this)
			if err != nil {
				return heap.Value{}, err
			}
			o, err := unbox(env, class, args[0])
			if err != nil {
				return heap.Value{}, err
			}
			return heap.Bool(a == o), nil
		})
		r.Register(class, "toString", "()Ljava/lang/String;", func(env Env, this heap.Value, _ []heap.Value) (heap.Value, error) {
			return str(env, valueOfObject(env, this)), nil
		})
	}

	// Integer
	r.Register(integerClass, "hashCode", "()I", func(env Env, this heap.Value, _ []heap.Value) (heap.Value, error) {
		return unbox(env, integerClass, this)
	})
	r.Register(integerClass, "parseInt", "(Ljava/lang/String;)I", func(env Env, _ heap.Value, args []heap.Value) (heap.Value, error) {
		n, err := parseJavaInt(env, args[0], 10, 32)
		return heap.Int(int32(n)), err
	})
	r.Register(integerClass, "parseInt", "(Ljava/lang/String;I)I", func(env Env, _ heap.Value, args []heap.Value) (heap.Value, error) {
		n, err := parseJavaInt(env, args[0], int(args[1].AsInt()), 32)
		return heap.Int(int32(n)), err
	})
	r.Register(integerClass, "valueOf", "(Ljava/lang/String;)Ljava/lang/Integer;", func(env Env, _ heap.Value, args []heap.Value) (heap.Value, error) {
		n, err := parseJavaInt(env, args[0], 10, 32)
		if err != nil {
			return heap.Value{}, err
		}
		return box(env, integerClass, heap.Int(int32(n)))
	})
	intFormat := func(name string, format func(int32) string) {
		r.Register(integerClass, name, "(I)Ljava/lang/String;", func(env Env, _ heap.Value, args []heap.Value) (heap.Value, error) {
			return str(env, format(args[0].AsInt())), nil
		})
	}
	intFormat("toString", func(v int32) string { return strconv.Itoa(int(v)) })
	intFormat("toHexString", func(v int32) string { return strconv.FormatUint(uint64(uint32(v)), 16) })
	intFormat("toBinaryString", func(v int32) string { return strconv.FormatUint(uint64(uint32(v)), 2) })
	intFormat("toOctalString", func(v int32) string { return strconv.FormatUint(uint64(uint32(v)), 8) })
	r.Register(integerClass, "toString", "(II)Ljava/lang/String;", func(env Env, _ heap.Value, args []heap.Value) (heap.Value, error) {
		return str(env, strconv.FormatInt(int64(args[0].AsInt()), int(args[1].AsInt()))), nil
	})
	r.Register(integerClass, "compare", "(II)I", func(_ Env, _ heap.Value, args []heap.Value) (heap.Value, error) {
		a, b := args[0].AsInt(), args[1].AsInt()
		switch {
		case a < b:
			return heap.Int(-1), nil
		case a > b:
			return heap.Int(1), nil
		}
		return heap.Int(0), nil
	})

	// Long
	r.Register(longClass, "parseLong", "(Ljava/lang/String;)J", func(env Env, _ heap.Value, args []heap.Value) (heap.Value, error) {
		n, err := parseJavaInt(env, args[0], 10, 64)
		return heap.Long(n), err
	})
	r.Register(longClass, "toString", "(J)Ljava/lang/String;", func(env Env, _ heap.Value, args []heap.Value) (heap.Value, error) {
		return str(env, strconv.FormatInt(args[0].AsLong(), 10)), nil
	})
	r.Register(longClass, "toHexString", "(J)Ljava/lang/String;", func(env Env, _ heap.Value, args []heap.Value) (heap.Value, error) {
		return str(env, strconv.FormatUint(uint64(args[0].AsLong()), 16)), nil
	})

	// Character
	charTest := func(name string, test func(rune) bool) {
		r.Register(characterClass, name, "(C)Z", func(_ Env, _ heap.Value, args []heap.Value) (heap.Value, error) {
			return heap.Bool(test(rune(uint16(args[0].AsInt())))), nil
		})
	}
	charTest("isDigit", unicode.IsDigit)
	charTest("isLetter", unicode.IsLetter)
	charTest("isLetterOrDigit", func(c rune) bool { return isLetterOrDigit(uint16(c)) })
	charTest("isWhitespace", unicode.IsSpace)
	charTest("isUpperCase", unicode.IsUpper)
	charTest("isLowerCase", unicode.IsLower)
	charMap := func(name string, conv func(rune) rune) {
		r.Register(characterClass, name, "(C)C", func(_ Env, _ heap.Value, args []heap.Value) (heap.Value, error) {
			c := conv(rune(uint16(args[0].AsInt())))
			if c > 0xFFFF {
				c = rune(uint16(args[0].AsInt()))
			}
			return heap.Int(int32(c)), nil
		})
	}
	charMap("toUpperCase", unicode.ToUpper)
	charMap("toLowerCase", unicode.ToLower)
	r.Register(characterClass, "digit", "(CI)I", func(_ Env, _ heap.Value, args []heap.Value) (heap.Value, error) {
		n, err := strconv.ParseInt(string(rune(uint16(args[0].AsInt()))), int(args[1].AsInt()), 32)
		if err != nil {
			return heap.Int(-1), nil
		}
		return heap.Int(int32(n)), nil
	})

	// Boolean
	r.Register(booleanClass, "parseBoolean", "(Ljava/lang/String;)Z", func(env Env, _ heap.Value, args []heap.Value) (heap.Value, error) {
		if args[0].IsNull() {
			return heap.Bool(false), nil
		}
		s, err := env.Heap().ExtractString(args[0])
		if err != nil {
			return heap.Value{}, err
		}
		return heap.Bool(strings.EqualFold(s, "true")), nil
	})
}
