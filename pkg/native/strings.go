package native

import (
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/daimatz/jvmexec/pkg/heap"
)

const (
	stringClass        = "java/lang/String"
	stringBuilderClass = "java/lang/StringBuilder"
	stringBufferClass  = "java/lang/StringBuffer"
)

func utf16String(units []uint16) string { return string(utf16.Decode(units)) }

// units returns the content of a String argument, throwing
// NullPointerException for null.
func units(env Env, v heap.Value) ([]uint16, error) {
	if v.IsNull() {
		return nil, &Throw{Class: ClassNullPointer}
	}
	return env.Heap().StringUnits(v.AsRef())
}

func stringOrNull(env Env, v heap.Value) string {
	if v.IsNull() {
		return "null"
	}
	s, err := env.Heap().ExtractString(v)
	if err != nil {
		return valueOfObject(env, v)
	}
	return s
}

// valueOfObject renders an object like String.valueOf(Object) for the types
// the emulation understands, falling back to the identity form.
func valueOfObject(env Env, v heap.Value) string {
	if v.IsNull() {
		return "null"
	}
	obj, err := env.Heap().Object(v.AsRef())
	if err != nil {
		return identityString(env, v)
	}
	switch obj.Class {
	case stringClass, stringBuilderClass, stringBufferClass:
		return utf16String(obj.Chars)
	}
	if s, ok := boxedString(env, obj); ok {
		return s
	}
	if isThrowable(obj) {
		return ThrowableString(env.Heap(), v)
	}
	return identityString(env, v)
}

func isThrowable(obj *heap.Object) bool {
	_, ok := obj.Fields[heap.FieldKey{Class: throwableClass, Name: "detailMessage"}]
	return ok
}

func charArray(env Env, v heap.Value) ([]uint16, error) {
	if v.IsNull() {
		return nil, &Throw{Class: ClassNullPointer}
	}
	arr, err := env.Heap().Array(v.AsRef())
	if err != nil {
		return nil, err
	}
	out := make([]uint16, arr.Len())
	for i, e := range arr.Elems {
		out[i] = uint16(e.AsInt())
	}
	return out, nil
}

func byteArray(env Env, v heap.Value) ([]byte, error) {
	if v.IsNull() {
		return nil, &Throw{Class: ClassNullPointer}
	}
	arr, err := env.Heap().Array(v.AsRef())
	if err != nil {
		return nil, err
	}
	out := make([]byte, arr.Len())
	for i, e := range arr.Elems {
		out[i] = byte(e.AsInt())
	}
	return out, nil
}

func newCharArray(env Env, u []uint16) (heap.Value, error) {
	h, err := env.Heap().NewArray("C", len(u))
	if err != nil {
		return heap.Value{}, err
	}
	arr, _ := env.Heap().Array(h)
	for i, c := range u {
		arr.Elems[i] = heap.Int(int32(c))
	}
	return heap.Ref(h), nil
}

func newByteArray(env Env, b []byte) (heap.Value, error) {
	h, err := env.Heap().NewArray("B", len(b))
	if err != nil {
		return heap.Value{}, err
	}
	arr, _ := env.Heap().Array(h)
	for i, c := range b {
		arr.Elems[i] = heap.Int(int32(int8(c)))
	}
	return heap.Ref(h), nil
}

func decodeBytes(b []byte, charset string) ([]uint16, error) {
	switch strings.ToUpper(strings.ReplaceAll(charset, "_", "-")) {
	case "ISO-8859-1", "LATIN1", "ISO8859-1":
		out := make([]uint16, len(b))
		for i, c := range b {
			out[i] = uint16(c)
		}
		return out, nil
	case "US-ASCII", "ASCII":
		out := make([]uint16, len(b))
		for i, c := range b {
			if c >= 0x80 {
				out[i] = 0xFFFD
				continue
			}
			out[i] = uint16(c)
		}
		return out, nil
	case "UTF-8", "UTF8", "":
		var runes []rune
		for len(b) > 0 {
			r, size := utf8.DecodeRune(b)
			runes = append(runes, r)
			b = b[size:]
		}
		return utf16.Encode(runes), nil
	case "UTF-16BE", "UTF-16":
		out := make([]uint16, len(b)/2)
		for i := range out {
			out[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
		}
		return out, nil
	}
	return nil, Throwf(ClassUnsupportedEnc, "%s", charset)
}

func encodeUnits(u []uint16, charset string) ([]byte, error) {
	switch strings.ToUpper(strings.ReplaceAll(charset, "_", "-")) {
	case "ISO-8859-1", "LATIN1", "ISO8859-1", "US-ASCII", "ASCII":
		limit := uint16(0xFF)
		if strings.Contains(strings.ToUpper(charset), "ASCII") {
			limit = 0x7F
		}
		out := make([]byte, len(u))
		for i, c := range u {
			if c > limit {
				out[i] = '?'
				continue
			}
			out[i] = byte(c)
		}
		return out, nil
	case "UTF-8", "UTF8", "":
		return []byte(utf16String(u)), nil
	case "UTF-16BE", "UTF-16":
		out := make([]byte, 0, 2*len(u))
		for _, c := range u {
			out = append(out, byte(c>>8), byte(c))
		}
		return out, nil
	}
	return nil, Throwf(ClassUnsupportedEnc, "%s", charset)
}

// JavaHash computes String.hashCode over UTF-16 units.
func JavaHash(u []uint16) int32 {
	var h int32
	for _, c := range u {
		h = 31*h + int32(c)
	}
	return h
}

func indexOf(hay, needle []uint16, from int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i+len(needle) <= len(hay); i++ {
		match := true
		for j := range needle {
			if hay[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func lastIndexOf(hay, needle []uint16) int {
	for i := len(hay) - len(needle); i >= 0; i-- {
		if indexOf(hay[i:i+len(needle)], needle, 0) == 0 {
			return i
		}
	}
	return -1
}

// formatFloat renders a float or double the way Float.toString and
// Double.toString do for common magnitudes.
func formatFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		if math.Signbit(f) {
			return "-0.0"
		}
		return "0.0"
	}
	abs := math.Abs(f)
	if abs >= 1e-3 && abs < 1e7 {
		s := strconv.FormatFloat(f, 'f', -1, bits)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}
	s := strconv.FormatFloat(f, 'E', -1, bits)
	mant, exp, _ := strings.Cut(s, "E")
	if !strings.Contains(mant, ".") {
		mant += ".0"
	}
	exp = strings.TrimPrefix(exp, "+")
	if strings.HasPrefix(exp, "-") {
		exp = "-" + strings.TrimLeft(exp[1:], "0")
	} else {
		exp = strings.TrimLeft(exp, "0")
	}
	return mant + "E" + exp
}

func str(env Env, s string) heap.Value { return heap.Ref(env.Heap().NewGoString(s)) }

func strUnits(env Env, u []uint16) heap.Value { return heap.Ref(env.Heap().NewString(u)) }

func stringIndex(i, length int) error {
	return Throwf(ClassStringIndex, "index %d, length %d", i, length)
}

func registerStrings(r *Registry) {
	for _, c := range []string{stringClass, stringBuilderClass, stringBufferClass, "java/lang/StringLatin1", "java/lang/StringUTF16"} {
		r.RegisterClassInit(c, noop)
	}

	setChars := func(env Env, this heap.Value, u []uint16) error {
		obj, err := env.Heap().Object(this.AsRef())
		if err != nil {
			return err
		}
		obj.Chars = append([]uint16(nil), u...)
		return nil
	}
	ctor := func(desc string, build func(env Env, args []heap.Value) ([]uint16, error)) {
		r.Register(stringClass, "<init>", desc, func(env Env, this heap.Value, args []heap.Value) (heap.Value, error) {
			u, err := build(env, args)
			if err != nil {
				return heap.Value{}, err
			}
			return heap.Value{}, setChars(env, this, u)
		})
	}
	ctor("()V", func(Env, []heap.Value) ([]uint16, error) { return nil, nil })
	ctor("(Ljava/lang/String;)V", func(env Env, a []heap.Value) ([]uint16, error) { return units(env, a[0]) })
	ctor("([C)V", func(env Env, a []heap.Value) ([]uint16, error) { return charArray(env, a[0]) })
	ctor("([CII)V", func(env Env, a []heap.Value) ([]uint16, error) {
		u, err := charArray(env, a[0])
		if err != nil {
			return nil, err
		}
		off, n := int(a[1].AsInt()), int(a[2].AsInt())
		if off < 0 || n < 0 || off+n > len(u) {
			return nil, stringIndex(off+n, len(u))
		}
		return u[off : off+n], nil
	})
	ctor("([B)V", func(env Env, a []heap.Value) ([]uint16, error) {
		b, err := byteArray(env, a[0])
		if err != nil {
			return nil, err
		}
		return decodeBytes(b, "UTF-8")
	})
	ctor("([BLjava/lang/String;)V", func(env Env, a []heap.Value) ([]uint16, error) {
		b, err := byteArray(env, a[0])
		if err != nil {
			return nil, err
		}
		cs, err := units(env, a[1])
		if err != nil {
			return nil, err
		}
		return decodeBytes(b, utf16String(cs))
	})
	ctor("(Ljava/lang/StringBuilder;)V", func(env Env, a []heap.Value) ([]uint16, error) { return builderChars(env, a[0]) })

	method := func(name, desc string, fn func(env Env, s []uint16, args []heap.Value) (heap.Value, error)) {
		r.Register(stringClass, name, desc, func(env Env, this heap.Value, args []heap.Value) (heap.Value, error) {
			s, err := units(env, this)
			if err != nil {
				return heap.Value{}, err
			}
			return fn(env, s, args)
		})
	}
	method("length", "()I", func(_ Env, s []uint16, _ []heap.Value) (heap.Value, error) {
		return heap.Int(int32(len(s))), nil
	})
	method("isEmpty", "()Z", func(_ Env, s []uint16, _ []heap.Value) (heap.Value, error) {
		return heap.Bool(len(s) == 0), nil
	})
	method("charAt", "(I)C", func(_ Env, s []uint16, a []heap.Value) (heap.Value, error) {
		i := int(a[0].AsInt())
		if i < 0 || i >= len(s) {
			return heap.Value{}, stringIndex(i, len(s))
		}
		return heap.Int(int32(s[i])), nil
	})
	method("toCharArray", "()[C", func(env Env, s []uint16, _ []heap.Value) (heap.Value, error) {
		return newCharArray(env, s)
	})
	method("getBytes", "()[B", func(env Env, s []uint16, _ []heap.Value) (heap.Value, error) {
		b, _ := encodeUnits(s, "UTF-8")
		return newByteArray(env, b)
	})
	method("getBytes", "(Ljava/lang/String;)[B", func(env Env, s []uint16, a []heap.Value) (heap.Value, error) {
		cs, err := units(env, a[0])
		if err != nil {
			return heap.Value{}, err
		}
		b, err := encodeUnits(s, utf16String(cs))
		if err != nil {
			return heap.Value{}, err
		}
		return newByteArray(env, b)
	})
	method("hashCode", "()I", func(_ Env, s []uint16, _ []heap.Value) (heap.Value, error) {
		return heap.Int(JavaHash(s)), nil
	})
	method("equals", "(Ljava/lang/Object;)Z", func(env Env, s []uint16, a []heap.Value) (heap.Value, error) {
		if a[0].IsNull() {
			return heap.Bool(false), nil
		}
		other, err := env.Heap().StringUnits(a[0].AsRef())
		if err != nil {
			return heap.Bool(false), nil
		}
		return heap.Bool(equalUnits(s, other)), nil
	})
	method("equalsIgnoreCase", "(Ljava/lang/String;)Z", func(env Env, s []uint16, a []heap.Value) (heap.Value, error) {
		if a[0].IsNull() {
			return heap.Bool(false), nil
		}
		other, err := units(env, a[0])
		if err != nil {
			return heap.Value{}, err
		}
		return heap.Bool(strings.EqualFold(utf16String(s), utf16String(other))), nil
	})
	method("compareTo", "(Ljava/lang/String;)I", func(env Env, s []uint16, a []heap.Value) (heap.Value, error) {
		other, err := units(env, a[0])
		if err != nil {
			return heap.Value{}, err
		}
		for i := 0; i < len(s) && i < len(other); i++ {
			if s[i] != other[i] {
				return heap.Int(int32(s[i]) - int32(other[i])), nil
			}
		}
		return heap.Int(int32(len(s) - len(other))), nil
	})
	method("intern", "()Ljava/lang/String;", func(env Env, s []uint16, _ []heap.Value) (heap.Value, error) {
		return heap.Ref(env.Heap().InternUnits(s)), nil
	})
	r.Register(stringClass, "toString", "()Ljava/lang/String;", func(_ Env, this heap.Value, _ []heap.Value) (heap.Value, error) {
		return this, nil
	})
	method("substring", "(I)Ljava/lang/String;", func(env Env, s []uint16, a []heap.Value) (heap.Value, error) {
		b := int(a[0].AsInt())
		if b < 0 || b > len(s) {
			return heap.Value{}, stringIndex(b, len(s))
		}
		return strUnits(env, s[b:]), nil
	})
	method("substring", "(II)Ljava/lang/String;", func(env Env, s []uint16, a []heap.Value) (heap.Value, error) {
		b, e := int(a[0].AsInt()), int(a[1].AsInt())
		if b < 0 || e > len(s) || b > e {
			return heap.Value{}, Throwf(ClassStringIndex, "begin %d, end %d, length %d", b, e, len(s))
		}
		return strUnits(env, s[b:e]), nil
	})
	method("indexOf", "(I)I", func(_ Env, s []uint16, a []heap.Value) (heap.Value, error) {
		return heap.Int(int32(indexOf(s, []uint16{uint16(a[0].AsInt())}, 0))), nil
	})
	method("indexOf", "(II)I", func(_ Env, s []uint16, a []heap.Value) (heap.Value, error) {
		return heap.Int(int32(indexOf(s, []uint16{uint16(a[0].AsInt())}, int(a[1].AsInt())))), nil
	})
	method("indexOf", "(Ljava/lang/String;)I", func(env Env, s []uint16, a []heap.Value) (heap.Value, error) {
		n, err := units(env, a[0])
		if err != nil {
			return heap.Value{}, err
		}
		return heap.Int(int32(indexOf(s, n, 0))), nil
	})
	method("lastIndexOf", "(I)I", func(_ Env, s []uint16, a []heap.Value) (heap.Value, error) {
		return heap.Int(int32(lastIndexOf(s, []uint16{uint16(a[0].AsInt())}))), nil
	})
	method("contains", "(Ljava/lang/CharSequence;)Z", func(env Env, s []uint16, a []heap.Value) (heap.Value, error) {
		n, err := sequenceChars(env, a[0])
		if err != nil {
			return heap.Value{}, err
		}
		return heap.Bool(indexOf(s, n, 0) >= 0), nil
	})
	method("startsWith", "(Ljava/lang/String;)Z", func(env Env, s []uint16, a []heap.Value) (heap.Value, error) {
		p, err := units(env, a[0])
		if err != nil {
			return heap.Value{}, err
		}
		return heap.Bool(len(p) <= len(s) && equalUnits(s[:len(p)], p)), nil
	})
	method("endsWith", "(Ljava/lang/String;)Z", func(env Env, s []uint16, a []heap.Value) (heap.Value, error) {
		p, err := units(env, a[0])
		if err != nil {
			return heap.Value{}, err
		}
		return heap.Bool(len(p) <= len(s) && equalUnits(s[len(s)-len(p):], p)), nil
	})
	method("concat", "(Ljava/lang/String;)Ljava/lang/String;", func(env Env, s []uint16, a []heap.Value) (heap.Value, error) {
		o, err := units(env, a[0])
		if err != nil {
			return heap.Value{}, err
		}
		return strUnits(env, append(append([]uint16(nil), s...), o...)), nil
	})
	method("replace", "(CC)Ljava/lang/String;", func(env Env, s []uint16, a []heap.Value) (heap.Value, error) {
		from, to := uint16(a[0].AsInt()), uint16(a[1].AsInt())
		out := make([]uint16, len(s))
		for i, c := range s {
			if c == from {
				c = to
			}
			out[i] = c
		}
		return strUnits(env, out), nil
	})
	method("trim", "()Ljava/lang/String;", func(env Env, s []uint16, _ []heap.Value) (heap.Value, error) {
		b, e := 0, len(s)
		for b < e && s[b] <= ' ' {
			b++
		}
		for e > b && s[e-1] <= ' ' {
			e--
		}
		return strUnits(env, s[b:e]), nil
	})
	method("toUpperCase", "()Ljava/lang/String;", func(env Env, s []uint16, _ []heap.Value) (heap.Value, error) {
		return str(env, strings.ToUpper(utf16String(s))), nil
	})
	method("toLowerCase", "()Ljava/lang/String;", func(env Env, s []uint16, _ []heap.Value) (heap.Value, error) {
		return str(env, strings.ToLower(utf16String(s))), nil
	})

	static := func(name, desc string, fn func(env Env, a heap.Value) (string, error)) {
		r.Register(stringClass, name, desc, func(env Env, _ heap.Value, args []heap.Value) (heap.Value, error) {
			s, err := fn(env, args[0])
			if err != nil {
				return heap.Value{}, err
			}
			return str(env, s), nil
		})
	}
	static("valueOf", "(I)Ljava/lang/String;", func(_ Env, v heap.Value) (string, error) { return strconv.Itoa(int(v.AsInt())), nil })
	static("valueOf", "(J)Ljava/lang/String;", func(_ Env, v heap.Value) (string, error) { return strconv.FormatInt(v.AsLong(), 10), nil })
	static("valueOf", "(Z)Ljava/lang/String;", func(_ Env, v heap.Value) (string, error) { return strconv.FormatBool(v.AsInt() != 0), nil })
	static("valueOf", "(F)Ljava/lang/String;", func(_ Env, v heap.Value) (string, error) { return formatFloat(float64(v.AsFloat()), 32), nil })
	static("valueOf", "(D)Ljava/lang/String;", func(_ Env, v heap.Value) (string, error) { return formatFloat(v.AsDouble(), 64), nil })
	static("valueOf", "(Ljava/lang/Object;)Ljava/lang/String;", func(env Env, v heap.Value) (string, error) { return valueOfObject(env, v), nil })
	r.Register(stringClass, "valueOf", "(C)Ljava/lang/String;", func(env Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
		return strUnits(env, []uint16{uint16(a[0].AsInt())}), nil
	})
	valueOfChars := func(env Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
		u, err := charArray(env, a[0])
		if err != nil {
			return heap.Value{}, err
		}
		return strUnits(env, u), nil
	}
	r.Register(stringClass, "valueOf", "([C)Ljava/lang/String;", valueOfChars)
	r.Register(stringClass, "copyValueOf", "([C)Ljava/lang/String;", valueOfChars)

	registerBuilder(r, stringBuilderClass)
	registerBuilder(r, stringBufferClass)
}

func equalUnits(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// sequenceChars reads any CharSequence the emulation stores as Chars.
func sequenceChars(env Env, v heap.Value) ([]uint16, error) {
	if v.IsNull() {
		return nil, &Throw{Class: ClassNullPointer}
	}
	obj, err := env.Heap().Object(v.AsRef())
	if err != nil {
		return nil, err
	}
	return obj.Chars, nil
}

func builderChars(env Env, v heap.Value) ([]uint16, error) {
	return sequenceChars(env, v)
}

func registerBuilder(r *Registry, class string) {
	self := "L" + class + ";"
	edit := func(name, desc string, fn func(env Env, obj *heap.Object, args []heap.Value) error) {
		r.Register(class, name, desc, func(env Env, this heap.Value, args []heap.Value) (heap.Value, error) {
			if this.IsNull() {
				return heap.Value{}, &Throw{Class: ClassNullPointer}
			}
			obj, err := env.Heap().Object(this.AsRef())
			if err != nil {
				return heap.Value{}, err
			}
			if err := fn(env, obj, args); err != nil {
				return heap.Value{}, err
			}
			if strings.HasSuffix(desc, ")V") {
				return heap.Value{}, nil
			}
			return this, nil
		})
	}
	edit("<init>", "()V", func(_ Env, obj *heap.Object, _ []heap.Value) error {
		obj.Chars = obj.Chars[:0]
		return nil
	})
	edit("<init>", "(I)V", func(_ Env, obj *heap.Object, a []heap.Value) error {
		if a[0].AsInt() < 0 {
			return Throwf(ClassNegativeSize, "%d", a[0].AsInt())
		}
		// Capacity is not preallocated.
		obj.Chars = obj.Chars[:0]
		return nil
	})
	edit("<init>", "(Ljava/lang/String;)V", func(env Env, obj *heap.Object, a []heap.Value) error {
		u, err := units(env, a[0])
		if err != nil {
			return err
		}
		if err := env.Heap().Reserve(len(u)); err != nil {
			return err
		}
		obj.Chars = append([]uint16(nil), u...)
		return nil
	})
	edit("<init>", "(Ljava/lang/CharSequence;)V", func(env Env, obj *heap.Object, a []heap.Value) error {
		u, err := sequenceChars(env, a[0])
		if err != nil {
			return err
		}
		if err := env.Heap().Reserve(len(u)); err != nil {
			return err
		}
		obj.Chars = append([]uint16(nil), u...)
		return nil
	})

	appendText := func(desc string, text func(env Env, v heap.Value) []uint16) {
		edit("append", desc+self, func(env Env, obj *heap.Object, a []heap.Value) error {
			u := text(env, a[0])
			if err := env.Heap().Reserve(len(u)); err != nil {
				return err
			}
			obj.Chars = append(obj.Chars, u...)
			return nil
		})
	}
	goText := func(f func(Env, heap.Value) string) func(Env, heap.Value) []uint16 {
		return func(env Env, v heap.Value) []uint16 { return utf16.Encode([]rune(f(env, v))) }
	}
	appendText("(Ljava/lang/String;)", func(env Env, v heap.Value) []uint16 {
		if v.IsNull() {
			return utf16.Encode([]rune("null"))
		}
		u, _ := env.Heap().StringUnits(v.AsRef())
		return u
	})
	appendText("(Ljava/lang/Object;)", goText(valueOfObject))
	appendText("(Ljava/lang/CharSequence;)", goText(valueOfObject))
	appendText("(C)", func(_ Env, v heap.Value) []uint16 { return []uint16{uint16(v.AsInt())} })
	appendText("(I)", goText(func(_ Env, v heap.Value) string { return strconv.Itoa(int(v.AsInt())) }))
	appendText("(J)", goText(func(_ Env, v heap.Value) string { return strconv.FormatInt(v.AsLong(), 10) }))
	appendText("(Z)", goText(func(_ Env, v heap.Value) string { return strconv.FormatBool(v.AsInt() != 0) }))
	appendText("(F)", goText(func(_ Env, v heap.Value) string { return formatFloat(float64(v.AsFloat()), 32) }))
	appendText("(D)", goText(func(_ Env, v heap.Value) string { return formatFloat(v.AsDouble(), 64) }))
	appendText("([C)", func(env Env, v heap.Value) []uint16 {
		u, _ := charArray(env, v)
		return u
	})

	edit("reverse", "()"+self, func(_ Env, obj *heap.Object, _ []heap.Value) error {
		s := obj.Chars
		for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
			s[i], s[j] = s[j], s[i]
		}
		// Surrogate pairs keep their order after reversal.
		for i := 0; i+1 < len(s); i++ {
			if utf16.IsSurrogate(rune(s[i])) && s[i] >= 0xDC00 && s[i+1] >= 0xD800 && s[i+1] < 0xDC00 {
				s[i], s[i+1] = s[i+1], s[i]
				i++
			}
		}
		return nil
	})
	edit("setCharAt", "(IC)V", func(_ Env, obj *heap.Object, a []heap.Value) error {
		i := int(a[0].AsInt())
		if i < 0 || i >= len(obj.Chars) {
			return stringIndex(i, len(obj.Chars))
		}
		obj.Chars[i] = uint16(a[1].AsInt())
		return nil
	})
	edit("setLength", "(I)V", func(env Env, obj *heap.Object, a []heap.Value) error {
		n := int(a[0].AsInt())
		if n < 0 {
			return stringIndex(n, len(obj.Chars))
		}
		if err := env.Heap().Reserve(n - len(obj.Chars)); err != nil {
			return err
		}
		for len(obj.Chars) < n {
			obj.Chars = append(obj.Chars, 0)
		}
		obj.Chars = obj.Chars[:n]
		return nil
	})
	edit("deleteCharAt", "(I)"+self, func(_ Env, obj *heap.Object, a []heap.Value) error {
		i := int(a[0].AsInt())
		if i < 0 || i >= len(obj.Chars) {
			return stringIndex(i, len(obj.Chars))
		}
		obj.Chars = append(obj.Chars[:i], obj.Chars[i+1:]...)
		return nil
	})
	edit("insert", "(IC)"+self, func(env Env, obj *heap.Object, a []heap.Value) error {
		i := int(a[0].AsInt())
		if i < 0 || i > len(obj.Chars) {
			return stringIndex(i, len(obj.Chars))
		}
		if err := env.Heap().Reserve(1); err != nil {
			return err
		}
		obj.Chars = append(obj.Chars[:i], append([]uint16{uint16(a[1].AsInt())}, obj.Chars[i:]...)...)
		return nil
	})

	read := func(name, desc string, fn func(env Env, s []uint16, args []heap.Value) (heap.Value, error)) {
		r.Register(class, name, desc, func(env Env, this heap.Value, args []heap.Value) (heap.Value, error) {
			s, err := sequenceChars(env, this)
			if err != nil {
				return heap.Value{}, err
			}
			return fn(env, s, args)
		})
	}
	read("toString", "()Ljava/lang/String;", func(env Env, s []uint16, _ []heap.Value) (heap.Value, error) {
		return strUnits(env, s), nil
	})
	read("length", "()I", func(_ Env, s []uint16, _ []heap.Value) (heap.Value, error) {
		return heap.Int(int32(len(s))), nil
	})
	read("charAt", "(I)C", func(_ Env, s []uint16, a []heap.Value) (heap.Value, error) {
		i := int(a[0].AsInt())
		if i < 0 || i >= len(s) {
			return heap.Value{}, stringIndex(i, len(s))
		}
		return heap.Int(int32(s[i])), nil
	})
}

// isLetterOrDigit mirrors Character.isLetterOrDigit for BMP code units.
func isLetterOrDigit(c uint16) bool {
	r := rune(c)
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
