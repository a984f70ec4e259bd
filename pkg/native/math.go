package native

import (
	"math"

	"github.com/daimatz/jvmexec/pkg/heap"
)

const (
	mathClass       = "java/lang/Math"
	strictMathClass = "java/lang/StrictMath"
	floatClass      = "java/lang/Float"
	doubleClass     = "java/lang/Double"
)

func registerMath(r *Registry) {
	for _, c := range []string{mathClass, strictMathClass, floatClass, doubleClass} {
		r.RegisterClassInit(c, noop)
	}

	for _, class := range []string{mathClass, strictMathClass} {
		d1 := func(name string, fn func(float64) float64) {
			r.Register(class, name, "(D)D", func(_ Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
				return heap.Double(fn(a[0].AsDouble())), nil
			})
		}
		d1("sqrt", math.Sqrt)
		d1("cbrt", math.Cbrt)
		d1("floor", math.Floor)
		d1("ceil", math.Ceil)
		d1("sin", math.Sin)
		d1("cos", math.Cos)
		d1("tan", math.Tan)
		d1("exp", math.Exp)
		d1("log", math.Log)
		d1("log10", math.Log10)
		d1("abs", math.Abs)
		d1("rint", math.RoundToEven)
		r.Register(class, "pow", "(DD)D", func(_ Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
			return heap.Double(math.Pow(a[0].AsDouble(), a[1].AsDouble())), nil
		})
		r.Register(class, "atan2", "(DD)D", func(_ Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
			return heap.Double(math.Atan2(a[0].AsDouble(), a[1].AsDouble())), nil
		})
	}

	r.Register(mathClass, "abs", "(I)I", func(_ Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
		v := a[0].AsInt()
		if v < 0 {
			v = -v
		}
		return heap.Int(v), nil
	})
	r.Register(mathClass, "abs", "(J)J", func(_ Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
		v := a[0].AsLong()
		if v < 0 {
			v = -v
		}
		return heap.Long(v), nil
	})
	r.Register(mathClass, "abs", "(F)F", func(_ Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
		return heap.Float(float32(math.Abs(float64(a[0].AsFloat())))), nil
	})
	r.Register(mathClass, "max", "(II)I", func(_ Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
		return heap.Int(max(a[0].AsInt(), a[1].AsInt())), nil
	})
	r.Register(mathClass, "min", "(II)I", func(_ Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
		return heap.Int(min(a[0].AsInt(), a[1].AsInt())), nil
	})
	r.Register(mathClass, "max", "(JJ)J", func(_ Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
		return heap.Long(max(a[0].AsLong(), a[1].AsLong())), nil
	})
	r.Register(mathClass, "min", "(JJ)J", func(_ Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
		return heap.Long(min(a[0].AsLong(), a[1].AsLong())), nil
	})
	r.Register(mathClass, "max", "(DD)D", func(_ Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
		return heap.Double(math.Max(a[0].AsDouble(), a[1].AsDouble())), nil
	})
	r.Register(mathClass, "min", "(DD)D", func(_ Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
		return heap.Double(math.Min(a[0].AsDouble(), a[1].AsDouble())), nil
	})
	r.Register(mathClass, "round", "(D)J", func(_ Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
		return heap.Long(heap.F2L(math.Floor(a[0].AsDouble() + 0.5))), nil
	})
	r.Register(mathClass, "round", "(F)I", func(_ Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
		return heap.Int(heap.F2I(math.Floor(float64(a[0].AsFloat()) + 0.5))), nil
	})
	r.Register(mathClass, "floorMod", "(II)I", func(_ Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
		x, y := a[0].AsInt(), a[1].AsInt()
		if y == 0 {
			return heap.Value{}, Throwf(ClassArithmetic, "/ by zero")
		}
		m := x % y
		if m != 0 && (m^y) < 0 {
			m += y
		}
		return heap.Int(m), nil
	})
	r.Register(mathClass, "floorDiv", "(II)I", func(_ Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
		x, y := a[0].AsInt(), a[1].AsInt()
		if y == 0 {
			return heap.Value{}, Throwf(ClassArithmetic, "/ by zero")
		}
		if x == math.MinInt32 && y == -1 {
			return heap.Int(x), nil
		}
		q := x / y
		if (x%y != 0) && ((x ^ y) < 0) {
			q--
		}
		return heap.Int(q), nil
	})

	r.Register(floatClass, "floatToRawIntBits", "(F)I", func(_ Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
		return heap.Int(int32(math.Float32bits(a[0].AsFloat()))), nil
	})
	r.Register(floatClass, "floatToIntBits", "(F)I", func(_ Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
		f := a[0].AsFloat()
		if f != f {
			return heap.Int(0x7fc00000), nil
		}
		return heap.Int(int32(math.Float32bits(f))), nil
	})
	r.Register(floatClass, "intBitsToFloat", "(I)F", func(_ Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
		return heap.Float(math.Float32frombits(uint32(a[0].AsInt()))), nil
	})
	r.Register(floatClass, "isNaN", "(F)Z", func(_ Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
		f := a[0].AsFloat()
		return heap.Bool(f != f), nil
	})
	r.Register(doubleClass, "doubleToRawLongBits", "(D)J", func(_ Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
		return heap.Long(int64(math.Float64bits(a[0].AsDouble()))), nil
	})
	r.Register(doubleClass, "doubleToLongBits", "(D)J", func(_ Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
		d := a[0].AsDouble()
		if math.IsNaN(d) {
			return heap.Long(0x7ff8000000000000), nil
		}
		return heap.Long(int64(math.Float64bits(d))), nil
	})
	r.Register(doubleClass, "longBitsToDouble", "(J)D", func(_ Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
		return heap.Double(math.Float64frombits(uint64(a[0].AsLong()))), nil
	})
	r.Register(doubleClass, "isNaN", "(D)Z", func(_ Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
		return heap.Bool(math.IsNaN(a[0].AsDouble())), nil
	})
	r.Register(doubleClass, "toString", "(D)Ljava/lang/String;", func(env Env, _ heap.Value, a []heap.Value) (heap.Value, error) {
		return str(env, formatFloat(a[0].AsDouble(), 64)), nil
	})
}
