package vm

import (
	"math"
	"strconv"
	"strings"

	"github.com/daimatz/jvmexec/pkg/bytecode"
	"github.com/daimatz/jvmexec/pkg/classfile"
	"github.com/daimatz/jvmexec/pkg/heap"
	"github.com/daimatz/jvmexec/pkg/native"
)

// action tells the driver what to do after a step.
type action int

const (
	actNext action = iota
	// actReturn: the frame returned r.ret.
	actReturn
	// actInvoke: push r.next.
	actInvoke
	// actThrow: r.exc was thrown at the current instruction.
	actThrow
)

// newarray type codes.
var primitiveArrayTypes = map[uint8]string{
	4: "Z", 5: "C", 6: "F", 7: "D", 8: "B", 9: "S", 10: "I", 11: "J",
}

func dotted(name string) string { return strings.ReplaceAll(name, "/", ".") }

func popInts(fr *Frame) (int32, int32) {
	b := fr.Pop().AsInt()
	a := fr.Pop().AsInt()
	return a, b
}

func popLongs(fr *Frame) (int64, int64) {
	b := fr.Pop().AsLong()
	a := fr.Pop().AsLong()
	return a, b
}

func popFloats(fr *Frame) (float32, float32) {
	b := fr.Pop().AsFloat()
	a := fr.Pop().AsFloat()
	return a, b
}

func popDoubles(fr *Frame) (float64, float64) {
	b := fr.Pop().AsDouble()
	a := fr.Pop().AsDouble()
	return a, b
}

// step executes the instruction at fr.PC. Both execution modes drive the
// interpreter through this function.
func (r *run) step(fr *Frame) (action, error) {
	if fr.PC < 0 || fr.PC >= len(fr.Code) {
		return 0, faultf(StatusUnsupported, "pc %d outside the code of %s", fr.PC, fr.Method)
	}
	fr.start = fr.PC
	op := fr.ReadU8()

	switch op {
	case bytecode.OpNop:
		// do nothing

	// --- Constants ---
	case bytecode.OpAconstNull:
		fr.Push(heap.Null)
	case bytecode.OpIconstM1, bytecode.OpIconst0, bytecode.OpIconst1, bytecode.OpIconst2,
		bytecode.OpIconst3, bytecode.OpIconst4, bytecode.OpIconst5:
		fr.Push(heap.Int(int32(op) - bytecode.OpIconst0))
	case bytecode.OpLconst0, bytecode.OpLconst1:
		fr.Push(heap.Long(int64(op) - bytecode.OpLconst0))
	case bytecode.OpFconst0, bytecode.OpFconst1, bytecode.OpFconst2:
		fr.Push(heap.Float(float32(op - bytecode.OpFconst0)))
	case bytecode.OpDconst0, bytecode.OpDconst1:
		fr.Push(heap.Double(float64(op - bytecode.OpDconst0)))
	case bytecode.OpBipush:
		fr.Push(heap.Int(int32(fr.ReadI8())))
	case bytecode.OpSipush:
		fr.Push(heap.Int(int32(fr.ReadI16())))
	case bytecode.OpLdc:
		return r.ldc(fr, uint16(fr.ReadU8()))
	case bytecode.OpLdcW, bytecode.OpLdc2W:
		return r.ldc(fr, fr.ReadU16())

	// --- Local variables ---
	case bytecode.OpIload, bytecode.OpLload, bytecode.OpFload, bytecode.OpDload, bytecode.OpAload:
		fr.Push(fr.GetLocal(int(fr.ReadU8())))
	case bytecode.OpIload0, bytecode.OpIload1, bytecode.OpIload2, bytecode.OpIload3,
		bytecode.OpLload0, bytecode.OpLload1, bytecode.OpLload2, bytecode.OpLload3,
		bytecode.OpFload0, bytecode.OpFload1, bytecode.OpFload2, bytecode.OpFload3,
		bytecode.OpDload0, bytecode.OpDload1, bytecode.OpDload2, bytecode.OpDload3,
		bytecode.OpAload0, bytecode.OpAload1, bytecode.OpAload2, bytecode.OpAload3:
		fr.Push(fr.GetLocal(int(op-bytecode.OpIload0) % 4))
	case bytecode.OpIstore, bytecode.OpLstore, bytecode.OpFstore, bytecode.OpDstore, bytecode.OpAstore:
		idx := int(fr.ReadU8())
		fr.SetLocal(idx, fr.Pop())
	case bytecode.OpIstore0, bytecode.OpIstore1, bytecode.OpIstore2, bytecode.OpIstore3,
		bytecode.OpLstore0, bytecode.OpLstore1, bytecode.OpLstore2, bytecode.OpLstore3,
		bytecode.OpFstore0, bytecode.OpFstore1, bytecode.OpFstore2, bytecode.OpFstore3,
		bytecode.OpDstore0, bytecode.OpDstore1, bytecode.OpDstore2, bytecode.OpDstore3,
		bytecode.OpAstore0, bytecode.OpAstore1, bytecode.OpAstore2, bytecode.OpAstore3:
		fr.SetLocal(int(op-bytecode.OpIstore0)%4, fr.Pop())
	case bytecode.OpIinc:
		idx := int(fr.ReadU8())
		delta := int32(fr.ReadI8())
		fr.SetLocal(idx, heap.Int(fr.GetLocal(idx).AsInt()+delta))
	case bytecode.OpWide:
		return r.wide(fr)

	// --- Arrays ---
	case bytecode.OpIaload, bytecode.OpLaload, bytecode.OpFaload, bytecode.OpDaload,
		bytecode.OpAaload, bytecode.OpBaload, bytecode.OpCaload, bytecode.OpSaload:
		index := fr.Pop().AsInt()
		arr := fr.Pop()
		if arr.IsNull() {
			return r.throw(native.ClassNullPointer, "")
		}
		v, err := r.heap.Load(arr.AsRef(), index)
		if err != nil {
			return r.raise(err)
		}
		fr.Push(v)
	case bytecode.OpIastore, bytecode.OpLastore, bytecode.OpFastore, bytecode.OpDastore,
		bytecode.OpAastore, bytecode.OpBastore, bytecode.OpCastore, bytecode.OpSastore:
		v := fr.Pop()
		index := fr.Pop().AsInt()
		arr := fr.Pop()
		if arr.IsNull() {
			return r.throw(native.ClassNullPointer, "")
		}
		if op == bytecode.OpAastore && !v.IsNull() {
			if act, thrown, err := r.checkArrayStore(arr, v); thrown || err != nil {
				return act, err
			}
		}
		if err := r.heap.Store(arr.AsRef(), index, v); err != nil {
			return r.raise(err)
		}
	case bytecode.OpArraylength:
		ref := fr.Pop()
		if ref.IsNull() {
			return r.throw(native.ClassNullPointer, "")
		}
		arr, err := r.heap.Array(ref.AsRef())
		if err != nil {
			return r.raise(err)
		}
		fr.Push(heap.Int(int32(arr.Len())))
	case bytecode.OpNewarray:
		atype := fr.ReadU8()
		count := fr.Pop().AsInt()
		elem, ok := primitiveArrayTypes[atype]
		if !ok {
			return 0, faultf(StatusUnsupported, "newarray with type code %d", atype)
		}
		return r.newArray(fr, elem, count)
	case bytecode.OpAnewarray:
		name, err := classfile.GetClassName(fr.Class.ConstantPool, fr.ReadU16())
		if err != nil {
			return 0, r.fault(err)
		}
		count := fr.Pop().AsInt()
		elem := name
		if !strings.HasPrefix(name, "[") {
			elem = "L" + name + ";"
		}
		return r.newArray(fr, elem, count)
	case bytecode.OpMultianewarray:
		desc, err := classfile.GetClassName(fr.Class.ConstantPool, fr.ReadU16())
		if err != nil {
			return 0, r.fault(err)
		}
		dims := int(fr.ReadU8())
		if dims < 1 || dims >= len(desc) || desc[dims-1] != '[' {
			return 0, faultf(StatusUnsupported, "multianewarray of %s with %d dimensions", desc, dims)
		}
		counts := make([]int32, dims)
		for i := dims - 1; i >= 0; i-- {
			counts[i] = fr.Pop().AsInt()
		}
		for _, c := range counts {
			if c < 0 {
				return r.throw(native.ClassNegativeSize, strconv.Itoa(int(c)))
			}
		}
		v, err := r.multiArray(desc, counts)
		if err != nil {
			return r.raise(err)
		}
		fr.Push(v)

	// --- Stack manipulation ---
	case bytecode.OpPop:
		fr.Pop()
	case bytecode.OpPop2:
		if v := fr.Pop(); v.Category() == 1 {
			fr.Pop()
		}
	case bytecode.OpDup:
		fr.Push(fr.Peek(0))
	case bytecode.OpDupX1:
		v1 := fr.Pop()
		v2 := fr.Pop()
		fr.Push(v1)
		fr.Push(v2)
		fr.Push(v1)
	case bytecode.OpDupX2:
		v1 := fr.Pop()
		v2 := fr.Pop()
		if v2.Category() == 2 {
			fr.Push(v1)
			fr.Push(v2)
			fr.Push(v1)
			break
		}
		v3 := fr.Pop()
		fr.Push(v1)
		fr.Push(v3)
		fr.Push(v2)
		fr.Push(v1)
	case bytecode.OpDup2:
		v1 := fr.Pop()
		if v1.Category() == 2 {
			fr.Push(v1)
			fr.Push(v1)
			break
		}
		v2 := fr.Pop()
		fr.Push(v2)
		fr.Push(v1)
		fr.Push(v2)
		fr.Push(v1)
	case bytecode.OpDup2X1:
		v1 := fr.Pop()
		v2 := fr.Pop()
		if v1.Category() == 2 {
			fr.Push(v1)
			fr.Push(v2)
			fr.Push(v1)
			break
		}
		v3 := fr.Pop()
		fr.Push(v2)
		fr.Push(v1)
		fr.Push(v3)
		fr.Push(v2)
		fr.Push(v1)
	case bytecode.OpDup2X2:
		v1 := fr.Pop()
		v2 := fr.Pop()
		switch {
		case v1.Category() == 2 && v2.Category() == 2:
			fr.Push(v1)
			fr.Push(v2)
			fr.Push(v1)
		case v1.Category() == 2:
			v3 := fr.Pop()
			fr.Push(v1)
			fr.Push(v3)
			fr.Push(v2)
			fr.Push(v1)
		default:
			v3 := fr.Pop()
			if v3.Category() == 2 {
				fr.Push(v2)
				fr.Push(v1)
				fr.Push(v3)
				fr.Push(v2)
				fr.Push(v1)
				break
			}
			v4 := fr.Pop()
			fr.Push(v2)
			fr.Push(v1)
			fr.Push(v4)
			fr.Push(v3)
			fr.Push(v2)
			fr.Push(v1)
		}
	case bytecode.OpSwap:
		v1 := fr.Pop()
		v2 := fr.Pop()
		fr.Push(v1)
		fr.Push(v2)

	// --- Arithmetic ---
	case bytecode.OpIadd:
		a, b := popInts(fr)
		fr.Push(heap.Int(a + b))
	case bytecode.OpLadd:
		a, b := popLongs(fr)
		fr.Push(heap.Long(a + b))
	case bytecode.OpFadd:
		a, b := popFloats(fr)
		fr.Push(heap.Float(a + b))
	case bytecode.OpDadd:
		a, b := popDoubles(fr)
		fr.Push(heap.Double(a + b))
	case bytecode.OpIsub:
		a, b := popInts(fr)
		fr.Push(heap.Int(a - b))
	case bytecode.OpLsub:
		a, b := popLongs(fr)
		fr.Push(heap.Long(a - b))
	case bytecode.OpFsub:
		a, b := popFloats(fr)
		fr.Push(heap.Float(a - b))
	case bytecode.OpDsub:
		a, b := popDoubles(fr)
		fr.Push(heap.Double(a - b))
	case bytecode.OpImul:
		a, b := popInts(fr)
		fr.Push(heap.Int(a * b))
	case bytecode.OpLmul:
		a, b := popLongs(fr)
		fr.Push(heap.Long(a * b))
	case bytecode.OpFmul:
		a, b := popFloats(fr)
		fr.Push(heap.Float(a * b))
	case bytecode.OpDmul:
		a, b := popDoubles(fr)
		fr.Push(heap.Double(a * b))
	case bytecode.OpIdiv:
		a, b := popInts(fr)
		if b == 0 {
			return r.throw(native.ClassArithmetic, "/ by zero")
		}
		fr.Push(heap.Int(a / b))
	case bytecode.OpLdiv:
		a, b := popLongs(fr)
		if b == 0 {
			return r.throw(native.ClassArithmetic, "/ by zero")
		}
		fr.Push(heap.Long(a / b))
	case bytecode.OpFdiv:
		a, b := popFloats(fr)
		fr.Push(heap.Float(a / b))
	case bytecode.OpDdiv:
		a, b := popDoubles(fr)
		fr.Push(heap.Double(a / b))
	case bytecode.OpIrem:
		a, b := popInts(fr)
		if b == 0 {
			return r.throw(native.ClassArithmetic, "/ by zero")
		}
		fr.Push(heap.Int(a % b))
	case bytecode.OpLrem:
		a, b := popLongs(fr)
		if b == 0 {
			return r.throw(native.ClassArithmetic, "/ by zero")
		}
		fr.Push(heap.Long(a % b))
	case bytecode.OpFrem:
		a, b := popFloats(fr)
		fr.Push(heap.Float(float32(math.Mod(float64(a), float64(b)))))
	case bytecode.OpDrem:
		a, b := popDoubles(fr)
		fr.Push(heap.Double(math.Mod(a, b)))
	case bytecode.OpIneg:
		fr.Push(heap.Int(-fr.Pop().AsInt()))
	case bytecode.OpLneg:
		fr.Push(heap.Long(-fr.Pop().AsLong()))
	case bytecode.OpFneg:
		fr.Push(heap.Float(-fr.Pop().AsFloat()))
	case bytecode.OpDneg:
		fr.Push(heap.Double(-fr.Pop().AsDouble()))

	// --- Shifts and bitwise ---
	case bytecode.OpIshl:
		a, b := popInts(fr)
		fr.Push(heap.Int(a << uint(b&31)))
	case bytecode.OpIshr:
		a, b := popInts(fr)
		fr.Push(heap.Int(a >> uint(b&31)))
	case bytecode.OpIushr:
		a, b := popInts(fr)
		fr.Push(heap.Int(int32(uint32(a) >> uint(b&31))))
	case bytecode.OpLshl:
		s := fr.Pop().AsInt()
		a := fr.Pop().AsLong()
		fr.Push(heap.Long(a << uint(s&63)))
	case bytecode.OpLshr:
		s := fr.Pop().AsInt()
		a := fr.Pop().AsLong()
		fr.Push(heap.Long(a >> uint(s&63)))
	case bytecode.OpLushr:
		s := fr.Pop().AsInt()
		a := fr.Pop().AsLong()
		fr.Push(heap.Long(int64(uint64(a) >> uint(s&63))))
	case bytecode.OpIand:
		a, b := popInts(fr)
		fr.Push(heap.Int(a & b))
	case bytecode.OpLand:
		a, b := popLongs(fr)
		fr.Push(heap.Long(a & b))
	case bytecode.OpIor:
		a, b := popInts(fr)
		fr.Push(heap.Int(a | b))
	case bytecode.OpLor:
		a, b := popLongs(fr)
		fr.Push(heap.Long(a | b))
	case bytecode.OpIxor:
		a, b := popInts(fr)
		fr.Push(heap.Int(a ^ b))
	case bytecode.OpLxor:
		a, b := popLongs(fr)
		fr.Push(heap.Long(a ^ b))

	// --- Conversions ---
	case bytecode.OpI2l:
		fr.Push(heap.Long(int64(fr.Pop().AsInt())))
	case bytecode.OpI2f:
		fr.Push(heap.Float(float32(fr.Pop().AsInt())))
	case bytecode.OpI2d:
		fr.Push(heap.Double(float64(fr.Pop().AsInt())))
	case bytecode.OpL2i:
		fr.Push(heap.Int(int32(fr.Pop().AsLong())))
	case bytecode.OpL2f:
		fr.Push(heap.Float(float32(fr.Pop().AsLong())))
	case bytecode.OpL2d:
		fr.Push(heap.Double(float64(fr.Pop().AsLong())))
	case bytecode.OpF2i:
		fr.Push(heap.Int(heap.F2I(float64(fr.Pop().AsFloat()))))
	case bytecode.OpF2l:
		fr.Push(heap.Long(heap.F2L(float64(fr.Pop().AsFloat()))))
	case bytecode.OpF2d:
		fr.Push(heap.Double(float64(fr.Pop().AsFloat())))
	case bytecode.OpD2i:
		fr.Push(heap.Int(heap.F2I(fr.Pop().AsDouble())))
	case bytecode.OpD2l:
		fr.Push(heap.Long(heap.F2L(fr.Pop().AsDouble())))
	case bytecode.OpD2f:
		fr.Push(heap.Float(float32(fr.Pop().AsDouble())))
	case bytecode.OpI2b:
		fr.Push(heap.Int(int32(int8(fr.Pop().AsInt()))))
	case bytecode.OpI2c:
		fr.Push(heap.Int(int32(uint16(fr.Pop().AsInt()))))
	case bytecode.OpI2s:
		fr.Push(heap.Int(int32(int16(fr.Pop().AsInt()))))

	// --- Comparisons ---
	case bytecode.OpLcmp:
		a, b := popLongs(fr)
		switch {
		case a > b:
			fr.Push(heap.Int(1))
		case a < b:
			fr.Push(heap.Int(-1))
		default:
			fr.Push(heap.Int(0))
		}
	case bytecode.OpFcmpl, bytecode.OpFcmpg:
		a, b := popFloats(fr)
		nan := int32(-1)
		if op == bytecode.OpFcmpg {
			nan = 1
		}
		fr.Push(heap.Int(heap.Fcmp(float64(a), float64(b), nan)))
	case bytecode.OpDcmpl, bytecode.OpDcmpg:
		a, b := popDoubles(fr)
		nan := int32(-1)
		if op == bytecode.OpDcmpg {
			nan = 1
		}
		fr.Push(heap.Int(heap.Fcmp(a, b, nan)))

	// --- Branches ---
	case bytecode.OpIfeq, bytecode.OpIfne, bytecode.OpIflt, bytecode.OpIfge, bytecode.OpIfgt, bytecode.OpIfle:
		offset := fr.ReadI16()
		if compare(op-bytecode.OpIfeq, fr.Pop().AsInt(), 0) {
			fr.PC = fr.start + int(offset)
		}
	case bytecode.OpIfIcmpeq, bytecode.OpIfIcmpne, bytecode.OpIfIcmplt,
		bytecode.OpIfIcmpge, bytecode.OpIfIcmpgt, bytecode.OpIfIcmple:
		offset := fr.ReadI16()
		a, b := popInts(fr)
		if compare(op-bytecode.OpIfIcmpeq, a, b) {
			fr.PC = fr.start + int(offset)
		}
	case bytecode.OpIfAcmpeq, bytecode.OpIfAcmpne:
		offset := fr.ReadI16()
		b := fr.Pop()
		a := fr.Pop()
		if (a == b) == (op == bytecode.OpIfAcmpeq) {
			fr.PC = fr.start + int(offset)
		}
	case bytecode.OpIfnull, bytecode.OpIfnonnull:
		offset := fr.ReadI16()
		if fr.Pop().IsNull() == (op == bytecode.OpIfnull) {
			fr.PC = fr.start + int(offset)
		}
	case bytecode.OpGoto:
		offset := fr.ReadI16()
		fr.PC = fr.start + int(offset)
	case bytecode.OpGotoW:
		offset := fr.ReadI32()
		fr.PC = fr.start + int(offset)
	case bytecode.OpTableswitch:
		fr.PC += bytecode.SwitchPad(fr.start)
		dflt := fr.ReadI32()
		low := fr.ReadI32()
		high := fr.ReadI32()
		index := fr.Pop().AsInt()
		if index < low || index > high {
			fr.PC = fr.start + int(dflt)
			break
		}
		fr.PC += 4 * int(int64(index)-int64(low))
		offset := fr.ReadI32()
		fr.PC = fr.start + int(offset)
	case bytecode.OpLookupswitch:
		fr.PC += bytecode.SwitchPad(fr.start)
		dflt := fr.ReadI32()
		npairs := fr.ReadI32()
		key := fr.Pop().AsInt()
		target := fr.start + int(dflt)
		for i := int32(0); i < npairs; i++ {
			match := fr.ReadI32()
			offset := fr.ReadI32()
			if match == key {
				target = fr.start + int(offset)
				break
			}
		}
		fr.PC = target
	case bytecode.OpJsr, bytecode.OpJsrW, bytecode.OpRet:
		return 0, faultf(StatusUnsupported, "%s at pc %d of %s", bytecode.Mnemonic(op), fr.start, fr.Method)

	// --- Return ---
	case bytecode.OpIreturn, bytecode.OpLreturn, bytecode.OpFreturn, bytecode.OpDreturn, bytecode.OpAreturn:
		r.ret = fr.Pop()
		return actReturn, nil
	case bytecode.OpReturn:
		r.ret = heap.Value{}
		return actReturn, nil

	// --- Fields and invocation ---
	case bytecode.OpGetstatic, bytecode.OpPutstatic, bytecode.OpGetfield, bytecode.OpPutfield:
		return r.field(fr, op)
	case bytecode.OpInvokevirtual, bytecode.OpInvokespecial, bytecode.OpInvokestatic, bytecode.OpInvokeinterface:
		return r.invoke(fr, op)
	case bytecode.OpInvokedynamic:
		return r.invokeDynamic(fr)

	// --- Objects ---
	case bytecode.OpNew:
		name, err := classfile.GetClassName(fr.Class.ConstantPool, fr.ReadU16())
		if err != nil {
			return 0, r.fault(err)
		}
		if pending, act, err := r.ensureInit(fr, name); pending || err != nil {
			return act, err
		}
		h, err := r.heap.NewObject(name)
		if err != nil {
			return r.raise(err)
		}
		fr.Push(heap.Ref(h))
	case bytecode.OpCheckcast:
		name, err := classfile.GetClassName(fr.Class.ConstantPool, fr.ReadU16())
		if err != nil {
			return 0, r.fault(err)
		}
		v := fr.Peek(0)
		if v.IsNull() {
			break
		}
		class, err := r.heap.ClassOf(v.AsRef())
		if err != nil {
			return r.raise(err)
		}
		if !r.resolver.IsAssignable(class, name) {
			return r.throw(classClassCast, describeClass(class)+" cannot be cast to "+describeClass(name))
		}
	case bytecode.OpInstanceof:
		name, err := classfile.GetClassName(fr.Class.ConstantPool, fr.ReadU16())
		if err != nil {
			return 0, r.fault(err)
		}
		v := fr.Pop()
		if v.IsNull() {
			fr.Push(heap.Int(0))
			break
		}
		class, err := r.heap.ClassOf(v.AsRef())
		if err != nil {
			return r.raise(err)
		}
		fr.Push(heap.Bool(r.resolver.IsAssignable(class, name)))
	case bytecode.OpAthrow:
		exc := fr.Pop()
		if exc.IsNull() {
			return r.throw(native.ClassNullPointer, "")
		}
		r.exc = exc
		return actThrow, nil
	case bytecode.OpMonitorenter, bytecode.OpMonitorexit:
		if fr.Pop().IsNull() {
			return r.throw(native.ClassNullPointer, "")
		}

	default:
		return 0, faultf(StatusUnsupported, "opcode 0x%02x at pc %d of %s", op, fr.start, fr.Method)
	}
	return actNext, nil
}

// compare evaluates the condition of if<cond> and if_icmp<cond>; cond is
// the opcode's offset from ifeq or if_icmpeq.
func compare(cond byte, a, b int32) bool {
	switch cond {
	case 0:
		return a == b
	case 1:
		return a != b
	case 2:
		return a < b
	case 3:
		return a >= b
	case 4:
		return a > b
	default:
		return a <= b
	}
}

func (r *run) ldc(fr *Frame, idx uint16) (action, error) {
	v, err := r.constant(fr.Class, idx)
	if err != nil {
		return 0, err
	}
	fr.Push(v)
	return actNext, nil
}

func (r *run) wide(fr *Frame) (action, error) {
	op := fr.ReadU8()
	idx := int(fr.ReadU16())
	switch op {
	case bytecode.OpIload, bytecode.OpLload, bytecode.OpFload, bytecode.OpDload, bytecode.OpAload:
		fr.Push(fr.GetLocal(idx))
	case bytecode.OpIstore, bytecode.OpLstore, bytecode.OpFstore, bytecode.OpDstore, bytecode.OpAstore:
		fr.SetLocal(idx, fr.Pop())
	case bytecode.OpIinc:
		delta := int32(fr.ReadI16())
		fr.SetLocal(idx, heap.Int(fr.GetLocal(idx).AsInt()+delta))
	default:
		return 0, faultf(StatusUnsupported, "wide %s at pc %d of %s", bytecode.Mnemonic(op), fr.start, fr.Method)
	}
	return actNext, nil
}

func (r *run) newArray(fr *Frame, elem string, count int32) (action, error) {
	if count < 0 {
		return r.throw(native.ClassNegativeSize, strconv.Itoa(int(count)))
	}
	h, err := r.heap.NewArray(elem, int(count))
	if err != nil {
		return r.raise(err)
	}
	fr.Push(heap.Ref(h))
	return actNext, nil
}

// multiArray allocates nested arrays for an array descriptor with one
// length per allocated dimension.
func (r *run) multiArray(desc string, counts []int32) (heap.Value, error) {
	h, err := r.heap.NewArray(desc[1:], int(counts[0]))
	if err != nil {
		return heap.Value{}, err
	}
	if len(counts) > 1 {
		for i := int32(0); i < counts[0]; i++ {
			sub, err := r.multiArray(desc[1:], counts[1:])
			if err != nil {
				return heap.Value{}, err
			}
			if err := r.heap.Store(h, i, sub); err != nil {
				return heap.Value{}, err
			}
		}
	}
	return heap.Ref(h), nil
}

// checkArrayStore raises ArrayStoreException when v cannot be stored in
// the reference array arr.
func (r *run) checkArrayStore(arr, v heap.Value) (action, bool, error) {
	a, err := r.heap.Array(arr.AsRef())
	if err != nil {
		act, err := r.raise(err)
		return act, true, err
	}
	class, err := r.heap.ClassOf(v.AsRef())
	if err != nil {
		act, err := r.raise(err)
		return act, true, err
	}
	if r.resolver.IsAssignable(class, classfile.ClassNameOf(a.ElemType)) {
		return actNext, false, nil
	}
	act, err := r.throw(native.ClassArrayStore, dotted(class))
	return act, true, err
}
