package vm

import (
	"math"
	"testing"

	"github.com/daimatz/jvmexec/pkg/asm"
	"github.com/daimatz/jvmexec/pkg/bytecode"
	"github.com/daimatz/jvmexec/pkg/heap"
)

func TestIntConstants(t *testing.T) {
	tests := []struct {
		name string
		val  int32
	}{
		{"iconst_m1", -1},
		{"iconst_0", 0},
		{"iconst_5", 5},
		{"bipush positive", 42},
		{"bipush min_byte", -128},
		{"sipush", 1000},
		{"sipush negative", -32768},
		{"ldc", 1 << 20},
		{"ldc min_int", math.MinInt32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := executeAndGetInt(t, "()I", func(m *asm.Method) {
				m.Int(tt.val).Op(bytecode.OpIreturn)
			})
			if got != tt.val {
				t.Errorf("got %d, want %d", got, tt.val)
			}
		})
	}
}

func TestIntArithmetic(t *testing.T) {
	tests := []struct {
		name string
		a, b int32
		op   byte
		want int32
	}{
		{"iadd", 10, 20, bytecode.OpIadd, 30},
		{"iadd overflow", math.MaxInt32, 1, bytecode.OpIadd, math.MinInt32},
		{"isub", 5, 8, bytecode.OpIsub, -3},
		{"imul", -6, 7, bytecode.OpImul, -42},
		{"imul overflow", 65536, 65536, bytecode.OpImul, 0},
		{"idiv truncates", -7, 2, bytecode.OpIdiv, -3},
		{"idiv min_int by -1", math.MinInt32, -1, bytecode.OpIdiv, math.MinInt32},
		{"irem sign of dividend", -7, 3, bytecode.OpIrem, -1},
		{"ishl masks count", 1, 33, bytecode.OpIshl, 2},
		{"ishr keeps sign", -16, 2, bytecode.OpIshr, -4},
		{"iushr", -1, 28, bytecode.OpIushr, 15},
		{"iand", 0b1100, 0b1010, bytecode.OpIand, 0b1000},
		{"ior", 0b1100, 0b1010, bytecode.OpIor, 0b1110},
		{"ixor", 0b1100, 0b1010, bytecode.OpIxor, 0b0110},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := executeAndGetInt(t, "(II)I", func(m *asm.Method) {
				m.Op(bytecode.OpIload0, bytecode.OpIload1, tt.op, bytecode.OpIreturn)
			}, heap.Int(tt.a), heap.Int(tt.b))
			if got != tt.want {
				t.Errorf("%d op %d: got %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestLongArithmetic(t *testing.T) {
	tests := []struct {
		name string
		a, b int64
		op   byte
		want int64
	}{
		{"ladd", 1 << 40, 1 << 40, bytecode.OpLadd, 1 << 41},
		{"lsub", 0, math.MinInt64, bytecode.OpLsub, math.MinInt64},
		{"lmul", 1 << 32, 1 << 32, bytecode.OpLmul, 0},
		{"ldiv", -9, 4, bytecode.OpLdiv, -2},
		{"lrem", -9, 4, bytecode.OpLrem, -1},
		{"land", 0xFF00FF00FF, 0x0F0F0F0F0F, bytecode.OpLand, 0x0F000F000F},
		{"lxor", -1, 1, bytecode.OpLxor, -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := executeBoth(t, "(JJ)J", func(m *asm.Method) {
				m.Op(bytecode.OpLload0, bytecode.OpLload2, tt.op, bytecode.OpLreturn)
			}, heap.Long(tt.a), heap.Long(tt.b))
			if res.Status != StatusSuccess {
				t.Fatalf("status %s: %s", res.Status, res.Detail)
			}
			if got := res.ReturnValue.AsLong(); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLongShifts(t *testing.T) {
	tests := []struct {
		name  string
		a     int64
		shift int32
		op    byte
		want  int64
	}{
		{"lshl", 1, 40, bytecode.OpLshl, 1 << 40},
		{"lshl masks count", 1, 65, bytecode.OpLshl, 2},
		{"lshr", -1 << 40, 8, bytecode.OpLshr, -1 << 32},
		{"lushr", -1, 60, bytecode.OpLushr, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := executeBoth(t, "(JI)J", func(m *asm.Method) {
				m.Op(bytecode.OpLload0, bytecode.OpIload2, tt.op, bytecode.OpLreturn)
			}, heap.Long(tt.a), heap.Int(tt.shift))
			if got := res.ReturnValue.AsLong(); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestConversions(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name string
		arg  heap.Value
		desc string
		ops  []byte
		want heap.Value
	}{
		{"i2b", heap.Int(200), "(I)I", []byte{bytecode.OpIload0, bytecode.OpI2b, bytecode.OpIreturn}, heap.Int(-56)},
		{"i2c", heap.Int(-1), "(I)I", []byte{bytecode.OpIload0, bytecode.OpI2c, bytecode.OpIreturn}, heap.Int(65535)},
		{"i2s", heap.Int(40000), "(I)I", []byte{bytecode.OpIload0, bytecode.OpI2s, bytecode.OpIreturn}, heap.Int(-25536)},
		{"l2i truncates", heap.Long(1<<32 + 7), "(J)I", []byte{bytecode.OpLload0, bytecode.OpL2i, bytecode.OpIreturn}, heap.Int(7)},
		{"d2i NaN", heap.Double(nan), "(D)I", []byte{bytecode.OpDload0, bytecode.OpD2i, bytecode.OpIreturn}, heap.Int(0)},
		{"d2i saturates", heap.Double(1e20), "(D)I", []byte{bytecode.OpDload0, bytecode.OpD2i, bytecode.OpIreturn}, heap.Int(math.MaxInt32)},
		{"d2i negative saturates", heap.Double(-1e20), "(D)I", []byte{bytecode.OpDload0, bytecode.OpD2i, bytecode.OpIreturn}, heap.Int(math.MinInt32)},
		{"d2l truncates toward zero", heap.Double(-2.9), "(D)J", []byte{bytecode.OpDload0, bytecode.OpD2l, bytecode.OpLreturn}, heap.Long(-2)},
		{"f2i", heap.Float(3.99), "(F)I", []byte{bytecode.OpFload0, bytecode.OpF2i, bytecode.OpIreturn}, heap.Int(3)},
		{"i2d", heap.Int(-5), "(I)D", []byte{bytecode.OpIload0, bytecode.OpI2d, bytecode.OpDreturn}, heap.Double(-5)},
		{"i2l sign extends", heap.Int(-1), "(I)J", []byte{bytecode.OpIload0, bytecode.OpI2l, bytecode.OpLreturn}, heap.Long(-1)},
		{"d2f", heap.Double(0.5), "(D)F", []byte{bytecode.OpDload0, bytecode.OpD2f, bytecode.OpFreturn}, heap.Float(0.5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := executeBoth(t, tt.desc, func(m *asm.Method) {
				m.Op(tt.ops...)
			}, tt.arg)
			if res.Status != StatusSuccess {
				t.Fatalf("status %s: %s", res.Status, res.Detail)
			}
			if res.ReturnValue != tt.want {
				t.Errorf("got %v, want %v", res.ReturnValue, tt.want)
			}
		})
	}
}

func TestComparisons(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name string
		desc string
		args []heap.Value
		ops  []byte
		want int32
	}{
		{"lcmp less", "(JJ)I", []heap.Value{heap.Long(1), heap.Long(2)}, []byte{bytecode.OpLload0, bytecode.OpLload2, bytecode.OpLcmp, bytecode.OpIreturn}, -1},
		{"lcmp equal", "(JJ)I", []heap.Value{heap.Long(5), heap.Long(5)}, []byte{bytecode.OpLload0, bytecode.OpLload2, bytecode.OpLcmp, bytecode.OpIreturn}, 0},
		{"lcmp greater", "(JJ)I", []heap.Value{heap.Long(-1), heap.Long(math.MinInt64)}, []byte{bytecode.OpLload0, bytecode.OpLload2, bytecode.OpLcmp, bytecode.OpIreturn}, 1},
		{"fcmpl NaN", "(FF)I", []heap.Value{heap.Float(float32(nan)), heap.Float(1)}, []byte{bytecode.OpFload0, bytecode.OpFload1, bytecode.OpFcmpl, bytecode.OpIreturn}, -1},
		{"fcmpg NaN", "(FF)I", []heap.Value{heap.Float(float32(nan)), heap.Float(1)}, []byte{bytecode.OpFload0, bytecode.OpFload1, bytecode.OpFcmpg, bytecode.OpIreturn}, 1},
		{"dcmpl", "(DD)I", []heap.Value{heap.Double(2), heap.Double(1)}, []byte{bytecode.OpDload0, bytecode.OpDload2, bytecode.OpDcmpl, bytecode.OpIreturn}, 1},
		{"dcmpg NaN", "(DD)I", []heap.Value{heap.Double(1), heap.Double(nan)}, []byte{bytecode.OpDload0, bytecode.OpDload2, bytecode.OpDcmpg, bytecode.OpIreturn}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := executeAndGetInt(t, tt.desc, func(m *asm.Method) {
				m.Op(tt.ops...)
			}, tt.args...)
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStackOps(t *testing.T) {
	tests := []struct {
		name string
		body func(m *asm.Method)
		want int32
	}{
		{"dup", func(m *asm.Method) {
			m.Int(21).Op(bytecode.OpDup, bytecode.OpIadd, bytecode.OpIreturn)
		}, 42},
		{"swap", func(m *asm.Method) {
			m.Int(10).Int(3).Op(bytecode.OpSwap, bytecode.OpIsub, bytecode.OpIreturn)
		}, -7},
		{"dup_x1", func(m *asm.Method) {
			// 1 2 -> 2 1 2
			m.Int(1).Int(2).Op(bytecode.OpDupX1, bytecode.OpIsub, bytecode.OpIsub, bytecode.OpIreturn)
		}, 3},
		{"pop2 two ints", func(m *asm.Method) {
			m.Int(7).Int(1).Int(2).Op(bytecode.OpPop2, bytecode.OpIreturn)
		}, 7},
		{"pop2 one long", func(m *asm.Method) {
			m.Int(7).Long(1).Op(bytecode.OpPop2, bytecode.OpIreturn)
		}, 7},
		{"dup2 long", func(m *asm.Method) {
			m.Long(1).Op(bytecode.OpDup2, bytecode.OpLadd, bytecode.OpL2i, bytecode.OpIreturn)
		}, 2},
		{"dup2 two ints", func(m *asm.Method) {
			// 3 4 -> 3 4 3 4
			m.Int(3).Int(4).Op(bytecode.OpDup2, bytecode.OpImul, bytecode.OpIsub, bytecode.OpIsub, bytecode.OpIreturn)
		}, 3 - (4 - 12)},
		{"dup_x2 under a long", func(m *asm.Method) {
			// L 5 -> 5 L 5
			m.Long(1).Int(5).Op(bytecode.OpDupX2, bytecode.OpPop, bytecode.OpPop2, bytecode.OpIreturn)
		}, 5},
		{"dup2_x1 long", func(m *asm.Method) {
			// 9 L -> L 9 L
			m.Int(9).Long(1).Op(bytecode.OpDup2X1, bytecode.OpPop2, bytecode.OpIstore0)
			m.Op(bytecode.OpL2i, bytecode.OpIload0, bytecode.OpIadd, bytecode.OpIreturn)
		}, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := executeAndGetInt(t, "()I", tt.body)
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBranches(t *testing.T) {
	t.Run("loop sums 1..10", func(t *testing.T) {
		got := executeAndGetInt(t, "()I", func(m *asm.Method) {
			loop, done := m.NewLabel(), m.NewLabel()
			m.Int(0).Op(bytecode.OpIstore0) // sum
			m.Int(1).Op(bytecode.OpIstore1) // i
			m.Mark(loop)
			m.Op(bytecode.OpIload1).Int(10).Jump(bytecode.OpIfIcmpgt, done)
			m.Op(bytecode.OpIload0, bytecode.OpIload1, bytecode.OpIadd, bytecode.OpIstore0)
			m.Iinc(1, 1)
			m.Jump(bytecode.OpGoto, loop)
			m.Mark(done)
			m.Op(bytecode.OpIload0, bytecode.OpIreturn)
		})
		if got != 55 {
			t.Errorf("got %d, want 55", got)
		}
	})

	conds := []struct {
		name string
		op   byte
		arg  int32
		want int32
	}{
		{"ifeq taken", bytecode.OpIfeq, 0, 1},
		{"ifeq not taken", bytecode.OpIfeq, 3, 0},
		{"ifne", bytecode.OpIfne, 3, 1},
		{"iflt", bytecode.OpIflt, -1, 1},
		{"ifge at zero", bytecode.OpIfge, 0, 1},
		{"ifgt at zero", bytecode.OpIfgt, 0, 0},
		{"ifle", bytecode.OpIfle, 1, 0},
	}
	for _, tt := range conds {
		t.Run(tt.name, func(t *testing.T) {
			got := executeAndGetInt(t, "(I)I", func(m *asm.Method) {
				yes := m.NewLabel()
				m.Op(bytecode.OpIload0).Jump(tt.op, yes)
				m.Int(0).Op(bytecode.OpIreturn)
				m.Mark(yes)
				m.Int(1).Op(bytecode.OpIreturn)
			}, heap.Int(tt.arg))
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}

	t.Run("goto_w", func(t *testing.T) {
		got := executeAndGetInt(t, "()I", func(m *asm.Method) {
			end := m.NewLabel()
			m.Jump(bytecode.OpGotoW, end)
			m.Int(1).Op(bytecode.OpIreturn)
			m.Mark(end)
			m.Int(2).Op(bytecode.OpIreturn)
		})
		if got != 2 {
			t.Errorf("got %d, want 2", got)
		}
	})

	t.Run("ifnull and if_acmp", func(t *testing.T) {
		got := executeAndGetInt(t, "()I", func(m *asm.Method) {
			isNull, same := m.NewLabel(), m.NewLabel()
			m.Op(bytecode.OpAconstNull).Jump(bytecode.OpIfnull, isNull)
			m.Int(-1).Op(bytecode.OpIreturn)
			m.Mark(isNull)
			m.String("a").String("a").Jump(bytecode.OpIfAcmpeq, same)
			m.Int(-2).Op(bytecode.OpIreturn)
			m.Mark(same)
			m.Int(1).Op(bytecode.OpIreturn)
		})
		if got != 1 {
			t.Errorf("got %d, want 1", got)
		}
	})
}

func TestSwitches(t *testing.T) {
	table := func(m *asm.Method) {
		dflt, a, b, c := m.NewLabel(), m.NewLabel(), m.NewLabel(), m.NewLabel()
		m.Op(bytecode.OpIload0).TableSwitch(1, dflt, a, b, c)
		m.Mark(a).Int(10).Op(bytecode.OpIreturn)
		m.Mark(b).Int(20).Op(bytecode.OpIreturn)
		m.Mark(c).Int(30).Op(bytecode.OpIreturn)
		m.Mark(dflt).Int(-1).Op(bytecode.OpIreturn)
	}
	lookup := func(m *asm.Method) {
		dflt, a, b := m.NewLabel(), m.NewLabel(), m.NewLabel()
		m.Op(bytecode.OpNop, bytecode.OpIload0).LookupSwitch(dflt, map[int32]*asm.Label{-100: a, 7: b})
		m.Mark(a).Int(1).Op(bytecode.OpIreturn)
		m.Mark(b).Int(2).Op(bytecode.OpIreturn)
		m.Mark(dflt).Int(0).Op(bytecode.OpIreturn)
	}

	tests := []struct {
		name string
		body func(*asm.Method)
		key  int32
		want int32
	}{
		{"tableswitch low", table, 1, 10},
		{"tableswitch high", table, 3, 30},
		{"tableswitch below", table, 0, -1},
		{"tableswitch above", table, 4, -1},
		{"lookupswitch negative key", lookup, -100, 1},
		{"lookupswitch", lookup, 7, 2},
		{"lookupswitch default", lookup, 8, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := executeAndGetInt(t, "(I)I", tt.body, heap.Int(tt.key))
			if got != tt.want {
				t.Errorf("key %d: got %d, want %d", tt.key, got, tt.want)
			}
		})
	}
}

func TestWideLocals(t *testing.T) {
	got := executeAndGetInt(t, "()I", func(m *asm.Method) {
		m.MaxLocals(400)
		m.Int(5).Var(bytecode.OpIstore, 300)
		m.Iinc(300, 1000)
		m.Long(1).Var(bytecode.OpLstore, 298)
		m.Var(bytecode.OpIload, 300).Op(bytecode.OpIreturn)
	})
	if got != 1005 {
		t.Errorf("got %d, want 1005", got)
	}
}

func TestArrays(t *testing.T) {
	tests := []struct {
		name string
		body func(*asm.Method)
		want int32
	}{
		{"int array store and load", func(m *asm.Method) {
			m.Int(3).NewArray(10).Op(bytecode.OpAstore0)
			m.Op(bytecode.OpAload0).Int(2).Int(99).Op(bytecode.OpIastore)
			m.Op(bytecode.OpAload0).Int(2).Op(bytecode.OpIaload, bytecode.OpIreturn)
		}, 99},
		{"arraylength", func(m *asm.Method) {
			m.Int(17).NewArray(8).Op(bytecode.OpArraylength, bytecode.OpIreturn)
		}, 17},
		{"bastore narrows", func(m *asm.Method) {
			m.Int(1).NewArray(8).Op(bytecode.OpAstore0)
			m.Op(bytecode.OpAload0).Int(0).Int(300).Op(bytecode.OpBastore)
			m.Op(bytecode.OpAload0).Int(0).Op(bytecode.OpBaload, bytecode.OpIreturn)
		}, 44},
		{"castore narrows", func(m *asm.Method) {
			m.Int(1).NewArray(5).Op(bytecode.OpAstore0)
			m.Op(bytecode.OpAload0).Int(0).Int(-1).Op(bytecode.OpCastore)
			m.Op(bytecode.OpAload0).Int(0).Op(bytecode.OpCaload, bytecode.OpIreturn)
		}, 65535},
		{"new arrays are zeroed", func(m *asm.Method) {
			m.Int(4).NewArray(10).Int(3).Op(bytecode.OpIaload, bytecode.OpIreturn)
		}, 0},
		{"anewarray holds nulls", func(m *asm.Method) {
			yes := m.NewLabel()
			m.Int(2).Type(bytecode.OpAnewarray, "java/lang/String").Int(1).Op(bytecode.OpAaload).Jump(bytecode.OpIfnull, yes)
			m.Int(0).Op(bytecode.OpIreturn)
			m.Mark(yes).Int(1).Op(bytecode.OpIreturn)
		}, 1},
		{"multianewarray", func(m *asm.Method) {
			m.Int(3).Int(4).MultiANewArray("[[I", 2).Op(bytecode.OpAstore0)
			m.Op(bytecode.OpAload0).Int(2).Op(bytecode.OpAaload, bytecode.OpArraylength)
			m.Op(bytecode.OpAload0).Op(bytecode.OpArraylength, bytecode.OpImul, bytecode.OpIreturn)
		}, 12},
		{"multianewarray partial", func(m *asm.Method) {
			yes := m.NewLabel()
			m.Int(3).MultiANewArray("[[I", 1).Int(0).Op(bytecode.OpAaload).Jump(bytecode.OpIfnull, yes)
			m.Int(0).Op(bytecode.OpIreturn)
			m.Mark(yes).Int(1).Op(bytecode.OpIreturn)
		}, 1},
		{"clone", func(m *asm.Method) {
			m.Int(2).NewArray(10).Op(bytecode.OpAstore0)
			m.Op(bytecode.OpAload0).Int(1).Int(8).Op(bytecode.OpIastore)
			m.Op(bytecode.OpAload0).Invoke(bytecode.OpInvokevirtual, "[I", "clone", "()Ljava/lang/Object;")
			m.Type(bytecode.OpCheckcast, "[I").Op(bytecode.OpAstore1)
			m.Op(bytecode.OpAload0).Int(1).Int(0).Op(bytecode.OpIastore)
			m.Op(bytecode.OpAload1).Int(1).Op(bytecode.OpIaload, bytecode.OpIreturn)
		}, 8},
		{"long array", func(m *asm.Method) {
			m.Int(1).NewArray(11).Op(bytecode.OpAstore0)
			m.Op(bytecode.OpAload0).Int(0).Long(1).Op(bytecode.OpLastore)
			m.Op(bytecode.OpAload0).Int(0).Op(bytecode.OpLaload, bytecode.OpL2i, bytecode.OpIreturn)
		}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := executeAndGetInt(t, "()I", tt.body)
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEngineRaisedExceptions(t *testing.T) {
	tests := []struct {
		name    string
		body    func(*asm.Method)
		class   string
		message string
	}{
		{"idiv by zero", func(m *asm.Method) {
			m.Int(1).Int(0).Op(bytecode.OpIdiv, bytecode.OpIreturn)
		}, "java/lang/ArithmeticException", "/ by zero"},
		{"lrem by zero", func(m *asm.Method) {
			m.Long(1).Long(0).Op(bytecode.OpLrem, bytecode.OpL2i, bytecode.OpIreturn)
		}, "java/lang/ArithmeticException", "/ by zero"},
		{"array index", func(m *asm.Method) {
			m.Int(2).NewArray(10).Int(2).Op(bytecode.OpIaload, bytecode.OpIreturn)
		}, "java/lang/ArrayIndexOutOfBoundsException", "Index 2 out of bounds for length 2"},
		{"negative index", func(m *asm.Method) {
			m.Int(2).NewArray(10).Int(-1).Int(0).Op(bytecode.OpIastore).Int(0).Op(bytecode.OpIreturn)
		}, "java/lang/ArrayIndexOutOfBoundsException", "Index -1 out of bounds for length 2"},
		{"negative array size", func(m *asm.Method) {
			m.Int(-3).NewArray(10).Op(bytecode.OpArraylength, bytecode.OpIreturn)
		}, "java/lang/NegativeArraySizeException", "-3"},
		{"arraylength of null", func(m *asm.Method) {
			m.Op(bytecode.OpAconstNull, bytecode.OpArraylength, bytecode.OpIreturn)
		}, "java/lang/NullPointerException", ""},
		{"athrow null", func(m *asm.Method) {
			m.Op(bytecode.OpAconstNull, bytecode.OpAthrow)
		}, "java/lang/NullPointerException", ""},
		{"checkcast", func(m *asm.Method) {
			m.String("s").Type(bytecode.OpCheckcast, "java/lang/Integer").Op(bytecode.OpPop).Int(0).Op(bytecode.OpIreturn)
		}, "java/lang/ClassCastException", "class java.lang.String cannot be cast to class java.lang.Integer"},
		{"array store", func(m *asm.Method) {
			m.Int(1).Type(bytecode.OpAnewarray, "java/lang/Integer").Int(0).String("s").Op(bytecode.OpAastore).Int(0).Op(bytecode.OpIreturn)
		}, "java/lang/ArrayStoreException", "java.lang.String"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectException(t, "()I", tt.body, tt.class, tt.message)
		})
	}
}

func TestTypeChecks(t *testing.T) {
	tests := []struct {
		name string
		body func(*asm.Method)
		want int32
	}{
		{"instanceof String as CharSequence", func(m *asm.Method) {
			m.String("x").Type(bytecode.OpInstanceof, "java/lang/CharSequence").Op(bytecode.OpIreturn)
		}, 1},
		{"instanceof null", func(m *asm.Method) {
			m.Op(bytecode.OpAconstNull).Type(bytecode.OpInstanceof, "java/lang/Object").Op(bytecode.OpIreturn)
		}, 0},
		{"instanceof unrelated", func(m *asm.Method) {
			m.String("x").Type(bytecode.OpInstanceof, "java/lang/Integer").Op(bytecode.OpIreturn)
		}, 0},
		{"int array is Object and Cloneable", func(m *asm.Method) {
			m.Int(1).NewArray(10).Op(bytecode.OpDup).Type(bytecode.OpInstanceof, "java/lang/Object")
			m.Op(bytecode.OpSwap).Type(bytecode.OpInstanceof, "java/lang/Cloneable").Op(bytecode.OpIadd, bytecode.OpIreturn)
		}, 2},
		{"String[] is Object[]", func(m *asm.Method) {
			m.Int(1).Type(bytecode.OpAnewarray, "java/lang/String").Type(bytecode.OpInstanceof, "[Ljava/lang/Object;").Op(bytecode.OpIreturn)
		}, 1},
		{"checkcast null passes", func(m *asm.Method) {
			m.Op(bytecode.OpAconstNull).Type(bytecode.OpCheckcast, "java/lang/Integer").Op(bytecode.OpPop).Int(1).Op(bytecode.OpIreturn)
		}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := executeAndGetInt(t, "()I", tt.body)
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestUnsupportedInstructions(t *testing.T) {
	tests := []struct {
		name string
		body func(*asm.Method)
	}{
		{"jsr", func(m *asm.Method) {
			sub := m.NewLabel()
			m.Jump(bytecode.OpJsr, sub)
			m.Mark(sub).Op(bytecode.OpReturn)
		}},
		{"reserved opcode", func(m *asm.Method) { m.Op(0xCB, bytecode.OpReturn) }},
		{"stack underflow", func(m *asm.Method) { m.Op(bytecode.OpPop, bytecode.OpReturn) }},
		{"falls off the end", func(m *asm.Method) { m.Op(bytecode.OpNop) }},
		{"bad local", func(m *asm.Method) { m.MaxLocals(1).Op(bytecode.OpIload3, bytecode.OpPop, bytecode.OpReturn) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := executeBoth(t, "()V", tt.body)
			if res.Status != StatusUnsupported {
				t.Errorf("status: got %s (%s), want UNSUPPORTED", res.Status, res.Detail)
			}
			if res.Detail == "" {
				t.Error("missing detail")
			}
		})
	}
}
