package bytecode

import (
	"encoding/binary"
	"fmt"
)

// operandBytes lists fixed operand sizes; -1 marks variable-length opcodes.
var operandBytes [256]int8

func init() {
	for _, op := range []byte{OpBipush, OpLdc, OpIload, OpLload, OpFload, OpDload, OpAload,
		OpIstore, OpLstore, OpFstore, OpDstore, OpAstore, OpRet, OpNewarray} {
		operandBytes[op] = 1
	}
	for _, op := range []byte{OpSipush, OpLdcW, OpLdc2W, OpIinc, OpGetstatic, OpPutstatic,
		OpGetfield, OpPutfield, OpInvokevirtual, OpInvokespecial, OpInvokestatic, OpNew,
		OpAnewarray, OpCheckcast, OpInstanceof, OpIfnull, OpIfnonnull, OpGoto, OpJsr} {
		operandBytes[op] = 2
	}
	for op := OpIfeq; op <= OpIfAcmpne; op++ {
		operandBytes[op] = 2
	}
	operandBytes[OpMultianewarray] = 3
	operandBytes[OpInvokeinterface] = 4
	operandBytes[OpInvokedynamic] = 4
	operandBytes[OpGotoW] = 4
	operandBytes[OpJsrW] = 4
	operandBytes[OpTableswitch] = -1
	operandBytes[OpLookupswitch] = -1
	operandBytes[OpWide] = -1
	for op := OpJsrW + 1; op < 256; op++ {
		operandBytes[op] = -2
	}
}

// SwitchPad returns the number of padding bytes following a tableswitch or
// lookupswitch opcode at pc, so the first operand is 4-byte aligned.
func SwitchPad(pc int) int {
	return (4 - (pc+1)%4) % 4
}

// InstructionLength returns the encoded size of the instruction at pc.
func InstructionLength(code []byte, pc int) (int, error) {
	if pc < 0 || pc >= len(code) {
		return 0, fmt.Errorf("pc %d outside code of length %d", pc, len(code))
	}
	op := code[pc]
	n := operandBytes[op]
	switch {
	case n >= 0:
		return 1 + int(n), nil
	case n == -2:
		return 0, fmt.Errorf("invalid opcode 0x%02x at pc %d", op, pc)
	}

	switch op {
	case OpWide:
		if pc+1 >= len(code) {
			return 0, fmt.Errorf("truncated wide at pc %d", pc)
		}
		if code[pc+1] == OpIinc {
			return 6, nil
		}
		return 4, nil
	case OpTableswitch:
		base := pc + 1 + SwitchPad(pc)
		if base+12 > len(code) {
			return 0, fmt.Errorf("truncated tableswitch at pc %d", pc)
		}
		low := int32(binary.BigEndian.Uint32(code[base+4:]))
		high := int32(binary.BigEndian.Uint32(code[base+8:]))
		if high < low {
			return 0, fmt.Errorf("tableswitch at pc %d has high < low", pc)
		}
		return base - pc + 12 + 4*int(int64(high)-int64(low)+1), nil
	case OpLookupswitch:
		base := pc + 1 + SwitchPad(pc)
		if base+8 > len(code) {
			return 0, fmt.Errorf("truncated lookupswitch at pc %d", pc)
		}
		npairs := int32(binary.BigEndian.Uint32(code[base+4:]))
		if npairs < 0 {
			return 0, fmt.Errorf("lookupswitch at pc %d has negative npairs", pc)
		}
		return base - pc + 8 + 8*int(npairs), nil
	}
	return 0, fmt.Errorf("invalid opcode 0x%02x at pc %d", op, pc)
}

// Instruction is one decoded position in a code array.
type Instruction struct {
	PC     int
	Opcode byte
	Length int
}

// Decode walks the code array and returns every instruction in order.
func Decode(code []byte) ([]Instruction, error) {
	var out []Instruction
	for pc := 0; pc < len(code); {
		n, err := InstructionLength(code, pc)
		if err != nil {
			return out, err
		}
		if pc+n > len(code) {
			return out, fmt.Errorf("instruction at pc %d runs past end of code", pc)
		}
		out = append(out, Instruction{PC: pc, Opcode: code[pc], Length: n})
		pc += n
	}
	return out, nil
}

// BranchTargets returns the absolute targets of a branch instruction, or
// nil when the instruction does not branch.
func BranchTargets(code []byte, in Instruction) []int {
	pc := in.PC
	switch op := in.Opcode; {
	case op >= OpIfeq && op <= OpJsr, op == OpIfnull, op == OpIfnonnull:
		return []int{pc + int(int16(binary.BigEndian.Uint16(code[pc+1:])))}
	case op == OpGotoW || op == OpJsrW:
		return []int{pc + int(int32(binary.BigEndian.Uint32(code[pc+1:])))}
	case op == OpTableswitch:
		base := pc + 1 + SwitchPad(pc)
		targets := []int{pc + int(int32(binary.BigEndian.Uint32(code[base:])))}
		low := int32(binary.BigEndian.Uint32(code[base+4:]))
		high := int32(binary.BigEndian.Uint32(code[base+8:]))
		for i := 0; i <= int(high-low); i++ {
			targets = append(targets, pc+int(int32(binary.BigEndian.Uint32(code[base+12+4*i:]))))
		}
		return targets
	case op == OpLookupswitch:
		base := pc + 1 + SwitchPad(pc)
		targets := []int{pc + int(int32(binary.BigEndian.Uint32(code[base:])))}
		npairs := int(int32(binary.BigEndian.Uint32(code[base+4:])))
		for i := 0; i < npairs; i++ {
			targets = append(targets, pc+int(int32(binary.BigEndian.Uint32(code[base+12+8*i:]))))
		}
		return targets
	}
	return nil
}
