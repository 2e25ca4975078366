package vm

import "testing"

func execOK(t *testing.T, prog []byte, data []byte) uint64 {
	m := New()
	defer m.Destroy()
	assert(t, m.Load(prog) == nil, "load should succeed")
	result, err := m.Exec(data, 0)
	assert(t, err == nil, "unexpected exec error: %v", err)
	return result
}

func TestALUArithmetic(t *testing.T) {
	prog := (&asm{}).movImm(R0, 10).aluImm(aluADD, R0, 5).aluImm(aluSUB, R0, 3).exit().bytes()
	result := execOK(t, prog, nil)
	assert(t, result == 12, "expected 10+5-3=12, got %d", result)
}

func TestDivisionByZeroReturnsZero(t *testing.T) {
	prog := (&asm{}).movImm(R0, 10).aluImm(aluDIV, R0, 0).exit().bytes()
	result := execOK(t, prog, nil)
	assert(t, result == 0, "division by zero should yield 0, got %d", result)
}

func TestModuloByZeroReturnsDividend(t *testing.T) {
	prog := (&asm{}).movImm(R0, 17).aluImm(aluMOD, R0, 0).exit().bytes()
	result := execOK(t, prog, nil)
	assert(t, result == 17, "modulo by zero should yield the dividend, got %d", result)
}

func TestShiftsMaskCountToOperandWidth(t *testing.T) {
	// 64-bit shift count is masked to 6 bits: a shift by 64 is a shift by 0.
	prog := (&asm{}).movImm(R0, 1).aluImm(aluLSH, R0, 64).exit().bytes()
	result := execOK(t, prog, nil)
	assert(t, result == 1, "shift by 64 should mask to a shift by 0, got %d", result)
}

func TestArithmeticShiftPreservesSign(t *testing.T) {
	prog := (&asm{}).lddw(R0, 0xFFFFFFFFFFFFFFF0).aluImm(aluARSH, R0, 4).exit().bytes()
	result := execOK(t, prog, nil)
	assert(t, int64(result) == -1, "arithmetic shift of -16 by 4 should be -1, got %d", int64(result))
}

func TestLDDWLoadsFull64BitImmediate(t *testing.T) {
	prog := (&asm{}).lddw(R0, 0x1122334455667788).exit().bytes()
	result := execOK(t, prog, nil)
	assert(t, result == 0x1122334455667788, "lddw did not reassemble the 64-bit immediate, got %#x", result)
}

func TestConditionalJumpTaken(t *testing.T) {
	a := &asm{}
	a.movImm(R0, 0)
	a.jump(jmpJEQ, R0, 0, 1) // r0 == 0, jump over the next instruction
	a.movImm(R0, 99)
	a.exit()
	result := execOK(t, a.bytes(), nil)
	assert(t, result == 0, "conditional jump should have skipped the mov, got %d", result)
}

func TestConditionalJumpNotTaken(t *testing.T) {
	a := &asm{}
	a.movImm(R0, 1)
	a.jump(jmpJEQ, R0, 0, 1)
	a.movImm(R0, 99)
	a.exit()
	result := execOK(t, a.bytes(), nil)
	assert(t, result == 99, "r0 != 0 so the jump should not have been taken, got %d", result)
}

func TestLoadStoreDataBuffer(t *testing.T) {
	a := &asm{}
	a.movImm(R1, 0) // base address into data
	a.st(sizeDW, R1, 0, 123)
	a.ld(sizeDW, R0, R1, 0)
	a.exit()

	data := make([]byte, 64)
	result := execOK(t, a.bytes(), data)
	assert(t, result == 123, "expected to read back the stored value, got %d", result)
}

func TestLocalCallReturnsToCaller(t *testing.T) {
	a := &asm{}
	a.localCall(1) // call pc 2
	a.exit()
	a.movImm(R0, 55) // callee, pc 2
	a.exit()

	result := execOK(t, a.bytes(), nil)
	assert(t, result == 55, "expected local call to set R0 via callee, got %d", result)
}

func TestCALLXDispatchesHelperByRegisterIndex(t *testing.T) {
	m := New()
	defer m.Destroy()
	err := m.RegisterHelper(5, "double", func(a0, a1, a2, a3, a4, cookie uint64) uint64 {
		return a0 * 2
	})
	assert(t, err == nil, "register helper should succeed")

	a := &asm{}
	a.movImm(R1, 21)
	a.movImm(R3, 5) // helper index lives in a register, not the immediate field
	a.callx(R3)
	a.exit()

	assert(t, m.Load(a.bytes()) == nil, "load should succeed")
	result, err := m.Exec(nil, 0)
	assert(t, err == nil, "unexpected exec error: %v", err)
	assert(t, result == 42, "expected CALLX to dispatch helper 5 via R3 and double R1, got %d", result)
}

func TestByteswapBE(t *testing.T) {
	prog := (&asm{}).movImm(R0, 0x01020304).add(Instruction{Opcode: OpBE, Dst: R0, Imm: 32}).exit().bytes()
	result := execOK(t, prog, nil)
	assert(t, uint32(result) == 0x04030201, "BE(0x01020304) at width 32 should byteswap, got %#x", result)
}

func TestAtomicFetchAdd(t *testing.T) {
	a := &asm{}
	a.movImm(R1, 0)
	a.st(sizeDW, R1, 0, 10)
	a.movImm(R2, 5)
	a.add(Instruction{Opcode: classSTX | sizeDW | modeATOMIC, Dst: R1, Src: R2, Imm: int32(AtomicADD | AtomicFetch)})
	a.ld(sizeDW, R0, R1, 0)
	a.exit()

	data := make([]byte, 64)
	result := execOK(t, a.bytes(), data)
	assert(t, result == 15, "expected memory to hold 10+5=15 after fetch-add, got %d", result)
}
