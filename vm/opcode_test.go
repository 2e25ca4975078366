package vm

import "testing"

func TestOpcodeTableCoversExportedConstants(t *testing.T) {
	ops := []uint8{
		OpLDDW, OpLDXW, OpLDXH, OpLDXB, OpLDXDW, OpLDXSW, OpLDXSH, OpLDXSB,
		OpSTW, OpSTH, OpSTB, OpSTDW,
		OpSTXW, OpSTXH, OpSTXB, OpSTXDW,
		OpAtomic32, OpAtomic64,
		OpJA, OpJA32, OpCALL, OpCALLX, OpEXIT,
		OpLE, OpBE, OpBSWAP,
	}
	for _, op := range ops {
		assert(t, opcodeTable[op] != nil, "opcode 0x%02x has no table entry", op)
	}
}

func TestRegisterPredicates(t *testing.T) {
	assert(t, regLow(0) && regLow(9) && !regLow(10), "regLow boundary wrong")
	assert(t, regAny(10) && !regAny(11), "regAny boundary wrong")
}

func TestFits16Fits32(t *testing.T) {
	assert(t, fits16(32767) && fits16(-32768) && !fits16(32768), "fits16 boundary wrong")
	assert(t, fits32(1<<31-1) && fits32(-(1<<31)) && !fits32(1<<31), "fits32 boundary wrong")
}

func TestAtomicOpPredicate(t *testing.T) {
	assert(t, atomicOp(AtomicADD), "plain add should be a valid atomic op")
	assert(t, atomicOp(AtomicADD|AtomicFetch), "fetch-add should be a valid atomic op")
	assert(t, atomicOp(AtomicCMPXCHG), "cmpxchg should be a valid atomic op")
	assert(t, !atomicOp(0x99), "0x99 is not a defined atomic sub-op")
}

func TestIsLocalCallVsHelperCall(t *testing.T) {
	local := Instruction{Opcode: OpCALL, Src: 1, Imm: 3}
	helper := Instruction{Opcode: OpCALL, Src: 0, Imm: 5}
	assert(t, isLocalCall(local) && !isHelperCall(local), "local-call classification wrong")
	assert(t, isHelperCall(helper) && !isLocalCall(helper), "helper-call classification wrong")
}

func TestIsConditionalJumpExcludesControlOps(t *testing.T) {
	assert(t, !isConditionalJump(OpJA), "JA is not conditional")
	assert(t, !isConditionalJump(OpCALL), "CALL is not conditional")
	assert(t, !isConditionalJump(OpEXIT), "EXIT is not conditional")
	assert(t, isConditionalJump(classJMP|jmpJEQ|srcK), "JEQ should be conditional")
}
