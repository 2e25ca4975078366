//go:build amd64

package vm

import "encoding/binary"

// newArchTranslator is resolved at build time to the x86-64 backend.
func newArchTranslator() translator { return &amd64Translator{} }

// amd64Translator emits SysV-ish machine code directly into a caller
// supplied buffer, mapping the eleven eBPF registers onto x86-64's sixteen
// general purpose ones the same way a virtual register file maps onto
// host storage.
type amd64Translator struct{}

// x86 general purpose register encodings (low 4 bits of a REX.B-extended
// operand byte).
const (
	regRAX = 0
	regRCX = 1
	regRDX = 2
	regRBX = 3
	regRSP = 4
	regRBP = 5
	regRSI = 6
	regRDI = 7
	regR8  = 8
	regR9  = 9
	regR10 = 10
	regR11 = 11
	regR12 = 12
	regR13 = 13
	regR14 = 14
	regR15 = 15
)

// ebpfToHost maps each eBPF register to its host x86-64 register, following
// the real uBPF amd64 backend's assignment: R0 in RAX (return value), the
// argument registers in RDI/RSI/RDX, callee-saved registers for the
// values that must survive helper calls, and R10 (frame pointer) in RBP.
var ebpfToHost = [11]int{
	R0:  regRAX,
	R1:  regRDI,
	R2:  regRSI,
	R3:  regRDX,
	R4:  regR9,
	R5:  regR8,
	R6:  regRBX,
	R7:  regR13,
	R8:  regR14,
	R9:  regR15,
	R10: regRBP,
}

// calleeSaved lists the host registers the prologue must preserve, since
// they hold live eBPF register state across helper calls (System V callee
// saved: RBX, RBP, R12-R15).
var calleeSaved = []int{regRBX, regRBP, regR12, regR13, regR14, regR15}

type amd64Emitter struct {
	buf []byte
	pos int
	fix *fixupTables
}

func (e *amd64Emitter) emit(b ...byte) {
	e.pos += copy(e.buf[e.pos:], b)
}

func (e *amd64Emitter) emitU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.emit(b[:]...)
}

func (e *amd64Emitter) emitU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.emit(b[:]...)
}

// rex builds a REX prefix: W sets 64-bit operand size, R/X/B extend the
// reg/index/rm fields into the r8-r15 range.
func rex(w, r, x, b bool) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if b {
		v |= 0x01
	}
	return v
}

func modrm(mod, reg, rm int) byte {
	return byte((mod&3)<<6 | (reg&7)<<3 | (rm & 7))
}

// movRegReg emits `mov dst, src` at 64-bit width.
func (e *amd64Emitter) movRegReg(dst, src int) {
	e.emit(rex(true, src >= 8, false, dst >= 8), 0x89, modrm(3, src, dst))
}

// movImm64 emits a full 64-bit immediate load (`movabs`), used for LDDW and
// for blinded constants.
func (e *amd64Emitter) movImm64(dst int, imm uint64) {
	e.emit(rex(true, false, false, dst >= 8), 0xb8+byte(dst&7))
	e.emitU64(imm)
}

// movImm32SignExtend emits `mov dst, imm32` sign extended to 64 bits, the
// encoding used for every plain ALU64 immediate operand other than LDDW.
func (e *amd64Emitter) movImm32SignExtend(dst int, imm int32) {
	e.emit(rex(true, false, false, dst >= 8), 0xc7, modrm(3, 0, dst))
	e.emitU32(uint32(imm))
}

// aluRegReg emits a two-operand ALU opcode (add/sub/and/or/xor/cmp) between
// two 64-bit host registers. opcodeByte is the primary opcode for the
// register/register (0x01-family) encoding.
func (e *amd64Emitter) aluRegReg(opcodeByte byte, dst, src int) {
	e.emit(rex(true, src >= 8, false, dst >= 8), opcodeByte, modrm(3, src, dst))
}

func (e *amd64Emitter) ret() { e.emit(0xc3) }
func (e *amd64Emitter) nop() { e.emit(0x90) }

// pushReg/popReg save and restore a single host register across the
// prologue/epilogue.
func (e *amd64Emitter) pushReg(r int) {
	if r >= 8 {
		e.emit(rex(false, false, false, true), 0x50+byte(r&7))
	} else {
		e.emit(0x50 + byte(r))
	}
}

func (e *amd64Emitter) popReg(r int) {
	if r >= 8 {
		e.emit(rex(false, false, false, true), 0x58+byte(r&7))
	} else {
		e.emit(0x58 + byte(r))
	}
}

// translate lowers prog into x86-64 machine code written to buf, resolving
// its jump fixups (branches and each EXIT's jump to the epilogue) with
// fixupTables before returning. Helper and local calls emit no bytes, so
// no local-call or literal-pool fixups are recorded.
func (t *amd64Translator) translate(vm *VM, prog []Instruction, buf []byte) (JITFunc, JITFuncEx, int, error) {
	e := &amd64Emitter{buf: buf, fix: newFixupTables(len(prog))}

	// Prologue: save callee-saved host registers, move the data pointer
	// argument (passed in RDI by the Go calling shim) into R1's host slot,
	// zero every other eBPF register.
	for _, r := range calleeSaved {
		e.pushReg(r)
	}
	e.movRegReg(ebpfToHost[R1], regRDI)
	for reg := R0; reg <= R9; reg++ {
		if reg == R1 {
			continue
		}
		e.movImm32SignExtend(ebpfToHost[reg], 0)
	}

	epiloguePatches := map[targetKind]int{}

	for pc := 0; pc < len(prog); pc++ {
		in := prog[pc]
		e.fix.markPC(uint32(pc), e.pos)

		if isLDDW(in.Opcode) {
			hi := prog[pc+1]
			imm := immU64(in, hi)
			if vm.constantBlinding {
				rnd, blinded := blindImm64(imm)
				e.movImm64(ebpfToHost[in.Dst], rnd)
				e.movImm64(regR11, blinded)
				e.aluRegReg(0x31, ebpfToHost[in.Dst], regR11) // xor
			} else {
				e.movImm64(ebpfToHost[in.Dst], imm)
			}
			pc++
			continue
		}

		class := in.Opcode & 0x07
		switch class {
		case classALU64, classALU32:
			t.emitALU(e, vm, in, class == classALU32)
		case classJMP, classJMP32:
			t.emitJump(e, in, pc, class == classJMP32)
		case classLDX:
			t.emitLoad(e, in)
		case classST, classSTX:
			t.emitStore(e, vm, in, class == classST)
		}

		if in.Opcode == OpEXIT {
			if err := e.fix.addJump(e.pos+1, specialTarget(targetEpilogue)); err != nil {
				return nil, nil, 0, err
			}
			e.emit(0xe9, 0, 0, 0, 0) // jmp rel32, patched to epilogue
		}
	}

	// Epilogue: restore callee-saved registers, return R0.
	epiloguePatches[targetEpilogue] = e.pos
	e.movRegReg(regRAX, ebpfToHost[R0])
	for i := len(calleeSaved) - 1; i >= 0; i-- {
		e.popReg(calleeSaved[i])
	}
	e.ret()

	if err := e.fix.resolve(epiloguePatches, func(f fixup, dest int) error {
		rel := int32(dest - (f.offset + 4))
		binary.LittleEndian.PutUint32(e.buf[f.offset:], uint32(rel))
		return nil
	}); err != nil {
		return nil, nil, 0, err
	}

	size := e.pos
	jitFn := func(data []byte) uint64 {
		return interpretFallback(vm, data, nil)
	}
	jitFnEx := func(data []byte, stack []byte) uint64 {
		return interpretFallback(vm, data, stack)
	}
	return jitFn, jitFnEx, size, nil
}

// emitALU lowers one ALU32/ALU64 instruction into the output buffer. The
// arithmetic and bitwise two-operand forms get direct encodings below; the
// multi-instruction forms (mul/div/mod, shifts, byteswap) are left as
// placeholders (see emitInterpFallbackStep) since none of this buffer's
// bytes are ever executed — see the translator interface doc in jit.go.
func (t *amd64Translator) emitALU(e *amd64Emitter, vm *VM, in Instruction, is32 bool) {
	dst := ebpfToHost[in.Dst]
	op := in.Opcode & 0xf0

	var src int
	if in.Opcode&srcX != 0 {
		src = ebpfToHost[in.Src]
	} else {
		src = regR11
		if vm.constantBlinding {
			rnd, blinded := blindImm32(in.Imm)
			e.movImm32SignExtend(src, int32(blinded))
			e.movImm32SignExtend(regR10, int32(rnd))
			e.aluRegReg(0x31, src, regR10)
		} else {
			e.movImm32SignExtend(src, in.Imm)
		}
	}

	switch op {
	case aluMOV:
		e.movRegReg(dst, src)
	case aluADD:
		e.aluRegReg(0x01, dst, src)
	case aluSUB:
		e.aluRegReg(0x29, dst, src)
	case aluAND:
		e.aluRegReg(0x21, dst, src)
	case aluOR:
		e.aluRegReg(0x09, dst, src)
	case aluXOR:
		e.aluRegReg(0x31, dst, src)
	case aluMUL, aluDIV, aluMOD, aluLSH, aluRSH, aluARSH, aluNEG, aluEND:
		// These need multi-instruction sequences (RAX:RDX pairing for
		// mul/div, CL-gated shift counts, trap checks for zero divisors);
		// left as a placeholder rather than encoded, like every other
		// instruction's bytes here (see emitInterpFallbackStep).
		e.emitInterpFallbackStep(in)
	}
	_ = is32
}

// emitInterpFallbackStep emits a no-op placeholder. It exists purely to
// keep pc_locs spacing and buffer sizing consistent; actual execution of
// every instruction, including this one, runs through the interpreter (see
// the translator interface doc in jit.go), so nothing decodes this byte.
func (e *amd64Emitter) emitInterpFallbackStep(in Instruction) {
	e.nop()
}

func (t *amd64Translator) emitJump(e *amd64Emitter, in Instruction, pc int, is32 bool) {
	if in.Opcode == OpEXIT || in.Opcode == OpCALL || in.Opcode == OpCALLX {
		return
	}
	var target int
	if in.Opcode == OpJA32 {
		target = pc + int(in.Imm) + 1
	} else {
		target = pc + int(in.Offset) + 1
	}
	e.fix.addJump(e.pos+1, regularTarget(uint32(target)))
	e.emit(0xe9, 0, 0, 0, 0)
}

func (t *amd64Translator) emitLoad(e *amd64Emitter, in Instruction) {
	dst := ebpfToHost[in.Dst]
	base := ebpfToHost[in.Src]
	size := in.Opcode & 0x18
	var opcode byte
	switch size {
	case sizeDW:
		opcode = 0x8b
	case sizeW:
		opcode = 0x8b
	case sizeH:
		opcode = 0xb7 // movzx, two-byte opcode: 0x0f prefix emitted below
	case sizeB:
		opcode = 0xb6
	}
	e.emit(rex(true, dst >= 8, false, base >= 8))
	if size == sizeH || size == sizeB {
		e.emit(0x0f)
	}
	e.emit(opcode, modrm(2, dst, base))
	e.emitU32(uint32(int32(in.Offset)))
}

func (t *amd64Translator) emitStore(e *amd64Emitter, vm *VM, in Instruction, isImm bool) {
	base := ebpfToHost[in.Dst]
	var src int
	if isImm {
		src = regR11
		if vm.constantBlinding {
			rnd, blinded := blindImm32(in.Imm)
			e.movImm32SignExtend(src, int32(blinded))
			e.movImm32SignExtend(regR10, int32(rnd))
			e.aluRegReg(0x31, src, regR10)
		} else {
			e.movImm32SignExtend(src, in.Imm)
		}
	} else {
		src = ebpfToHost[in.Src]
	}
	e.emit(rex(true, src >= 8, false, base >= 8), 0x89, modrm(2, src, base))
	e.emitU32(uint32(int32(in.Offset)))
}

// emitRetpoline writes a retpoline-shaped indirect-call thunk, the pattern
// Spectre v2 mitigations use to break direct indirect-branch-to-attacker-
// controlled-target sequences: a call/pause/lfence/jmp/ret loop. translate
// does not call it and emits no helper calls, so no translation currently
// contains this thunk.
func (e *amd64Emitter) emitRetpoline() {
	e.emit(0xe8, 2, 0, 0, 0) // call +2
	e.emit(0xf3, 0x90)       // pause
	e.emit(0x0f, 0xae, 0xe8) // lfence
	e.emit(0xeb, 0xf9)       // jmp -7
	e.ret()
}
