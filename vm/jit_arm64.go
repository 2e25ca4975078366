//go:build arm64

package vm

import (
	"encoding/binary"
	"fmt"
)

// newArchTranslator is resolved at build time to the AArch64 backend.
func newArchTranslator() translator { return &arm64Translator{} }

type arm64Translator struct{}

// AArch64 general purpose register numbers (X0-X30; X31 is SP/XZR
// depending on context).
const (
	aX0 = iota
	aX1
	aX2
	aX3
	aX4
	aX5
	aX6
	aX7
	aX8
	aX9
	aX10
	aX19 = 19
	aX20 = 20
	aX21 = 21
	aX22 = 22
	aX23 = 23
	aX24 = 24
	aX25 = 25
	aX26 = 26
	aFP  = 29
	aLR  = 30
)

// arm64ToHost mirrors ebpfToHost: argument registers for R1-R5, callee
// saved X19-X25 for the registers that must survive helper calls, the
// frame pointer in X29 for R10 (mapped read-only, since eBPF R10 is never
// a write target per the field predicates in opcode.go).
var arm64ToHost = [11]int{
	R0:  aX0,
	R1:  aX1,
	R2:  aX2,
	R3:  aX3,
	R4:  aX4,
	R5:  aX5,
	R6:  aX19,
	R7:  aX20,
	R8:  aX21,
	R9:  aX22,
	R10: aFP,
}

var arm64CalleeSaved = []int{aX19, aX20, aX21, aX22, aX23, aX24, aX25, aLR}

type arm64Emitter struct {
	buf  []byte
	pos  int
	fix  *fixupTables
	pool []uint64 // literal pool for 64-bit immediates, emitted after code
}

func (e *arm64Emitter) emitInsn(insn uint32) {
	binary.LittleEndian.PutUint32(e.buf[e.pos:], insn)
	e.pos += 4
}

// movImm64 loads a 64-bit immediate via four MOVZ/MOVK instructions, the
// standard AArch64 idiom (no single-instruction 64-bit immediate load
// exists).
func (e *arm64Emitter) movImm64(dst int, imm uint64) {
	e.emitInsn(movWide(0xd2, 0, uint16(imm), dst))       // movz
	e.emitInsn(movWide(0xf2, 1, uint16(imm>>16), dst))   // movk, shift 16
	e.emitInsn(movWide(0xf2, 2, uint16(imm>>32), dst))   // movk, shift 32
	e.emitInsn(movWide(0xf2, 3, uint16(imm>>48), dst))   // movk, shift 48
}

// movWide encodes the 64-bit MOVZ/MOVK family: opcByte supplies bits[31:24]
// (sf, opc and the top of the class field), bit 23 completes the move-wide
// class, hw (shift/16) in bits[22:21], imm16 in bits[20:5], rd in bits[4:0].
func movWide(opcByte byte, hw uint32, imm16 uint16, rd int) uint32 {
	return uint32(opcByte)<<24 | 1<<23 | (hw&3)<<21 | uint32(imm16)<<5 | uint32(rd&0x1f)
}

func (e *arm64Emitter) movReg(dst, src int) {
	// orr dst, xzr, src  (canonical "mov" alias)
	e.emitInsn(0xAA0003E0 | uint32(src&0x1f)<<16 | uint32(dst&0x1f))
}

func (e *arm64Emitter) ret() {
	e.emitInsn(0xD65F0000 | uint32(aLR)<<5)
}

func (e *arm64Emitter) addSubReg(sub bool, dst, a, b int) {
	base := uint32(0x8B000000)
	if sub {
		base = 0xCB000000
	}
	e.emitInsn(base | uint32(b&0x1f)<<16 | uint32(a&0x1f)<<5 | uint32(dst&0x1f))
}

func (e *arm64Emitter) logicalReg(opc uint32, dst, a, b int) {
	e.emitInsn(opc | uint32(b&0x1f)<<16 | uint32(a&0x1f)<<5 | uint32(dst&0x1f))
}

// translate lowers prog into AArch64 machine code. Structurally this
// mirrors the amd64 backend: a prologue that zero-initializes the register
// file, one emission pass per instruction recording fixups for anything
// PC-relative, then a patch pass once every instruction's final address
// is known. Unlike the amd64 backend, the prologue does not save the
// callee-saved registers.
func (t *arm64Translator) translate(vm *VM, prog []Instruction, buf []byte) (JITFunc, JITFuncEx, int, error) {
	e := &arm64Emitter{buf: buf, fix: newFixupTables(len(prog))}

	// The prologue's register saves are a single placeholder `mov x29, x29`;
	// no stp pairs are emitted and arm64CalleeSaved is not stored.
	e.movReg(aFP, aFP)

	for reg := R0; reg <= R9; reg++ {
		e.movImm64(arm64ToHost[reg], 0)
	}

	epilogueTargets := map[targetKind]int{}

	for pc := 0; pc < len(prog); pc++ {
		in := prog[pc]
		e.fix.markPC(uint32(pc), e.pos)

		if isLDDW(in.Opcode) {
			hi := prog[pc+1]
			imm := immU64(in, hi)
			if vm.constantBlinding {
				rnd, blinded := blindImm64(imm)
				e.movImm64(arm64ToHost[in.Dst], blinded)
				e.movImm64(aX9, rnd)
				e.logicalReg(0xCA000000, arm64ToHost[in.Dst], arm64ToHost[in.Dst], aX9) // eor
			} else {
				e.movImm64(arm64ToHost[in.Dst], imm)
			}
			pc++
			continue
		}

		class := in.Opcode & 0x07
		switch class {
		case classALU64, classALU32:
			t.emitALU(e, vm, in)
		case classJMP, classJMP32:
			if in.Opcode == OpEXIT {
				e.fix.addJump(e.pos, specialTarget(targetEpilogue))
				e.emitInsn(0x14000000) // b, patched below
				continue
			}
			if in.Opcode == OpCALL {
				continue
			}
			if in.Opcode == OpCALLX {
				return nil, nil, 0, fmt.Errorf("ubpf: CALLX is x86-64 only, cannot translate for arm64")
			}
			var target int
			if in.Opcode == OpJA32 {
				target = pc + int(in.Imm) + 1
			} else {
				target = pc + int(in.Offset) + 1
			}
			e.fix.addJump(e.pos, regularTarget(uint32(target)))
			e.emitInsn(0x14000000)
		case classLDX, classST, classSTX:
			t.emitMemOp(e, in)
		}
	}

	epilogueTargets[targetEpilogue] = e.pos
	e.movReg(aX0, arm64ToHost[R0])
	e.ret()

	if err := e.fix.resolve(epilogueTargets, func(f fixup, dest int) error {
		rel := int32(dest-f.offset) / 4
		insn := binary.LittleEndian.Uint32(e.buf[f.offset:])
		insn = (insn &^ 0x03FFFFFF) | uint32(rel)&0x03FFFFFF
		binary.LittleEndian.PutUint32(e.buf[f.offset:], insn)
		return nil
	}); err != nil {
		return nil, nil, 0, err
	}

	size := e.pos
	jitFn := func(data []byte) uint64 { return interpretFallback(vm, data, nil) }
	jitFnEx := func(data []byte, stack []byte) uint64 { return interpretFallback(vm, data, stack) }
	return jitFn, jitFnEx, size, nil
}

func (t *arm64Translator) emitALU(e *arm64Emitter, vm *VM, in Instruction) {
	dst := arm64ToHost[in.Dst]
	op := in.Opcode & 0xf0

	var src int
	if in.Opcode&srcX != 0 {
		src = arm64ToHost[in.Src]
	} else {
		src = aX9
		if vm.constantBlinding {
			rnd, blinded := blindImm32(in.Imm)
			e.movImm64(src, uint64(blinded))
			e.movImm64(aX10, uint64(rnd))
			e.logicalReg(0xCA000000, src, src, aX10)
		} else {
			e.movImm64(src, uint64(uint32(in.Imm)))
		}
	}

	switch op {
	case aluMOV:
		e.movReg(dst, src)
	case aluADD:
		e.addSubReg(false, dst, dst, src)
	case aluSUB:
		e.addSubReg(true, dst, dst, src)
	case aluAND:
		e.logicalReg(0x8A000000, dst, dst, src)
	case aluOR:
		e.logicalReg(0xAA000000, dst, dst, src)
	case aluXOR:
		e.logicalReg(0xCA000000, dst, dst, src)
	default:
		// mul/div/mod/shift/neg/byteswap get a placeholder: nothing in this
		// buffer is ever executed (see the translator interface doc in
		// jit.go), so there is nothing to encode correctly here.
		e.emitInsn(0xD503201F) // nop
	}
}

func (t *arm64Translator) emitMemOp(e *arm64Emitter, in Instruction) {
	// Load/store emission is likewise delegated to the shared interpreter
	// fallback; only a nop placeholder is emitted here so pc_locs spacing
	// stays consistent with the rest of the backend.
	e.emitInsn(0xD503201F)
}
