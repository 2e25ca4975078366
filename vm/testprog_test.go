package vm

// asm is a tiny test-only program builder: each call appends one
// instruction and returns the builder so calls can be chained.
type asm struct {
	instrs []Instruction
}

func (a *asm) add(in Instruction) *asm {
	a.instrs = append(a.instrs, in)
	return a
}

func (a *asm) movImm(dst uint8, imm int32) *asm {
	return a.add(Instruction{Opcode: classALU64 | aluMOV | srcK, Dst: dst, Imm: imm})
}

func (a *asm) aluImm(op uint8, dst uint8, imm int32) *asm {
	return a.add(Instruction{Opcode: classALU64 | op | srcK, Dst: dst, Imm: imm})
}

func (a *asm) aluReg(op uint8, dst, src uint8) *asm {
	return a.add(Instruction{Opcode: classALU64 | op | srcX, Dst: dst, Src: src})
}

func (a *asm) lddw(dst uint8, imm uint64) *asm {
	a.add(Instruction{Opcode: OpLDDW, Dst: dst, Imm: int32(uint32(imm))})
	return a.add(Instruction{Opcode: opLDDWHigh, Imm: int32(uint32(imm >> 32))})
}

func (a *asm) exit() *asm { return a.add(Instruction{Opcode: OpEXIT}) }

func (a *asm) jump(op uint8, dst uint8, imm int32, offset int16) *asm {
	return a.add(Instruction{Opcode: classJMP | op | srcK, Dst: dst, Imm: imm, Offset: offset})
}

func (a *asm) call(idx int32) *asm {
	return a.add(Instruction{Opcode: OpCALL, Src: 0, Imm: idx})
}

func (a *asm) localCall(offset int32) *asm {
	return a.add(Instruction{Opcode: OpCALL, Src: 1, Imm: offset})
}

func (a *asm) callx(dst uint8) *asm {
	return a.add(Instruction{Opcode: OpCALLX, Dst: dst})
}

func (a *asm) ld(size uint8, dst, src uint8, offset int16) *asm {
	return a.add(Instruction{Opcode: classLDX | size | modeMEM, Dst: dst, Src: src, Offset: offset})
}

func (a *asm) st(size uint8, dst uint8, offset int16, imm int32) *asm {
	return a.add(Instruction{Opcode: classST | size | modeMEM, Dst: dst, Offset: offset, Imm: imm})
}

func (a *asm) stx(size uint8, dst, src uint8, offset int16) *asm {
	return a.add(Instruction{Opcode: classSTX | size | modeMEM, Dst: dst, Src: src, Offset: offset})
}

func (a *asm) bytes() []byte {
	buf := make([]byte, InstructionSize*len(a.instrs))
	for i, in := range a.instrs {
		in.Encode(buf[i*InstructionSize : (i+1)*InstructionSize])
	}
	return buf
}
