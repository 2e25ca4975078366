package vm

import "encoding/binary"

// InstructionSize is the size in bytes of a single wire-format instruction
// record: opcode(1) | dst:4,src:4 (1) | offset(2, LE) | immediate(4, LE).
const InstructionSize = 8

// Instruction is one decoded 64-bit bytecode record. Two of these are used
// back to back to represent LDDW, whose second slot only carries the high
// 32 bits of the immediate.
type Instruction struct {
	Opcode  uint8
	Dst     uint8
	Src     uint8
	Offset  int16
	Imm     int32
}

// DecodeInstruction reads one 8-byte record from buf. Caller guarantees
// len(buf) >= InstructionSize.
func DecodeInstruction(buf []byte) Instruction {
	return Instruction{
		Opcode: buf[0],
		Dst:    buf[1] & 0x0f,
		Src:    (buf[1] >> 4) & 0x0f,
		Offset: int16(binary.LittleEndian.Uint16(buf[2:4])),
		Imm:    int32(binary.LittleEndian.Uint32(buf[4:8])),
	}
}

// Encode writes the instruction back to wire format.
func (in Instruction) Encode(buf []byte) {
	buf[0] = in.Opcode
	buf[1] = (in.Dst & 0x0f) | ((in.Src & 0x0f) << 4)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(in.Offset))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(in.Imm))
}

// DecodeProgram splits a raw byte slice into instruction records. The slice
// length must be a multiple of InstructionSize; callers validate this
// before calling (see Load).
func DecodeProgram(raw []byte) []Instruction {
	n := len(raw) / InstructionSize
	out := make([]Instruction, n)
	for i := 0; i < n; i++ {
		out[i] = DecodeInstruction(raw[i*InstructionSize : (i+1)*InstructionSize])
	}
	return out
}

// immU64 reassembles the 64-bit immediate of an LDDW pair: low 32 bits from
// the first slot, high 32 bits from the second slot's immediate field.
func immU64(lo, hi Instruction) uint64 {
	return uint64(uint32(lo.Imm)) | uint64(uint32(hi.Imm))<<32
}
