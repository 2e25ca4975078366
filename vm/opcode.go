package vm

/*
Opcode & field tables (C1).

Every recognised opcode gets one entry below. For each of the instruction's
four fields {src, dst, offset, imm} the entry either carries a predicate the
field must satisfy, or leaves the predicate nil, which means "must be zero".
Unknown opcodes simply have no entry (opcodeTable[op] == nil).

The byte layout mirrors the wire format used by every eBPF-family VM: the
low three bits of the opcode are the instruction class, and — for ALU and
jump classes — bit 3 selects immediate (0) vs register (1) operands.
*/

// Instruction classes (low 3 bits of the opcode byte).
const (
	classLD    = 0x00
	classLDX   = 0x01
	classST    = 0x02
	classSTX   = 0x03
	classALU32 = 0x04
	classJMP   = 0x05
	classJMP32 = 0x06
	classALU64 = 0x07
)

// ALU/jump operation codes, shifted into bits [4:8).
const (
	aluADD  = 0x00
	aluSUB  = 0x10
	aluMUL  = 0x20
	aluDIV  = 0x30
	aluOR   = 0x40
	aluAND  = 0x50
	aluLSH  = 0x60
	aluRSH  = 0x70
	aluNEG  = 0x80
	aluMOD  = 0x90
	aluXOR  = 0xa0
	aluMOV  = 0xb0
	aluARSH = 0xc0
	aluEND  = 0xd0

	jmpJA   = 0x00
	jmpJEQ  = 0x10
	jmpJGT  = 0x20
	jmpJGE  = 0x30
	jmpJSET = 0x40
	jmpJNE  = 0x50
	jmpJSGT = 0x60
	jmpJSGE = 0x70
	jmpCALL = 0x80
	jmpEXIT = 0x90
	jmpJLT  = 0xa0
	jmpJLE  = 0xb0
	jmpJSLT = 0xc0
	jmpJSLE = 0xd0

	srcK = 0x00
	srcX = 0x08
)

// Load/store size and mode bits.
const (
	sizeW  = 0x00
	sizeH  = 0x08
	sizeB  = 0x10
	sizeDW = 0x18

	modeIMM   = 0x00
	modeMEM   = 0x60
	modeMEMSX = 0x80
	modeATOMIC = 0xc0
)

// Opcode values assembled from the bit layout above. Exported so that
// encoders (tests, the CLI) can build programs without re-deriving bit
// positions.
const (
	OpLDDW = classLD | sizeDW | modeIMM

	OpLDXW  = classLDX | sizeW | modeMEM
	OpLDXH  = classLDX | sizeH | modeMEM
	OpLDXB  = classLDX | sizeB | modeMEM
	OpLDXDW = classLDX | sizeDW | modeMEM
	OpLDXSW = classLDX | sizeW | modeMEMSX
	OpLDXSH = classLDX | sizeH | modeMEMSX
	OpLDXSB = classLDX | sizeB | modeMEMSX

	OpSTW  = classST | sizeW | modeMEM
	OpSTH  = classST | sizeH | modeMEM
	OpSTB  = classST | sizeB | modeMEM
	OpSTDW = classST | sizeDW | modeMEM

	OpSTXW  = classSTX | sizeW | modeMEM
	OpSTXH  = classSTX | sizeH | modeMEM
	OpSTXB  = classSTX | sizeB | modeMEM
	OpSTXDW = classSTX | sizeDW | modeMEM

	OpAtomic32 = classSTX | sizeW | modeATOMIC
	OpAtomic64 = classSTX | sizeDW | modeATOMIC

	OpJA   = classJMP | jmpJA
	OpJA32 = classJMP32 | jmpJA
	OpCALL = classJMP | jmpCALL
	OpCALLX = classJMP | jmpCALL | srcX
	OpEXIT = classJMP | jmpEXIT

	OpLE    = classALU32 | aluEND | srcK
	OpBE    = classALU32 | aluEND | srcX
	OpBSWAP = classALU64 | aluEND

	// second half of an LDDW pair
	opLDDWHigh = 0x00
)

// Atomic sub-op immediate values (§4.1).
const (
	AtomicADD     = 0x00
	AtomicOR      = 0x40
	AtomicAND     = 0x50
	AtomicXOR     = 0xa0
	AtomicFetch   = 0x01
	AtomicXCHG    = 0xe0 | AtomicFetch
	AtomicCMPXCHG = 0xf0 | AtomicFetch
)

type predicate func(v int64) bool

func regLow(v int64) bool  { return v >= 0 && v <= 9 }
func regAny(v int64) bool  { return v >= 0 && v <= 10 }
func fits16(v int64) bool  { return v >= -(1 << 15) && v <= (1<<15)-1 }
func fits32(v int64) bool  { return v >= -(1 << 31) && v <= (1<<31)-1 }
func callKind(v int64) bool { return v == 0 || v == 1 }
func width(v int64) bool {
	switch v {
	case 8, 16, 32, 64:
		return true
	}
	return false
}
func atomicOp(v int64) bool {
	switch v {
	case AtomicADD, AtomicOR, AtomicAND, AtomicXOR,
		AtomicADD | AtomicFetch, AtomicOR | AtomicFetch, AtomicAND | AtomicFetch, AtomicXOR | AtomicFetch,
		AtomicXCHG, AtomicCMPXCHG:
		return true
	}
	return false
}

// opcodeSpec describes which fields of an instruction carry meaning and
// what predicate (if any) each must satisfy.
type opcodeSpec struct {
	name   string
	src    predicate
	dst    predicate
	offset predicate
	imm    predicate
}

var opcodeTable [256]*opcodeSpec

func alu(op uint8, imm bool, name string, immPred predicate) {
	code := classALU64 | op
	if imm {
		code |= srcK
	} else {
		code |= srcX
	}
	spec := &opcodeSpec{name: name, dst: regLow}
	if imm {
		spec.imm = immPred
	} else {
		spec.src = regLow
	}
	opcodeTable[code] = spec

	code32 := classALU32 | op
	if imm {
		code32 |= srcK
	} else {
		code32 |= srcX
	}
	spec32 := &opcodeSpec{name: name + "32", dst: regLow}
	if imm {
		spec32.imm = immPred
	} else {
		spec32.src = regLow
	}
	opcodeTable[code32] = spec32
}

func jmp(op uint8, imm bool, name string) {
	for _, class := range [2]uint8{classJMP, classJMP32} {
		code := class | op
		if imm {
			code |= srcK
		} else {
			code |= srcX
		}
		spec := &opcodeSpec{name: name, dst: regLow, offset: fits16}
		if imm {
			spec.imm = fits32
		} else {
			spec.src = regLow
		}
		opcodeTable[code] = spec
	}
}

func init() {
	// second half of LDDW: only the immediate field carries meaning.
	opcodeTable[opLDDWHigh] = &opcodeSpec{name: "lddw2", imm: fits32}

	opcodeTable[OpLDDW] = &opcodeSpec{name: "lddw", dst: regLow, imm: fits32}

	opcodeTable[OpLDXW] = &opcodeSpec{name: "ldxw", dst: regLow, src: regAny, offset: fits16}
	opcodeTable[OpLDXH] = &opcodeSpec{name: "ldxh", dst: regLow, src: regAny, offset: fits16}
	opcodeTable[OpLDXB] = &opcodeSpec{name: "ldxb", dst: regLow, src: regAny, offset: fits16}
	opcodeTable[OpLDXDW] = &opcodeSpec{name: "ldxdw", dst: regLow, src: regAny, offset: fits16}
	opcodeTable[OpLDXSW] = &opcodeSpec{name: "ldxsw", dst: regLow, src: regAny, offset: fits16}
	opcodeTable[OpLDXSH] = &opcodeSpec{name: "ldxsh", dst: regLow, src: regAny, offset: fits16}
	opcodeTable[OpLDXSB] = &opcodeSpec{name: "ldxsb", dst: regLow, src: regAny, offset: fits16}

	opcodeTable[OpSTW] = &opcodeSpec{name: "stw", dst: regAny, offset: fits16, imm: fits32}
	opcodeTable[OpSTH] = &opcodeSpec{name: "sth", dst: regAny, offset: fits16, imm: fits32}
	opcodeTable[OpSTB] = &opcodeSpec{name: "stb", dst: regAny, offset: fits16, imm: fits32}
	opcodeTable[OpSTDW] = &opcodeSpec{name: "stdw", dst: regAny, offset: fits16, imm: fits32}

	opcodeTable[OpSTXW] = &opcodeSpec{name: "stxw", dst: regAny, src: regLow, offset: fits16}
	opcodeTable[OpSTXH] = &opcodeSpec{name: "stxh", dst: regAny, src: regLow, offset: fits16}
	opcodeTable[OpSTXB] = &opcodeSpec{name: "stxb", dst: regAny, src: regLow, offset: fits16}
	opcodeTable[OpSTXDW] = &opcodeSpec{name: "stxdw", dst: regAny, src: regLow, offset: fits16}

	opcodeTable[OpAtomic32] = &opcodeSpec{name: "atomic32", dst: regAny, src: regLow, offset: fits16, imm: atomicOp}
	opcodeTable[OpAtomic64] = &opcodeSpec{name: "atomic64", dst: regAny, src: regLow, offset: fits16, imm: atomicOp}

	// ALU32/ALU64: arithmetic, logical, shift, move.
	for _, op := range []uint8{aluADD, aluSUB, aluMUL, aluDIV, aluOR, aluAND, aluLSH, aluRSH, aluMOD, aluXOR, aluMOV} {
		alu(op, true, aluOpName(op), fits32)
		alu(op, false, aluOpName(op), nil)
	}
	// ARSH: signed shift, same shape as the other binary ALU ops.
	alu(aluARSH, true, "arsh", fits32)
	alu(aluARSH, false, "arsh", nil)

	// NEG takes no source operand, immediate or register.
	opcodeTable[classALU64|aluNEG] = &opcodeSpec{name: "neg", dst: regLow}
	opcodeTable[classALU32|aluNEG] = &opcodeSpec{name: "neg32", dst: regLow}

	// Byte-swap family.
	opcodeTable[OpLE] = &opcodeSpec{name: "le", dst: regLow, imm: width}
	opcodeTable[OpBE] = &opcodeSpec{name: "be", dst: regLow, imm: width}
	opcodeTable[OpBSWAP] = &opcodeSpec{name: "bswap", dst: regLow, imm: width}

	// Conditional branches, present in both 64-bit and 32-bit compare flavors.
	jmp(jmpJEQ, true, "jeq")
	jmp(jmpJEQ, false, "jeq")
	jmp(jmpJGT, true, "jgt")
	jmp(jmpJGT, false, "jgt")
	jmp(jmpJGE, true, "jge")
	jmp(jmpJGE, false, "jge")
	jmp(jmpJSET, true, "jset")
	jmp(jmpJSET, false, "jset")
	jmp(jmpJNE, true, "jne")
	jmp(jmpJNE, false, "jne")
	jmp(jmpJSGT, true, "jsgt")
	jmp(jmpJSGT, false, "jsgt")
	jmp(jmpJSGE, true, "jsge")
	jmp(jmpJSGE, false, "jsge")
	jmp(jmpJLT, true, "jlt")
	jmp(jmpJLT, false, "jlt")
	jmp(jmpJLE, true, "jle")
	jmp(jmpJLE, false, "jle")
	jmp(jmpJSLT, true, "jslt")
	jmp(jmpJSLT, false, "jslt")
	jmp(jmpJSLE, true, "jsle")
	jmp(jmpJSLE, false, "jsle")

	opcodeTable[OpJA] = &opcodeSpec{name: "ja", offset: fits16}
	opcodeTable[OpJA32] = &opcodeSpec{name: "ja32", imm: fits32}

	opcodeTable[OpCALL] = &opcodeSpec{name: "call", src: callKind, imm: fits32}
	opcodeTable[OpCALLX] = &opcodeSpec{name: "callx", dst: regLow}
	opcodeTable[OpEXIT] = &opcodeSpec{name: "exit"}
}

func aluOpName(op uint8) string {
	switch op {
	case aluADD:
		return "add"
	case aluSUB:
		return "sub"
	case aluMUL:
		return "mul"
	case aluDIV:
		return "div"
	case aluOR:
		return "or"
	case aluAND:
		return "and"
	case aluLSH:
		return "lsh"
	case aluRSH:
		return "rsh"
	case aluMOD:
		return "mod"
	case aluXOR:
		return "xor"
	case aluMOV:
		return "mov"
	default:
		return "alu"
	}
}

// OpcodeName returns a human-readable mnemonic for diagnostics, or
// "unknown" if the opcode has no table entry.
func OpcodeName(op uint8) string {
	spec := opcodeTable[op]
	if spec == nil {
		return "unknown"
	}
	return spec.name
}

func isLDDW(op uint8) bool       { return op == OpLDDW }
func isCall(in Instruction) bool { return in.Opcode == OpCALL }
func isLocalCall(in Instruction) bool {
	return in.Opcode == OpCALL && in.Src == 1
}
func isHelperCall(in Instruction) bool {
	return in.Opcode == OpCALL && in.Src == 0
}
func isConditionalJump(op uint8) bool {
	class := op & 0x07
	if class != classJMP && class != classJMP32 {
		return false
	}
	jop := op & 0xf0
	return jop != jmpJA && jop != jmpCALL && jop != jmpEXIT
}
func isJA(op uint8) bool { return op == OpJA || op == OpJA32 }
