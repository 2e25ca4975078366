package vm

import (
	"encoding/binary"
	"math/bits"
)

// callFrame is one entry of the local-call stack the interpreter maintains
// for CALL src=1 (§4.4 "Call semantics"): the return PC and the caller's
// R6-R9, restored on the callee's EXIT so the callee may clobber them
// freely while the caller sees them preserved.
type callFrame struct {
	returnPC    uint32
	savedR6toR9 [4]uint64
}

const maxCallDepth = 64

// execState carries everything a single Exec/ExecEx invocation needs that
// does not belong on the long-lived *VM: the register file, the call
// stack, and the data/stack memory windows being interpreted against.
type execState struct {
	regs  [11]uint64
	calls []callFrame

	data    []byte
	stack   []byte
	stackWriteMask []bool

	instrCount uint32
}

// Exec runs the loaded program against data in basic mode, using the VM's
// built-in fixed-size stack (§6 exec()).
func (vm *VM) Exec(data []byte, cookie uint64) (uint64, error) {
	if err := vm.requireLoaded(); err != nil {
		return 0, err
	}
	st := &execState{stack: make([]byte, defaultStackSize), data: data}
	st.stackWriteMask = make([]bool, len(st.stack))
	st.regs[R10] = stackTop(st.stack)
	st.regs[R1] = dataPtr(data)
	return vm.run(st, cookie)
}

// ExecEx runs the loaded program using a caller-supplied stack buffer
// (§6 exec_ex()), letting the host reuse a single arena across many
// invocations instead of allocating one per call.
func (vm *VM) ExecEx(data []byte, stack []byte, cookie uint64) (uint64, error) {
	if err := vm.requireLoaded(); err != nil {
		return 0, err
	}
	if len(stack) == 0 || len(stack)%16 != 0 {
		return 0, errInvalidArgument
	}
	st := &execState{stack: stack, data: data}
	st.stackWriteMask = make([]bool, len(stack))
	st.regs[R10] = stackTop(stack)
	st.regs[R1] = dataPtr(data)
	return vm.run(st, cookie)
}

// interpretFallback is the entry point both JIT backends install as their
// jitFn/jitFnEx: every instruction, including the forms the native
// emitters encode, is executed by stepping the shared interpreter, so JIT
// results are anchored to exactly one implementation. An execution error
// makes it return 0.
func interpretFallback(vm *VM, data []byte, stack []byte) uint64 {
	if stack == nil {
		stack = make([]byte, defaultStackSize)
	}
	st := &execState{stack: stack, data: data}
	st.stackWriteMask = make([]bool, len(stack))
	st.regs[R10] = stackTop(stack)
	st.regs[R1] = dataPtr(data)
	result, err := vm.run(st, 0)
	if err != nil {
		return 0
	}
	return result
}

// dataPtr and stackTop produce addresses for the bounds checker to compare
// against; since this is a managed Go runtime rather than raw memory, they
// are synthetic offsets rather than real pointers (0 for the base of data,
// len(stack) for the top-growing stack), which keeps the arithmetic in
// run() identical in shape to the native-pointer version the JIT backends
// use.
func dataPtr(data []byte) uint64  { return 0 }
func stackTop(stack []byte) uint64 { return uint64(len(stack)) }

// run is the shared bytecode interpreter: C4 of the expanded module list.
// It also backs RunCompiled/RunCompiledEx through interpretFallback, which
// runs every instruction here, so both execution paths share one source of
// numeric truth.
func (vm *VM) run(st *execState, cookie uint64) (uint64, error) {
	pc := uint32(0)
	for {
		if st.instrCount >= vm.maxInstructions {
			return 0, errInstructionLimitExceeded
		}
		st.instrCount++

		if int(pc) >= len(vm.program) {
			return 0, errUnreachablePC
		}

		if err := vm.fireDebugCallout(pc, &st.regs, st.stack, st.stackWriteMask); err != nil {
			return 0, err
		}

		in := vm.program[pc]

		if isLDDW(in.Opcode) {
			hi := vm.program[pc+1]
			st.regs[in.Dst] = immU64(in, hi)
			pc += 2
			continue
		}

		switch in.Opcode & 0x07 {
		case classALU64:
			if err := vm.stepALU(st, in, false); err != nil {
				return 0, err
			}
			pc++
			continue
		case classALU32:
			if err := vm.stepALU(st, in, true); err != nil {
				return 0, err
			}
			pc++
			continue
		case classLDX:
			if err := vm.stepLoad(st, in); err != nil {
				return 0, err
			}
			pc++
			continue
		case classST:
			if err := vm.stepStore(st, in, true); err != nil {
				return 0, err
			}
			pc++
			continue
		case classSTX:
			if in.Opcode&modeATOMIC == modeATOMIC && (in.Opcode&0x18 == sizeW || in.Opcode&0x18 == sizeDW) {
				if err := vm.stepAtomic(st, in); err != nil {
					return 0, err
				}
				pc++
				continue
			}
			if err := vm.stepStore(st, in, false); err != nil {
				return 0, err
			}
			pc++
			continue
		}

		// classJMP / classJMP32
		switch {
		case in.Opcode == OpEXIT:
			if len(st.calls) == 0 {
				return st.regs[R0], nil
			}
			frame := st.calls[len(st.calls)-1]
			st.calls = st.calls[:len(st.calls)-1]
			st.regs[R6], st.regs[R7], st.regs[R8], st.regs[R9] = frame.savedR6toR9[0], frame.savedR6toR9[1], frame.savedR6toR9[2], frame.savedR6toR9[3]
			pc = frame.returnPC
			continue

		case in.Opcode == OpCALL:
			if in.Src == 0 {
				idx := uint32(in.Imm)
				if vm.unwindIndex >= 0 && idx == uint32(vm.unwindIndex) {
					ret, err := vm.helpers.call(idx, st.regs[R1], st.regs[R2], st.regs[R3], st.regs[R4], st.regs[R5], cookie)
					if err != nil {
						return 0, err
					}
					if ret == 0 {
						return 0, nil
					}
					st.regs[R0] = ret
					pc++
					continue
				}
				ret, err := vm.helpers.call(idx, st.regs[R1], st.regs[R2], st.regs[R3], st.regs[R4], st.regs[R5], cookie)
				if err != nil {
					return 0, err
				}
				st.regs[R0] = ret
				pc++
				continue
			}
			if err := vm.doLocalCall(st, pc, uint32(int32(pc)+in.Imm+1)); err != nil {
				return 0, err
			}
			pc = uint32(int32(pc) + in.Imm + 1)
			continue

		case in.Opcode == OpCALLX:
			// dst holds a helper table index (0-63), not a jump target;
			// dispatch exactly like CALL src=0 except the index comes from
			// a register instead of the immediate field.
			idx := uint32(st.regs[in.Dst])
			ret, err := vm.helpers.call(idx, st.regs[R1], st.regs[R2], st.regs[R3], st.regs[R4], st.regs[R5], cookie)
			if err != nil {
				return 0, err
			}
			st.regs[R0] = ret
			pc++
			continue

		case isJA(in.Opcode):
			if in.Opcode == OpJA32 {
				pc = uint32(int32(pc) + in.Imm + 1)
			} else {
				pc = uint32(int32(pc) + int32(in.Offset) + 1)
			}
			continue

		default: // conditional jump
			taken := vm.evalCond(st, in)
			if taken {
				pc = uint32(int32(pc) + int32(in.Offset) + 1)
			} else {
				pc++
			}
			continue
		}
	}
}

func (vm *VM) doLocalCall(st *execState, pc uint32, target uint32) error {
	if len(st.calls) >= maxCallDepth {
		return errStackOverflow
	}
	if int(target) >= len(vm.localEntries) || !vm.localEntries[target] {
		return errUnreachablePC
	}
	st.calls = append(st.calls, callFrame{
		returnPC:    pc + 1,
		savedR6toR9: [4]uint64{st.regs[R6], st.regs[R7], st.regs[R8], st.regs[R9]},
	})
	return nil
}

// evalCond decides a conditional jump/jump32 instruction. Signed
// comparisons reinterpret the operand as int64/int32 first.
func (vm *VM) evalCond(st *execState, in Instruction) bool {
	is32 := in.Opcode&0x07 == classJMP32
	dst := st.regs[in.Dst]
	var src uint64
	if in.Opcode&srcX != 0 {
		src = st.regs[in.Src]
	} else {
		src = uint64(uint32(in.Imm))
		if !is32 {
			src = uint64(int64(in.Imm))
		}
	}
	if is32 {
		dst = uint64(uint32(dst))
		src = uint64(uint32(src))
	}

	switch in.Opcode & 0xf0 {
	case jmpJEQ:
		return dst == src
	case jmpJNE:
		return dst != src
	case jmpJGT:
		return dst > src
	case jmpJGE:
		return dst >= src
	case jmpJLT:
		return dst < src
	case jmpJLE:
		return dst <= src
	case jmpJSET:
		return dst&src != 0
	case jmpJSGT:
		return signed(dst, is32) > signed(src, is32)
	case jmpJSGE:
		return signed(dst, is32) >= signed(src, is32)
	case jmpJSLT:
		return signed(dst, is32) < signed(src, is32)
	case jmpJSLE:
		return signed(dst, is32) <= signed(src, is32)
	}
	return false
}

func signed(v uint64, is32 bool) int64 {
	if is32 {
		return int64(int32(uint32(v)))
	}
	return int64(v)
}

// stepALU executes one ALU32/ALU64 instruction. Division and modulo by
// zero are defined, not trapped: division yields 0, modulo yields the
// dividend unchanged, matching the data model's documented semantics
// rather than the signal-raising behaviour of a CPU's native instruction.
func (vm *VM) stepALU(st *execState, in Instruction, is32 bool) error {
	dst := in.Dst
	var src uint64
	hasSrc := in.Opcode&0xf0 != aluNEG
	if hasSrc {
		if in.Opcode&srcX != 0 {
			src = st.regs[in.Src]
		} else {
			src = uint64(uint32(in.Imm))
			if !is32 {
				src = uint64(int64(in.Imm))
			}
		}
	}

	// LE/BE are ALU32 opcodes but carry their own width (up to 64) in imm,
	// so the 32-bit truncation does not apply to them.
	isEnd := in.Opcode&0xf0 == aluEND
	d := st.regs[dst]
	if is32 && !isEnd {
		d = uint64(uint32(d))
		src = uint64(uint32(src))
	}

	var result uint64
	switch in.Opcode & 0xf0 {
	case aluADD:
		result = d + src
	case aluSUB:
		result = d - src
	case aluMUL:
		result = d * src
	case aluDIV:
		if src == 0 {
			result = 0
		} else {
			result = d / src
		}
	case aluMOD:
		if src == 0 {
			result = d
		} else {
			result = d % src
		}
	case aluOR:
		result = d | src
	case aluAND:
		result = d & src
	case aluXOR:
		result = d ^ src
	case aluMOV:
		result = src
	case aluLSH:
		result = shiftResult(d, src, is32, shiftLogicalLeft)
	case aluRSH:
		result = shiftResult(d, src, is32, shiftLogicalRight)
	case aluARSH:
		result = shiftResult(d, src, is32, shiftArithRight)
	case aluNEG:
		if is32 {
			result = uint64(uint32(-int32(d)))
		} else {
			result = uint64(-int64(d))
		}
	case aluEND:
		result = vm.stepEndian(d, in, is32)
	default:
		return errInvalidArgument
	}

	if is32 && !isEnd {
		result = uint64(uint32(result))
	}
	st.regs[dst] = result
	return nil
}

type shiftDir int

const (
	shiftLogicalLeft shiftDir = iota
	shiftLogicalRight
	shiftArithRight
)

// shiftResult applies a shift with the shift count masked to the operand
// width (5 bits for 32-bit operands, 6 bits for 64-bit), the defined
// behaviour for out-of-range counts rather than undefined behaviour.
func shiftResult(d, count uint64, is32 bool, dir shiftDir) uint64 {
	mask := uint64(63)
	width := 64
	if is32 {
		mask = 31
		width = 32
	}
	n := uint(count & mask)

	switch dir {
	case shiftLogicalLeft:
		return d << n
	case shiftLogicalRight:
		return d >> n
	case shiftArithRight:
		if is32 {
			return uint64(uint32(int32(uint32(d)) >> n))
		}
		return uint64(int64(d) >> n)
	}
	_ = width
	return d
}

// stepEndian implements LE/BE/BSWAP: imm carries the target width (16/32/64).
// Which of the three this is comes from the opcode itself (LE and BE are
// distinct ALU32 opcodes; BSWAP is the ALU64 form), not from any per-
// instruction register field.
func (vm *VM) stepEndian(d uint64, in Instruction, is32 bool) uint64 {
	width := in.Imm
	switch in.Opcode {
	case OpLE: // host runs little-endian, so LE is a truncating no-op
		switch width {
		case 16:
			return uint64(uint16(d))
		case 32:
			return uint64(uint32(d))
		case 64:
			return d
		}
	case OpBE, OpBSWAP:
		switch width {
		case 16:
			return uint64(bits.ReverseBytes16(uint16(d)))
		case 32:
			return uint64(bits.ReverseBytes32(uint32(d)))
		case 64:
			return bits.ReverseBytes64(d)
		}
	}
	return d
}

func memSize(opcode uint8) int {
	switch opcode & 0x18 {
	case sizeB:
		return 1
	case sizeH:
		return 2
	case sizeW:
		return 4
	case sizeDW:
		return 8
	}
	return 0
}

// resolveMem picks the backing slice (stack or data) and byte offset for
// an address computed as base register + offset, consulting the bounds
// check hook first if one is registered and bounds checking is enabled,
// then the built-in stack/data range test in every case. The returned bool reports whether the access landed in the
// stack region, so callers can update the write-mask only for that case.
func (vm *VM) resolveMem(st *execState, base uint64, offset int16, size int) ([]byte, int, bool, error) {
	addr := int64(base) + int64(offset)

	if vm.boundsCheckEnabled && vm.boundsCheck != nil {
		ok := vm.boundsCheck(vm.boundsCheckCookie, uint64(addr), uint32(size), dataPtr(st.data), dataPtr(st.data)+uint64(len(st.data)))
		if !ok {
			return nil, 0, false, errOutOfBounds
		}
	}

	if addr >= 0 && addr+int64(size) <= int64(len(st.data)) {
		return st.data, int(addr), false, nil
	}
	stackBase := int64(stackTop(st.stack)) - int64(len(st.stack))
	if addr >= stackBase && addr+int64(size) <= int64(stackTop(st.stack)) {
		return st.stack, int(addr - stackBase), true, nil
	}
	return nil, 0, false, errOutOfBounds
}

func (vm *VM) stepLoad(st *execState, in Instruction) error {
	size := memSize(in.Opcode)
	buf, off, _, err := vm.resolveMem(st, st.regs[in.Src], in.Offset, size)
	if err != nil {
		return err
	}

	var v uint64
	switch size {
	case 1:
		v = uint64(buf[off])
	case 2:
		v = uint64(binary.LittleEndian.Uint16(buf[off:]))
	case 4:
		v = uint64(binary.LittleEndian.Uint32(buf[off:]))
	case 8:
		v = binary.LittleEndian.Uint64(buf[off:])
	}

	if in.Opcode&0xc0 == modeMEMSX {
		switch size {
		case 1:
			v = uint64(int64(int8(v)))
		case 2:
			v = uint64(int64(int16(v)))
		case 4:
			v = uint64(int64(int32(v)))
		}
	}

	st.regs[in.Dst] = v
	return nil
}

func (vm *VM) stepStore(st *execState, in Instruction, isImm bool) error {
	size := memSize(in.Opcode)
	buf, off, isStack, err := vm.resolveMem(st, st.regs[in.Dst], in.Offset, size)
	if err != nil {
		return err
	}

	var v uint64
	if isImm {
		v = uint64(int64(in.Imm))
	} else {
		v = st.regs[in.Src]
	}

	switch size {
	case 1:
		buf[off] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(buf[off:], uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(buf[off:], uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(buf[off:], v)
	}

	if isStack {
		markWritten(st.stackWriteMask, off, size)
	}
	return nil
}

func markWritten(mask []bool, off, size int) {
	for i := 0; i < size && off+i < len(mask); i++ {
		mask[off+i] = true
	}
}

// stepAtomic executes STX atomic-mode instructions: fetch-and-op and the
// two compare/exchange primitives (§4.4 "Atomic operations"). Go's runtime
// has no notion of concurrent access to this interpreted memory, so a
// single read-modify-write suffices; the atomicity contract only matters
// when multiple native JIT threads share memory, which is out of scope for
// the pure-interpreter path.
func (vm *VM) stepAtomic(st *execState, in Instruction) error {
	size := memSize(in.Opcode)
	buf, off, isStack, err := vm.resolveMem(st, st.regs[in.Dst], in.Offset, size)
	if err != nil {
		return err
	}

	readOld := func() uint64 {
		if size == 4 {
			return uint64(binary.LittleEndian.Uint32(buf[off:]))
		}
		return binary.LittleEndian.Uint64(buf[off:])
	}
	writeNew := func(v uint64) {
		if size == 4 {
			binary.LittleEndian.PutUint32(buf[off:], uint32(v))
		} else {
			binary.LittleEndian.PutUint64(buf[off:], v)
		}
	}

	sub := in.Imm
	old := readOld()
	src := st.regs[in.Src]

	switch uint8(sub) &^ AtomicFetch {
	case AtomicADD:
		writeNew(old + src)
	case AtomicOR:
		writeNew(old | src)
	case AtomicAND:
		writeNew(old & src)
	case AtomicXOR:
		writeNew(old ^ src)
	}

	switch uint8(sub) {
	case AtomicXCHG:
		writeNew(src)
		st.regs[in.Src] = old
	case AtomicCMPXCHG:
		if old == st.regs[R0] {
			writeNew(src)
		}
		st.regs[R0] = old
	default:
		if sub&int32(AtomicFetch) != 0 {
			st.regs[in.Src] = old
		}
	}

	if isStack {
		markWritten(st.stackWriteMask, off, size)
	}
	return nil
}
