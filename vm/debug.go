package vm

import "fmt"

// fireDebugCallout invokes the registered debug hook, if any, guarding
// against the reentrancy the contract in §4.4 forbids.
func (vm *VM) fireDebugCallout(pc uint32, regs *[11]uint64, stack []byte, writeMask []bool) error {
	if vm.debugCallout == nil {
		return nil
	}
	if vm.inDebugCallout {
		return errReentrantDebugCallout
	}
	vm.inDebugCallout = true
	defer func() { vm.inDebugCallout = false }()
	vm.debugCallout(vm.debugCookie, pc, regs, stack, writeMask)
	return nil
}

// formatInstruction renders an instruction for diagnostics, the way the
// teacher's formatInstructionStr annotates a PC with its source line.
func (vm *VM) formatInstruction(pc uint32) string {
	if int(pc) >= len(vm.program) {
		return ""
	}
	in := vm.program[pc]
	return fmt.Sprintf("%d: %s dst=r%d src=r%d off=%d imm=%d", pc, OpcodeName(in.Opcode), in.Dst, in.Src, in.Offset, in.Imm)
}

// reportError writes a diagnostic through the configured error printer,
// defaulting to stderr (§3 "error printer").
func (vm *VM) reportError(format string, args ...any) {
	if vm.errorPrinter == nil {
		return
	}
	vm.errorPrinter(format+"\n", args...)
}
