package vm

// Load validates raw and, on success, installs it as the VM's program
// (§6 load()). raw must be a whole number of 8-byte instruction records.
// Per §4.3's lifecycle table this is only legal before a program has been
// loaded; call Unload first to replace one.
func (vm *VM) Load(raw []byte) error {
	if err := vm.requireNotLoaded(); err != nil {
		return err
	}
	if len(raw)%InstructionSize != 0 {
		return errInvalidArgument
	}
	if uint32(len(raw)/InstructionSize) > vm.maxInstructions {
		return errInstructionLimitExceeded
	}

	prog := DecodeProgram(raw)
	result, err := validateProgram(prog, vm.helpers.known, vm.stackCalc)
	if err != nil {
		return err
	}

	if vm.readonlyBytecode {
		owned := make([]Instruction, len(prog))
		copy(owned, prog)
		prog = owned
	}

	vm.program = prog
	vm.localEntries = result.localEntries
	vm.stackUsage = result.stackUsage
	vm.loaded = true
	return nil
}

// Unload clears the current program and any compiled JIT output, returning
// the VM to its pre-load configurable state (§6 unload()).
func (vm *VM) Unload() {
	if vm.jitBuf != nil {
		vm.jitBuf.release()
		vm.jitBuf = nil
	}
	vm.jitFn = nil
	vm.jitFnEx = nil
	vm.program = nil
	vm.localEntries = nil
	vm.stackUsage = nil
	vm.loaded = false
}
