package vm

import (
	"fmt"
	"os"
)

// Register indices (§3 "Register file").
const (
	R0 = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	numRegisters
)

const (
	defaultMaxInstructions = 65536
	defaultStackSize       = 512 // bytes, per program-stack frame
)

// VM is the single mutable record shared by the validator, interpreter and
// both JIT back-ends (§3 "VM record"). Every public operation in §6 is a
// method on *VM, which owns all of its state rather than splitting it
// across globals.
type VM struct {
	loaded bool

	program      []Instruction
	localEntries []bool
	stackUsage   []uint32

	helpers helperTable

	boundsCheck       DataBoundsCheck
	boundsCheckCookie uint64
	dataReloc         func(cookie uint64, data []byte) []byte
	dataRelocCookie   uint64

	stackCalc       StackUsageCalculator
	stackCalcCookie uint64

	debugCallout   DebugCallout
	debugCookie    uint64
	inDebugCallout bool

	errorPrinter func(format string, args ...any)

	boundsCheckEnabled   bool
	ubCheckEnabled       bool
	constantBlinding     bool
	readonlyBytecode     bool

	maxInstructions uint32
	jitCodeSize     uint32
	unwindIndex     int32 // -1 means "no unwind helper configured"

	jitBuf  *codeBuffer
	jitFn   JITFunc
	jitFnEx JITFuncEx

	translate func(vm *VM, buf []byte) (size int, err error)
}

// JITFunc is the basic-mode compiled entry point (§6).
type JITFunc func(data []byte) uint64

// JITFuncEx is the extended-mode compiled entry point, taking a
// caller-supplied stack buffer.
type JITFuncEx func(data []byte, stack []byte) uint64

// New creates an empty VM (§6 create()). The translator is chosen once,
// here, by compile-time architecture detection (§3 "the translator
// function pointer"); see jit_amd64.go / jit_arm64.go / jit_generic.go.
func New() *VM {
	vm := &VM{
		maxInstructions:  defaultMaxInstructions,
		jitCodeSize:      defaultJITCodeSize,
		unwindIndex:      -1,
		boundsCheckEnabled: true,
		readonlyBytecode:   true,
		errorPrinter: func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, format, args...)
		},
	}
	vm.translate = selectTranslator()
	return vm
}

// Destroy releases everything the VM owns (§6 destroy()). Infallible;
// safe to call at any lifecycle state, safe to call twice.
func (vm *VM) Destroy() {
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

func (vm *VM) requireNotLoaded() error {
	if vm.loaded {
		return errProgramAlreadyLoaded
	}
	return nil
}

func (vm *VM) requireLoaded() error {
	if !vm.loaded {
		return errNoProgramLoaded
	}
	return nil
}

// SetMaxInstructions raises or restores the instruction-count ceiling
// (§3 "Program", §4.3). 0 restores the default of 65536.
func (vm *VM) SetMaxInstructions(n uint32) error {
	if err := vm.requireNotLoaded(); err != nil {
		return err
	}
	if n == 0 {
		n = defaultMaxInstructions
	}
	vm.maxInstructions = n
	return nil
}

// SetJITCodeSize sets the capacity reserved for the JIT output buffer.
func (vm *VM) SetJITCodeSize(n uint32) error {
	if err := vm.requireNotLoaded(); err != nil {
		return err
	}
	if n == 0 {
		return errInvalidArgument
	}
	vm.jitCodeSize = n
	return nil
}

// SetUnwindIndex designates the single helper whose returning zero causes
// immediate program exit (§4.4 "Call semantics").
func (vm *VM) SetUnwindIndex(idx uint32) error {
	if idx >= MaxHelpers {
		return errInvalidArgument
	}
	vm.unwindIndex = int32(idx)
	return nil
}

// RegisterHelper fills helper slot idx (§6 register_helper()).
func (vm *VM) RegisterHelper(idx uint32, name string, fn HelperFunc) error {
	if err := vm.requireNotLoaded(); err != nil {
		return err
	}
	if fn == nil {
		return errInvalidArgument
	}
	return vm.helpers.register(idx, name, fn)
}

// RegisterExternalDispatcher overrides per-index helper lookup (§6). May be
// called at any time, per the lifecycle table in §4.3.
func (vm *VM) RegisterExternalDispatcher(dispatcher ExternalDispatcher, validator ExternalDispatcherValidator) {
	vm.helpers.dispatcher = dispatcher
	vm.helpers.dispatcherVal = validator
}

// RegisterDebugCallout installs the per-instruction debug hook (§4.4).
func (vm *VM) RegisterDebugCallout(cookie uint64, fn DebugCallout) {
	vm.debugCookie = cookie
	vm.debugCallout = fn
}

// RegisterDataBoundsCheck installs a bounds-check callback (§4.4
// "Load/store semantics"), consulted before each access while bounds
// checking is enabled. It does not replace the built-in range test: an
// access the callback accepts must still lie in the data or stack region.
func (vm *VM) RegisterDataBoundsCheck(cookie uint64, fn DataBoundsCheck) {
	vm.boundsCheckCookie = cookie
	vm.boundsCheck = fn
}

// RegisterStackUsageCalculator installs the per-local-function stack sizer
// consulted by the validator (§4.2 check 7). The sizes are recorded at
// load time; neither execution path lays out frames from them, and a
// local call runs on the caller's R10.
func (vm *VM) RegisterStackUsageCalculator(fn StackUsageCalculator, cookie uint64) {
	vm.stackCalcCookie = cookie
	vm.stackCalc = fn
}

// ToggleBoundsCheck enables/disables the registered bounds-check callback
// (see RegisterDataBoundsCheck) and returns the previous setting. The
// built-in range test against the data and stack regions applies either way.
func (vm *VM) ToggleBoundsCheck(enable bool) bool {
	prev := vm.boundsCheckEnabled
	vm.boundsCheckEnabled = enable
	return prev
}

// ToggleConstantBlinding enables/disables constant blinding in the JIT
// back-ends and returns the previous setting.
func (vm *VM) ToggleConstantBlinding(enable bool) bool {
	prev := vm.constantBlinding
	vm.constantBlinding = enable
	return prev
}

// ToggleReadonlyBytecode enables/disables the defensive copy-on-load
// behaviour and returns the previous setting. Like SetMaxInstructions, this
// is rejected once a program has been loaded (§4.3).
func (vm *VM) ToggleReadonlyBytecode(enable bool) (previous bool, err error) {
	if err := vm.requireNotLoaded(); err != nil {
		return vm.readonlyBytecode, err
	}
	prev := vm.readonlyBytecode
	vm.readonlyBytecode = enable
	return prev, nil
}

// ToggleUndefinedBehaviorCheck records the strict undefined-behaviour
// setting and returns the previous value. Neither the interpreter nor the
// JIT back-ends read it, so no instruction traps because of it.
func (vm *VM) ToggleUndefinedBehaviorCheck(enable bool) bool {
	prev := vm.ubCheckEnabled
	vm.ubCheckEnabled = enable
	return prev
}
