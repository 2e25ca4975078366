package vm

import "errors"

// Execution-error sentinels (§7.3). Compared with errors.Is by callers
// that want to distinguish causes; exec/exec_ex return one of these, a
// configuration sentinel below (no program loaded, invalid stack buffer),
// or nil, rather than panicking.
var (
	errOutOfBounds              = errors.New("ubpf: memory access out of bounds")
	errDivisionTrap             = errors.New("ubpf: division by zero trapped")
	errInstructionLimitExceeded = errors.New("ubpf: instruction limit exceeded")
	errUnknownHelper            = errors.New("ubpf: call to unknown helper")
	errStackOverflow            = errors.New("ubpf: local call stack overflow")
	errUnreachablePC            = errors.New("ubpf: program counter left valid range")
	errReentrantDebugCallout    = errors.New("ubpf: debug callout attempted to reenter the VM")
)

// Configuration-error sentinels (§7.4).
var (
	errProgramAlreadyLoaded = errors.New("ubpf: operation invalid after a program has been loaded")
	errNoProgramLoaded      = errors.New("ubpf: operation requires a loaded program")
	errInvalidArgument      = errors.New("ubpf: invalid argument")
)

// Resource-error sentinels (§7.2), returned from Compile/Translate.
var (
	errTooManyJumps      = errors.New("ubpf: jit: too many jump fixups")
	errTooManyLoads      = errors.New("ubpf: jit: too many literal-pool loads")
	errTooManyLeas       = errors.New("ubpf: jit: too many lea fixups")
	errTooManyLocalCalls = errors.New("ubpf: jit: too many local-call fixups")
	errNotEnoughSpace    = errors.New("ubpf: jit: not enough space in code buffer")
	errUnresolvedFixup   = errors.New("ubpf: jit: a fixup target could not be resolved")
)
