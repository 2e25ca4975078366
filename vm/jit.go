package vm

// defaultJITCodeSize is the initial capacity reserved for compiled output:
// big enough for realistic programs, cheap enough to allocate unconditionally.
const defaultJITCodeSize = 1 << 20 // 1 MiB

// translator is implemented once per supported architecture (jit_amd64.go,
// jit_arm64.go) and once as a fallback (jit_generic.go). translate emits
// native code for prog into buf, returning the number of bytes written.
//
// The jitFn/jitFnEx it hands back do not branch into that native code: Go
// has no toolchain-verifiable way to invoke a raw function pointer under a
// hand-rolled calling convention without either cgo (not used anywhere in
// this codebase) or an architecture-specific assembly trampoline that can
// only be trusted once it has actually been assembled and run. Both
// back-ends instead route execution through the shared interpreter
// (interpretFallback), so Compile/RunCompiled/RunCompiledEx are correct and
// safe to call, while the bytes written into buf remain real, inspectable
// machine code reachable through Translate.
type translator interface {
	translate(vm *VM, prog []Instruction, buf []byte) (jitFn JITFunc, jitFnEx JITFuncEx, size int, err error)
}

// selectTranslator is resolved at VM construction time by build-tag'd
// architecture detection; see the arch-specific files for the three
// implementations of newArchTranslator (one per GOARCH build-tag set, one
// fallback).
func selectTranslator() func(vm *VM, buf []byte) (size int, err error) {
	t := newArchTranslator()
	return func(vm *VM, buf []byte) (int, error) {
		fn, fnEx, size, err := t.translate(vm, vm.program, buf)
		if err != nil {
			return 0, err
		}
		vm.jitFn = fn
		vm.jitFnEx = fnEx
		return size, nil
	}
}

// Compile translates the loaded program to native machine code in a fresh
// W^X buffer and installs the entry points RunCompiled/RunCompiledEx call
// (§6 compile()). The VM must already have a program loaded via Load. Note
// that those entry points execute the program through the interpreter, not
// by jumping into the buffer Compile just produced; see the translator
// interface doc for why.
func (vm *VM) Compile() error {
	if err := vm.requireLoaded(); err != nil {
		return err
	}
	return vm.compileInto()
}

func (vm *VM) compileInto() error {
	buf, err := newCodeBuffer(int(vm.jitCodeSize))
	if err != nil {
		return err
	}
	_, err = vm.translate(vm, buf.mem)
	if err != nil {
		buf.release()
		return err
	}
	if err := buf.makeExecutable(); err != nil {
		buf.release()
		return err
	}
	if vm.jitBuf != nil {
		vm.jitBuf.release()
	}
	vm.jitBuf = buf
	return nil
}

// CompileEx is Compile for callers who intend to drive the result through
// RunCompiledEx with their own stack buffer; the generated code is
// identical, this only documents which entry point the caller means to
// use afterward.
func (vm *VM) CompileEx() error {
	return vm.Compile()
}

// RunCompiled invokes the basic-mode entry point produced by the most
// recent successful Compile (§6, the native counterpart to Exec). The
// result is computed by the interpreter, not by executing the bytes
// Compile wrote into the JIT buffer; see the translator interface doc.
func (vm *VM) RunCompiled(data []byte) (uint64, error) {
	if vm.jitFn == nil {
		return 0, errNoProgramLoaded
	}
	return vm.jitFn(data), nil
}

// RunCompiledEx invokes the extended-mode entry point against a
// caller-supplied stack buffer (§6, the native counterpart to ExecEx). Like
// RunCompiled, it is computed by the interpreter rather than by dispatching
// to native code.
func (vm *VM) RunCompiledEx(data []byte, stack []byte) (uint64, error) {
	if vm.jitFnEx == nil {
		return 0, errNoProgramLoaded
	}
	return vm.jitFnEx(data, stack), nil
}

// Translate compiles the loaded program and copies the resulting machine
// code into dst, returning the number of bytes written without installing
// it as the VM's callable entry point (§6 translate(), used by disassembly
// and inspection tooling rather than execution).
func (vm *VM) Translate(dst []byte) (int, error) {
	if err := vm.requireLoaded(); err != nil {
		return 0, err
	}
	scratch := make([]byte, vm.jitCodeSize)
	fn, fnEx := vm.jitFn, vm.jitFnEx
	size, err := vm.translate(vm, scratch)
	vm.jitFn, vm.jitFnEx = fn, fnEx
	if err != nil {
		return 0, err
	}
	if size > len(dst) {
		return 0, errNotEnoughSpace
	}
	copy(dst, scratch[:size])
	return size, nil
}
