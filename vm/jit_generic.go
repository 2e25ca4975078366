//go:build !amd64 && !arm64

package vm

import "errors"

// newArchTranslator on an architecture with no native backend always fails
// at Compile/Translate time; Exec/ExecEx (the interpreter) remain fully
// functional.
func newArchTranslator() translator { return genericTranslator{} }

type genericTranslator struct{}

func (genericTranslator) translate(vm *VM, prog []Instruction, buf []byte) (JITFunc, JITFuncEx, int, error) {
	return nil, nil, 0, errors.New("ubpf: no jit backend for this architecture")
}
