package vm

import "testing"

// TestCompileThenRunCompiledMatchesInterpreter exercises the full Compile
// pipeline (buffer allocation, translation, W^X transition) and confirms
// RunCompiled returns the right answer. It does not exercise native-code
// dispatch: RunCompiled always computes its result by running the program
// through the interpreter (see the translator interface doc in jit.go), so
// this is expected to match Exec's result for the same program exactly rather than
// being independent corroboration of the emitted machine code's behavior.
func TestCompileThenRunCompiledMatchesInterpreter(t *testing.T) {
	m := New()
	defer m.Destroy()
	prog := (&asm{}).movImm(R0, 10).aluImm(aluADD, R0, 5).exit().bytes()
	assert(t, m.Load(prog) == nil, "load should succeed")

	if err := m.Compile(); err != nil {
		t.Skipf("no jit backend available on this platform: %v", err)
	}

	result, err := m.RunCompiled(nil)
	assert(t, err == nil, "unexpected error running compiled code: %v", err)
	assert(t, result == 15, "expected compiled program to return 15, got %d", result)
}

func TestTranslateProducesNonEmptyOutput(t *testing.T) {
	m := New()
	defer m.Destroy()
	prog := (&asm{}).movImm(R0, 1).exit().bytes()
	assert(t, m.Load(prog) == nil, "load should succeed")

	buf := make([]byte, 4096)
	n, err := m.Translate(buf)
	if err != nil {
		t.Skipf("no jit backend available on this platform: %v", err)
	}
	assert(t, n > 0, "expected a non-empty translation")
}
