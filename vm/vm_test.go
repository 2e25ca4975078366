package vm

import "testing"

func TestLoadRejectsTruncatedProgram(t *testing.T) {
	m := New()
	defer m.Destroy()
	err := m.Load([]byte{1, 2, 3})
	assert(t, err != nil, "expected an error loading a non-multiple-of-8 byte slice")
}

func TestLoadThenLoadAgainFails(t *testing.T) {
	m := New()
	defer m.Destroy()
	prog := (&asm{}).movImm(R0, 1).exit().bytes()
	assert(t, m.Load(prog) == nil, "first load should succeed")
	err := m.Load(prog)
	assert(t, err == errProgramAlreadyLoaded, "second load should fail with errProgramAlreadyLoaded, got %v", err)
}

func TestUnloadAllowsReload(t *testing.T) {
	m := New()
	defer m.Destroy()
	prog := (&asm{}).movImm(R0, 1).exit().bytes()
	assert(t, m.Load(prog) == nil, "load should succeed")
	m.Unload()
	assert(t, m.Load(prog) == nil, "reload after unload should succeed")
}

func TestSetMaxInstructionsRejectedAfterLoad(t *testing.T) {
	m := New()
	defer m.Destroy()
	prog := (&asm{}).movImm(R0, 1).exit().bytes()
	assert(t, m.Load(prog) == nil, "load should succeed")
	err := m.SetMaxInstructions(10)
	assert(t, err == errProgramAlreadyLoaded, "expected errProgramAlreadyLoaded, got %v", err)
}

func TestToggleReadonlyBytecodeReturnsPrevious(t *testing.T) {
	m := New()
	defer m.Destroy()
	prev, err := m.ToggleReadonlyBytecode(false)
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, prev == true, "default readonlyBytecode should be true")
}

func TestRegisterHelperRejectsOutOfRangeIndex(t *testing.T) {
	m := New()
	defer m.Destroy()
	err := m.RegisterHelper(MaxHelpers, "oops", func(a, b, c, d, e, cookie uint64) uint64 { return 0 })
	assert(t, err == errInvalidArgument, "expected errInvalidArgument, got %v", err)
}

func TestExecRunsSimpleProgram(t *testing.T) {
	m := New()
	defer m.Destroy()
	prog := (&asm{}).movImm(R0, 42).exit().bytes()
	assert(t, m.Load(prog) == nil, "load should succeed")

	result, err := m.Exec(nil, 0)
	assert(t, err == nil, "unexpected exec error: %v", err)
	assert(t, result == 42, "expected R0 == 42, got %d", result)
}

func TestExecWithHelperCall(t *testing.T) {
	m := New()
	defer m.Destroy()
	err := m.RegisterHelper(3, "double", func(a0, a1, a2, a3, a4, cookie uint64) uint64 {
		return a0 * 2
	})
	assert(t, err == nil, "register helper should succeed")

	prog := (&asm{}).movImm(R1, 21).call(3).exit().bytes()
	assert(t, m.Load(prog) == nil, "load should succeed")

	result, err := m.Exec(nil, 0)
	assert(t, err == nil, "unexpected exec error: %v", err)
	assert(t, result == 42, "expected R0 == 42 from helper doubling R1, got %d", result)
}

func TestLoadRejectsCallToUnregisteredHelper(t *testing.T) {
	m := New()
	defer m.Destroy()
	prog := (&asm{}).call(5).exit().bytes()
	err := m.Load(prog)
	assert(t, err != nil, "expected load to fail validating a call to an unregistered helper")
}
