package vm

import (
	"runtime"
	"testing"
)

func alwaysKnownHelper(k uint32) bool { return k == 0 }

func TestValidateProgramRejectsMissingExit(t *testing.T) {
	prog := []Instruction{
		{Opcode: classALU64 | aluMOV | srcK, Dst: 0, Imm: 1},
	}
	_, err := validateProgram(prog, alwaysKnownHelper, nil)
	assert(t, err != nil, "expected an error for a program missing EXIT")
}

func TestValidateProgramAcceptsSimpleReturn(t *testing.T) {
	prog := []Instruction{
		{Opcode: classALU64 | aluMOV | srcK, Dst: 0, Imm: 7},
		{Opcode: OpEXIT},
	}
	res, err := validateProgram(prog, alwaysKnownHelper, nil)
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, res.localEntries[0], "entry point should always be a local-function entry")
}

func TestValidateProgramRejectsUnknownHelper(t *testing.T) {
	prog := []Instruction{
		{Opcode: OpCALL, Src: 0, Imm: 9},
		{Opcode: OpEXIT},
	}
	_, err := validateProgram(prog, alwaysKnownHelper, nil)
	assert(t, err != nil, "expected an error calling an unregistered helper")
}

func TestValidateProgramDiscoversLocalCallTargets(t *testing.T) {
	prog := []Instruction{
		{Opcode: OpCALL, Src: 1, Imm: 1}, // call pc 0 -> target pc 2
		{Opcode: OpEXIT},
		{Opcode: classALU64 | aluMOV | srcK, Dst: 0, Imm: 42},
		{Opcode: OpEXIT},
	}
	res, err := validateProgram(prog, alwaysKnownHelper, nil)
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, res.localEntries[2], "pc 2 should be discovered as a local-call target")
}

func TestValidateProgramRejectsOutOfRangeCallTarget(t *testing.T) {
	prog := []Instruction{
		{Opcode: OpCALL, Src: 1, Imm: 100},
		{Opcode: OpEXIT},
	}
	_, err := validateProgram(prog, alwaysKnownHelper, nil)
	assert(t, err != nil, "expected an error for an out-of-range local-call target")
}

func TestValidateProgramRejectsBadStackUsage(t *testing.T) {
	prog := []Instruction{
		{Opcode: OpCALL, Src: 1, Imm: 1},
		{Opcode: OpEXIT},
		{Opcode: classALU64 | aluMOV | srcK, Dst: 0, Imm: 1},
		{Opcode: OpEXIT},
	}
	badCalc := func(pc uint32) uint32 { return 33 } // not a multiple of 16
	_, err := validateProgram(prog, alwaysKnownHelper, badCalc)
	assert(t, err != nil, "expected an error for a non-16-aligned stack size")
}

func TestValidateProgramRejectsBadFieldValue(t *testing.T) {
	prog := []Instruction{
		{Opcode: classALU64 | aluMOV | srcK, Dst: 11, Imm: 1}, // dst out of range
		{Opcode: OpEXIT},
	}
	_, err := validateProgram(prog, alwaysKnownHelper, nil)
	assert(t, err != nil, "expected an error for dst register 11")
}

func TestValidateProgramCALLXIsArchRestricted(t *testing.T) {
	prog := []Instruction{
		{Opcode: OpCALLX, Dst: 3},
		{Opcode: OpEXIT},
	}
	_, err := validateProgram(prog, alwaysKnownHelper, nil)
	if runtime.GOARCH == "amd64" {
		assert(t, err == nil, "CALLX should be accepted on amd64, got %v", err)
	} else {
		assert(t, err != nil, "CALLX should be rejected on GOARCH=%s", runtime.GOARCH)
	}
}

func TestValidateProgramRejectsLDDWMissingSecondSlot(t *testing.T) {
	prog := []Instruction{
		{Opcode: OpLDDW, Dst: 0, Imm: 1},
		{Opcode: OpEXIT}, // wrong: should be opLDDWHigh
	}
	_, err := validateProgram(prog, alwaysKnownHelper, nil)
	assert(t, err != nil, "expected an error for a malformed LDDW pair")
}
