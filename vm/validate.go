package vm

import (
	"fmt"
	"runtime"
)

// validationResult is what a successful validation pass hands back to the
// loader: which instruction indices begin a local function, and how much
// stack each of those functions requested.
type validationResult struct {
	localEntries []bool
	stackUsage   []uint32 // indexed like localEntries; only meaningful where localEntries[i]
}

// validateProgram runs the C2 checks of spec.md §4.2, in order, over prog.
// helperKnown reports whether helper slot k is registered (or an external
// dispatcher with its own validator covers it). stackCalc, if non-nil, is
// invoked once per discovered local-function entry.
func validateProgram(prog []Instruction, helperKnown func(k uint32) bool, stackCalc StackUsageCalculator) (*validationResult, error) {
	n := len(prog)
	if n == 0 {
		return nil, fmt.Errorf("ubpf: program has no instructions")
	}
	if prog[n-1].Opcode != OpEXIT {
		return nil, fmt.Errorf("ubpf: program does not end with EXIT")
	}

	localEntries := make([]bool, n)
	// Program entry is always a function (the entry point), default stack 512.
	localEntries[0] = true

	// Pass 1: discover every local-call target so check 4 (call target) can
	// consult a complete set without forward-reference trouble.
	for i := 0; i < n; i++ {
		in := prog[i]
		if in.Opcode == OpCALL && in.Src == 1 {
			target := i + int(in.Imm) + 1
			if target < 0 || target >= n {
				return nil, fmt.Errorf("call to unknown helper %d", in.Imm)
			}
			localEntries[target] = true
		}
	}

	// Pass 2: field predicates, LDDW closure, call/branch targets, register
	// bounds.
	for i := 0; i < n; i++ {
		in := prog[i]

		spec := opcodeTable[in.Opcode]
		if spec == nil {
			return nil, fmt.Errorf("unknown opcode 0x%02x at PC %d", in.Opcode, i)
		}

		if err := checkField("src", int64(in.Src), spec.src); err != nil {
			return nil, fmt.Errorf("invalid src %d for instruction 0x%02x at PC %d: %w", in.Src, in.Opcode, i, err)
		}
		if err := checkField("dst", int64(in.Dst), spec.dst); err != nil {
			return nil, fmt.Errorf("invalid dst %d for instruction 0x%02x at PC %d: %w", in.Dst, in.Opcode, i, err)
		}
		if err := checkField("offset", int64(in.Offset), spec.offset); err != nil {
			return nil, fmt.Errorf("invalid offset %d for instruction 0x%02x at PC %d: %w", in.Offset, in.Opcode, i, err)
		}
		if err := checkField("imm", int64(in.Imm), spec.imm); err != nil {
			return nil, fmt.Errorf("invalid imm %d for instruction 0x%02x at PC %d: %w", in.Imm, in.Opcode, i, err)
		}

		// Register bounds: writes to R10 are rejected everywhere except
		// implicit frame-pointer addressing (src position on loads/stores),
		// which the field predicates above already constrain (dst must be
		// regLow i.e. R0..R9 for every write-capable opcode; only src/base
		// fields allow regAny/R10).

		if in.Opcode == OpCALLX && runtime.GOARCH != "amd64" {
			return nil, fmt.Errorf("ubpf: CALLX at PC %d is x86-64 only, rejected on GOARCH=%s", i, runtime.GOARCH)
		}

		if isLDDW(in.Opcode) {
			if i+1 >= n {
				return nil, fmt.Errorf("unknown opcode 0x%02x at PC %d: LDDW missing second slot", in.Opcode, i)
			}
			second := prog[i+1]
			if second.Opcode != opLDDWHigh {
				return nil, fmt.Errorf("invalid second half of LDDW at PC %d", i+1)
			}
			continue
		}

		if in.Opcode == OpCALL {
			if in.Src == 0 {
				k := uint32(in.Imm)
				if k >= 64 || !helperKnown(k) {
					return nil, fmt.Errorf("call to unknown helper %d", in.Imm)
				}
			} else {
				target := i + int(in.Imm) + 1
				if target < 0 || target >= n || !localEntries[target] {
					return nil, fmt.Errorf("call to unknown helper %d", in.Imm)
				}
			}
		}

		if isConditionalJump(in.Opcode) || isJA(in.Opcode) {
			var d int
			if in.Opcode == OpJA32 {
				d = int(in.Imm)
			} else {
				d = int(in.Offset)
			}
			target := i + d + 1
			if target < 0 || target > n {
				return nil, fmt.Errorf("invalid offset %d for instruction 0x%02x", d, in.Opcode)
			}
		}
	}

	// Check 7: stack usage for every discovered local-function entry.
	usage := make([]uint32, n)
	for i := 0; i < n; i++ {
		if !localEntries[i] {
			continue
		}
		if i == 0 {
			usage[i] = defaultStackSize
			continue
		}
		if stackCalc == nil {
			usage[i] = defaultStackSize
			continue
		}
		v := stackCalc(uint32(i))
		if v > defaultStackSize || (v != 0 && v%16 != 0) {
			return nil, fmt.Errorf("local function (at PC %d) has improperly sized stack use (%d)", i, v)
		}
		usage[i] = v
	}

	return &validationResult{localEntries: localEntries, stackUsage: usage}, nil
}

func checkField(name string, v int64, pred predicate) error {
	if pred == nil {
		if v != 0 {
			return fmt.Errorf("field %s must be zero, got %d", name, v)
		}
		return nil
	}
	if !pred(v) {
		return fmt.Errorf("field %s rejected value %d", name, v)
	}
	return nil
}
