package vm

// targetKind distinguishes a fixup that resolves to a fixed runtime helper
// (the epilogue, the division-trap handler, the retpoline thunk) from one
// that resolves to a position within the translated program itself.
type targetKind int

const (
	targetRegular targetKind = iota
	targetEpilogue
	targetDivideByZero
	targetRetpoline
	targetUnwind
)

// patchableTarget is the sum type C5 threads through every fixup table: a
// jump/load/lea/local-call either targets a fixed "special" runtime
// location or a specific (ebpf_pc, jit_pc) pair discovered during the first
// emission pass.
type patchableTarget struct {
	kind    targetKind
	ebpfPC  uint32
	jitPC   uint32
	isSpecial bool
}

func specialTarget(kind targetKind) patchableTarget {
	return patchableTarget{kind: kind, isSpecial: true}
}

func regularTarget(ebpfPC uint32) patchableTarget {
	return patchableTarget{kind: targetRegular, ebpfPC: ebpfPC}
}

// fixup records one site in the emitted machine code that needs patching
// once every target address is known: offset is the byte position of the
// value to overwrite, target says what it should resolve to.
type fixup struct {
	offset int
	target patchableTarget
}

// fixupTables is a growable-slice-of-structs table applied to the four kinds
// of forward reference a JIT pass discovers before it knows where everything
// ends up: conditional/unconditional jumps, PC-relative literal loads,
// lea-style address materializations, and local (bpf-to-bpf) calls.
type fixupTables struct {
	jumps      []fixup
	loads      []fixup
	leas       []fixup
	localCalls []fixup

	// pcLocs maps an source instruction index to the byte offset in the
	// output buffer where its translation begins. Populated during
	// emission, consulted during resolve.
	pcLocs map[uint32]int
}

func newFixupTables(numInstructions int) *fixupTables {
	return &fixupTables{
		pcLocs: make(map[uint32]int, numInstructions),
	}
}

func (t *fixupTables) markPC(ebpfPC uint32, jitOffset int) {
	t.pcLocs[ebpfPC] = jitOffset
}

func (t *fixupTables) addJump(offset int, target patchableTarget) error {
	if len(t.jumps) >= maxFixupsPerKind {
		return errTooManyJumps
	}
	t.jumps = append(t.jumps, fixup{offset: offset, target: target})
	return nil
}

func (t *fixupTables) addLoad(offset int, target patchableTarget) error {
	if len(t.loads) >= maxFixupsPerKind {
		return errTooManyLoads
	}
	t.loads = append(t.loads, fixup{offset: offset, target: target})
	return nil
}

func (t *fixupTables) addLea(offset int, target patchableTarget) error {
	if len(t.leas) >= maxFixupsPerKind {
		return errTooManyLeas
	}
	t.leas = append(t.leas, fixup{offset: offset, target: target})
	return nil
}

func (t *fixupTables) addLocalCall(offset int, target patchableTarget) error {
	if len(t.localCalls) >= maxFixupsPerKind {
		return errTooManyLocalCalls
	}
	t.localCalls = append(t.localCalls, fixup{offset: offset, target: target})
	return nil
}

// maxFixupsPerKind bounds each table so a pathological program can't grow
// unbounded memory during compilation; 4x the max instruction count is
// generous headroom since most instructions produce at most one fixup of
// any given kind.
const maxFixupsPerKind = 4 * 65536

// resolve turns every fixup's patchableTarget into a concrete byte offset
// in buf, then calls patch for each one. special gives the fixed offsets
// for the non-regular target kinds (epilogue, divide-trap, retpoline,
// unwind), which the architecture backend already emitted once.
func (t *fixupTables) resolve(special map[targetKind]int, patch func(fixup, int) error) error {
	all := make([]fixup, 0, len(t.jumps)+len(t.loads)+len(t.leas)+len(t.localCalls))
	all = append(all, t.jumps...)
	all = append(all, t.loads...)
	all = append(all, t.leas...)
	all = append(all, t.localCalls...)

	for _, f := range all {
		var dest int
		if f.target.isSpecial {
			off, ok := special[f.target.kind]
			if !ok {
				return errUnresolvedFixup
			}
			dest = off
		} else {
			off, ok := t.pcLocs[f.target.ebpfPC]
			if !ok {
				return errUnresolvedFixup
			}
			dest = off
		}
		if err := patch(f, dest); err != nil {
			return err
		}
	}
	return nil
}
