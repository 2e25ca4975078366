package vm

import "testing"

func TestFixupTablesResolveRegularTarget(t *testing.T) {
	ft := newFixupTables(4)
	ft.markPC(0, 100)
	ft.markPC(1, 108)
	assert(t, ft.addJump(4, regularTarget(1)) == nil, "addJump should succeed under the limit")

	var patched int
	err := ft.resolve(nil, func(f fixup, dest int) error {
		patched = dest
		return nil
	})
	assert(t, err == nil, "unexpected resolve error: %v", err)
	assert(t, patched == 108, "expected fixup to resolve to pc 1's offset 108, got %d", patched)
}

func TestFixupTablesResolveSpecialTarget(t *testing.T) {
	ft := newFixupTables(1)
	assert(t, ft.addJump(0, specialTarget(targetEpilogue)) == nil, "addJump should succeed")

	var patched int
	err := ft.resolve(map[targetKind]int{targetEpilogue: 42}, func(f fixup, dest int) error {
		patched = dest
		return nil
	})
	assert(t, err == nil, "unexpected resolve error: %v", err)
	assert(t, patched == 42, "expected special target to resolve to 42, got %d", patched)
}

func TestFixupTablesResolveUnknownTargetFails(t *testing.T) {
	ft := newFixupTables(1)
	assert(t, ft.addJump(0, regularTarget(99)) == nil, "addJump should succeed")

	err := ft.resolve(nil, func(f fixup, dest int) error { return nil })
	assert(t, err == errUnresolvedFixup, "expected errUnresolvedFixup for an un-marked pc, got %v", err)
}

func TestFixupTablesEnforcePerKindLimit(t *testing.T) {
	ft := newFixupTables(0)
	ft.jumps = make([]fixup, maxFixupsPerKind)
	err := ft.addJump(0, regularTarget(0))
	assert(t, err == errTooManyJumps, "expected errTooManyJumps once the table is full, got %v", err)
}
