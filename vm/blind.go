package vm

import (
	"crypto/rand"
	"encoding/binary"
)

// freshRandUint64 draws 64 fresh bits of cryptographically secure
// randomness for a single blinding site. A cached, process-wide seed would
// make every compilation of the same program emit identical blinded bytes
// for the same immediate, defeating the point of blinding entirely
// (invariant 7: two independent compilations of the same program must
// produce different byte sequences regardless of input).
func freshRandUint64() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// blindImm32 returns a (rand, imm^rand) pair drawn fresh on every call: the
// JIT back-ends emit a load of rand followed by an XOR with imm^rand,
// reconstructing imm without ever placing it in the instruction stream as a
// literal (§4.5 "Constant blinding"). If the host RNG fails it returns
// (0, imm): the emitted sequence then carries imm unblinded, and the
// back-ends do not check for this case. A successful draw is never zero.
func blindImm32(imm int32) (rnd uint32, blinded uint32) {
	r, err := freshRandUint64()
	if err != nil {
		return 0, uint32(imm)
	}
	rnd = uint32(r) | 1 // never zero
	blinded = uint32(imm) ^ rnd
	return rnd, blinded
}

// blindImm64 is the LDDW variant: the full 64-bit immediate is blinded the
// same way, with a fresh random mask per call site.
func blindImm64(imm uint64) (rnd uint64, blinded uint64) {
	r, err := freshRandUint64()
	if err != nil {
		return 0, imm
	}
	rnd = r | 1
	blinded = imm ^ rnd
	return rnd, blinded
}
