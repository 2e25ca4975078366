package vm

import "testing"

func TestBlindImm32RoundTrips(t *testing.T) {
	rnd, blinded := blindImm32(0x1234)
	assert(t, uint32(0x1234) == blinded^rnd, "expected blinded^rnd to reconstruct the original immediate")
}

func TestBlindImm64RoundTrips(t *testing.T) {
	rnd, blinded := blindImm64(0x1122334455667788)
	assert(t, uint64(0x1122334455667788) == blinded^rnd, "expected blinded^rnd to reconstruct the original immediate")
}

func TestBlindImm32DiffersAcrossCalls(t *testing.T) {
	rnd1, blinded1 := blindImm32(0x1234)
	rnd2, blinded2 := blindImm32(0x1234)
	assert(t, rnd1 != rnd2 || blinded1 != blinded2, "two independent blinding calls for the same immediate produced identical bytes")
	assert(t, uint32(0x1234) == blinded1^rnd1, "first call should still reconstruct the original immediate")
	assert(t, uint32(0x1234) == blinded2^rnd2, "second call should still reconstruct the original immediate")
}

func TestBlindImm64DiffersAcrossCalls(t *testing.T) {
	rnd1, blinded1 := blindImm64(0x1122334455667788)
	rnd2, blinded2 := blindImm64(0x1122334455667788)
	assert(t, rnd1 != rnd2 || blinded1 != blinded2, "two independent blinding calls for the same immediate produced identical bytes")
}
