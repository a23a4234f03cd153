//go:build amd64

package optimize

// comparePathAVX2 is intended to be implemented in assembly for AVX2; the
// assembly source is not present, so this falls back to standard comparison.
// Returns true if strings are equal
func comparePathAVX2(a, b string) bool {
	return a == b
}

// comparePathNEON is a stub for x86_64 (NEON is ARM only)
func comparePathNEON(a, b string) bool {
	return a == b
}
