//go:build arm64
// +build arm64

package optimize

// comparePathNEON is intended to be implemented in assembly for ARM NEON; the
// assembly source is not present, so this falls back to standard comparison.
// Returns true if strings are equal
func comparePathNEON(a, b string) bool {
	return a == b
}

// comparePathAVX2 is a stub for ARM64 (AVX2 is x86_64 only)
func comparePathAVX2(a, b string) bool {
	return a == b
}
