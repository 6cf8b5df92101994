// Package util holds small helpers shared across IntakePipe components.
package util

import "math/rand/v2"

const hexDigits = "0123456789abcdef"

// GenerateRandomID returns prefix followed by hexLength random hex digits.
// IDs are not secret; math/rand/v2 is sufficient.
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex returns length random hex digits, or "" for non-positive lengths.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}
	b := make([]byte, length)
	for i := range b {
		b[i] = hexDigits[rand.IntN(len(hexDigits))]
	}
	return string(b)
}
