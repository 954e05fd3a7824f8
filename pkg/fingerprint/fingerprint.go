// Package fingerprint derives short, stable identifiers for document text.
//
// The identifier samples three windows of the text (head, middle, tail) and
// folds them with a 31-multiplier rolling hash. It is a cache key, not a
// cryptographic digest.
package fingerprint

import (
	"strconv"
	"unicode/utf16"
)

// WindowSize is the number of UTF-16 code units sampled per window.
const WindowSize = 1000

// Compute returns the base-36 fingerprint of text.
func Compute(text string) string {
	units := utf16.Encode([]rune(text))
	return strconv.FormatInt(abs(hash(signature(units))), 36)
}

func signature(units []uint16) []uint16 {
	n := len(units)
	mid := n / 2

	sig := make([]uint16, 0, 3*WindowSize)
	sig = append(sig, window(units, 0, WindowSize)...)
	sig = append(sig, window(units, mid, mid+WindowSize)...)
	sig = append(sig, window(units, n-WindowSize, n)...)
	return sig
}

func window(units []uint16, start, end int) []uint16 {
	if start < 0 {
		start = 0
	}
	if end > len(units) {
		end = len(units)
	}
	if start >= end {
		return nil
	}
	return units[start:end]
}

func hash(units []uint16) int32 {
	var h int32
	for _, u := range units {
		h = h*31 + int32(u)
	}
	return h
}

func abs(h int32) int64 {
	v := int64(h)
	if v < 0 {
		return -v
	}
	return v
}
