package game

import (
	"crypto/rand"
	"math"
)

// round2 is the single rounding point for cash and prices. Every value
// written to storage goes through it.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// randKey returns a short uppercase alphanumeric suffix for join keys.
// 0/O and 1/I are kept since keys are pasted, not read aloud.
func randKey(size int) string {
	const chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails if the platform entropy source is broken.
		panic(err)
	}
	for i := range buf {
		buf[i] = chars[int(buf[i])%len(chars)]
	}
	return string(buf)
}
