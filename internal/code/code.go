package code

import (
	"crypto/rand"
	"fmt"
)

// Alphabet is the set of characters share codes are drawn from. Visually
// ambiguous characters (0, O, 1, I) are excluded so codes survive being
// read aloud or retyped.
const Alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// DefaultLength is the standard share-code length.
const DefaultLength = 8

// Generate draws a random code of the given length from Alphabet. The
// caller is responsible for checking the draw against the code index and
// drawing again on collision.
func Generate(length int) (string, error) {
	if length <= 0 {
		length = DefaultLength
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to draw random code: %w", err)
	}
	// len(Alphabet) is 32, which divides 256 evenly, so the modulo
	// introduces no bias.
	for i, b := range buf {
		buf[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return string(buf), nil
}
