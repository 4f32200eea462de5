// Package fingerprint derives stable content fingerprints for extracted
// questions so duplicate admission can be answered with an index lookup.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Hasher computes SHA-256 digests over normalized question text. Two
// renderings of the same question that differ only in case, punctuation,
// or whitespace produce the same fingerprint.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of the raw bytes.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Question fingerprints a question by normalizing its text first.
func (h *Hasher) Question(text string) (string, error) {
	return h.Hash([]byte(Normalize(text)))
}

// Normalize lowercases text, strips punctuation, and collapses whitespace
// runs into single spaces.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Tokens splits normalized text into its word tokens.
func Tokens(text string) []string {
	norm := Normalize(text)
	if norm == "" {
		return nil
	}
	return strings.Split(norm, " ")
}
