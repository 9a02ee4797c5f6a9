// Package codes generates and validates printable redemption codes and derives
// the commitments that identify them once plaintext is purged.
package codes

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// Alphabet excludes 0/O and 1/I so printed codes can be read back unambiguously.
	Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	GroupCount  = 4
	GroupLength = 4
	BodyLength  = GroupCount * GroupLength

	separator = "-"
)

// ErrInvalidCode is returned by Normalize for codes that fail the format or checksum check.
var ErrInvalidCode = errors.New("invalid code")

// rejection bound: bytes at or above it would bias the modulo.
var maxUnbiased = 256 - (256 % len(Alphabet))

// Generate draws a new code from crypto/rand.
func Generate() (string, error) {
	return GenerateFrom(rand.Reader)
}

// GenerateFrom draws a new code from the given entropy source.
func GenerateFrom(r io.Reader) (string, error) {
	body := make([]byte, 0, BodyLength)
	buf := make([]byte, 1)
	for len(body) < BodyLength {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("read entropy: %w", err)
		}
		if int(buf[0]) >= maxUnbiased {
			continue
		}
		body = append(body, Alphabet[int(buf[0])%len(Alphabet)])
	}
	return format(string(body), checksumChar(string(body))), nil
}

// Validate reports whether code has the right shape and a matching checksum.
// Separators are optional and case is ignored.
func Validate(code string) bool {
	_, err := Normalize(code)
	return err == nil
}

// Normalize returns the canonical XXXX-XXXX-XXXX-XXXX-C form of a valid code.
func Normalize(code string) (string, error) {
	compact := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), separator, ""))
	if len(compact) != BodyLength+1 {
		return "", ErrInvalidCode
	}
	for i := 0; i < len(compact); i++ {
		if strings.IndexByte(Alphabet, compact[i]) < 0 {
			return "", ErrInvalidCode
		}
	}
	body := compact[:BodyLength]
	if checksumChar(body) != compact[BodyLength] {
		return "", ErrInvalidCode
	}
	return format(body, compact[BodyLength]), nil
}

func checksumChar(body string) byte {
	sum := sha256.Sum256([]byte(body))
	return Alphabet[int(sum[0])%len(Alphabet)]
}

func format(body string, checksum byte) string {
	var b strings.Builder
	b.Grow(BodyLength + GroupCount + 1)
	for i := 0; i < GroupCount; i++ {
		b.WriteString(body[i*GroupLength : (i+1)*GroupLength])
		b.WriteString(separator)
	}
	b.WriteByte(checksum)
	return b.String()
}
