package domain

import (
	"encoding/hex"

	"github.com/zeebo/blake3"

	dErrors "followup/pkg/domain-errors"
)

// personIdentifierLength is the length of a national personal identity number.
const personIdentifierLength = 11

// PersonIdentifier is an 11 digit personal identity number.
//
// Invariant: always exactly 11 ASCII digits. The only way to obtain a valid
// value from external input is ParsePersonIdentifier.
type PersonIdentifier string

// ParsePersonIdentifier validates s. Surrounding whitespace is not trimmed.
func ParsePersonIdentifier(s string) (PersonIdentifier, error) {
	if len(s) != personIdentifierLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "person identifier must be exactly 11 digits")
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return "", dErrors.New(dErrors.CodeInvalidInput, "person identifier must be exactly 11 digits")
		}
	}
	return PersonIdentifier(s), nil
}

func (p PersonIdentifier) String() string { return string(p) }

// Masked returns the birth date part followed by asterisks, safe for logs.
func (p PersonIdentifier) Masked() string {
	if len(p) != personIdentifierLength {
		return "***********"
	}
	return string(p[:6]) + "*****"
}

// Key returns a stable hash of the identifier, used as the message key on
// topics so records for one person land on one partition without exposing
// the identifier in the key.
func (p PersonIdentifier) Key() string {
	sum := blake3.Sum256([]byte(p))
	return hex.EncodeToString(sum[:])
}
