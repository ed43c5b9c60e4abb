// Package decisionhash computes the audit hash of an admission or capacity
// decision. The encoding is canonical: fixed field order, fixed-width
// big-endian integers, length-prefixed strings and floats rendered with
// exactly six decimals. hash = SHA-256(DomainTag || encoding).
package decisionhash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// DomainTag separates decision hashes from every other SHA-256 use.
const DomainTag = "EVIDENCE_DECISION_HASH_V1\x00"

const domainTagLen = 26

func init() {
	if len(DomainTag) != domainTagLen {
		panic(fmt.Sprintf("decisionhash: domain tag is %d bytes, want %d", len(DomainTag), domainTagLen))
	}
}

// Size is the length of a Hash in bytes.
const Size = sha256.Size

// Hash is a decision hash.
type Hash [Size]byte

// ErrMalformedHash is returned by ParseHash for input that is not 64 hex
// digits.
var ErrMalformedHash = errors.New("decisionhash: malformed hash")

// String returns the lowercase hex form.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes a 64-digit hex string.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != 2*Size {
		return h, fmt.Errorf("%w: length %d", ErrMalformedHash, len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return Hash{}, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	return h, nil
}

// Compute encodes in and hashes it under DomainTag.
func Compute(in Input) (Hash, error) {
	data, err := Encode(in)
	if err != nil {
		return Hash{}, err
	}
	return Sum(data), nil
}

// Sum hashes an already encoded input under DomainTag.
func Sum(encoded []byte) Hash {
	d := sha256.New()
	d.Write([]byte(DomainTag))
	d.Write(encoded)
	var h Hash
	copy(h[:], d.Sum(nil))
	return h
}
