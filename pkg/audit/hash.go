package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Canonicalize returns the RFC 8785 canonical JSON of e with the
// integrity field cleared. This is the exact byte sequence that is hashed.
func Canonicalize(e *Entry) ([]byte, error) {
	body := *e
	body.Integrity = Integrity{}

	raw, err := json.Marshal(&body)
	if err != nil {
		return nil, fmt.Errorf("marshal entry: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize entry: %w", err)
	}
	return canonical, nil
}

// ComputeHash returns the hex SHA-256 over the canonical entry body.
func ComputeHash(e *Entry) (string, error) {
	canonical, err := Canonicalize(e)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the hash of e and compares it with the stored one.
// Any mutation of a hashed field after write makes Verify return false.
func Verify(e *Entry) (bool, error) {
	if e.Integrity.SHA256 == "" {
		return false, nil
	}
	sum, err := ComputeHash(e)
	if err != nil {
		return false, err
	}
	return sum == e.Integrity.SHA256, nil
}
