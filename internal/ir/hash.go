package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainDefinition separates definition hashes from any other hash seqd may
// compute over canonical JSON. The version suffix enables algorithm migration.
const DomainDefinition = "seqd/definition/v1"

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DefinitionHash computes the content address of a definition.
// The name is normalized first, so case-only renames hash equal.
func DefinitionHash(d Definition) (string, error) {
	obj := map[string]any{
		"name":       NormalizeName(d.Name),
		"min_val":    d.MinVal,
		"max_val":    d.MaxVal,
		"increment":  d.Increment,
		"cycle":      d.Cycle,
		"chunk_size": d.ChunkSize,
		"start_val":  d.StartVal,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("DefinitionHash: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainDefinition, canonical), nil
}

// MustDefinitionHash is like DefinitionHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustDefinitionHash(d Definition) string {
	hash, err := DefinitionHash(d)
	if err != nil {
		panic(err)
	}
	return hash
}
