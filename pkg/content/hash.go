// ABOUTME: Content hashing for change detection and version identity
// ABOUTME: BLAKE3 checksum for no-op detection, CIDv1 commit hash for identity

package content

import (
	"encoding/hex"
	"fmt"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
	"lukechampine.com/blake3"
)

// Fingerprint bundles every digest derived from one canonical encoding
type Fingerprint struct {
	SizeBytes  int
	Checksum   string // hex BLAKE3-256
	CommitHash string // base32 CIDv1 (raw, sha2-256)
}

// FingerprintOf computes size, checksum and commit hash of m in one pass over
// its canonical form
func FingerprintOf(m *Map) (Fingerprint, error) {
	data, err := Canonical(m)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("canonicalize: %w", err)
	}
	commit, err := commitHash(data)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{
		SizeBytes:  len(data),
		Checksum:   checksum(data),
		CommitHash: commit,
	}, nil
}

// Checksum returns the BLAKE3 fingerprint of m's canonical form
func Checksum(m *Map) (string, error) {
	data, err := Canonical(m)
	if err != nil {
		return "", err
	}
	return checksum(data), nil
}

// CommitHash returns the CIDv1 of m's canonical form
func CommitHash(m *Map) (string, error) {
	data, err := Canonical(m)
	if err != nil {
		return "", err
	}
	return commitHash(data)
}

// ParseCommitHash decodes a commit hash back into a CID
func ParseCommitHash(s string) (gocid.Cid, error) {
	return gocid.Decode(s)
}

func checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func commitHash(data []byte) (string, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("multihash: %w", err)
	}
	c := gocid.NewCidV1(gocid.Raw, mh)
	encoded, err := multibase.Encode(multibase.Base32, c.Bytes())
	if err != nil {
		return "", fmt.Errorf("multibase: %w", err)
	}
	return encoded, nil
}
