// Package storage provides the durable homes of the committed large blob
// array: an in-memory store for tests and a file-backed store that
// replaces the array atomically.
//
// Both stores start out with the canonical empty array — the CBOR empty
// array 0x80 followed by the first 16 bytes of its SHA-256 digest — so a
// read before the first commit already returns a well-formed array.
package storage

import (
	"crypto/sha256"
	"slices"

	"github.com/samber/mo"
)

const truncatedHashLen = 16

// InitialLargeBlobArray returns the canonical empty large blob array
// produced at first boot.
func InitialLargeBlobArray() []byte {
	sum := sha256.Sum256([]byte{0x80})
	return append([]byte{0x80}, sum[:truncatedHashLen]...)
}

func readSlice(blob []byte, length, offset uint) []byte {
	if offset >= uint(len(blob)) {
		return []byte{}
	}
	end := min(offset+length, uint(len(blob)))
	return slices.Clone(blob[offset:end])
}

// MemoryStore keeps the committed array and the enrolled PIN hash in
// memory. Useful for tests and as the reference store behavior.
type MemoryStore struct {
	blob    []byte
	pinHash []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blob: InitialLargeBlobArray(),
	}
}

func (s *MemoryStore) Read(length, offset uint) ([]byte, error) {
	return readSlice(s.blob, length, offset), nil
}

func (s *MemoryStore) Commit(blob []byte) error {
	s.blob = slices.Clone(blob)
	return nil
}

func (s *MemoryStore) PINHash() mo.Option[[]byte] {
	if s.pinHash == nil {
		return mo.None[[]byte]()
	}
	return mo.Some(slices.Clone(s.pinHash))
}

// SetPINHash enrolls (or, with nil, removes) the PIN factor.
func (s *MemoryStore) SetPINHash(hash []byte) {
	if hash == nil {
		s.pinHash = nil
		return
	}
	s.pinHash = slices.Clone(hash)
}
