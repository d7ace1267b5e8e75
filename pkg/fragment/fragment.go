// Package fragment has platform-side helpers for the largeBlobs transfer:
// building a serialized array with its trailing tag, splitting it into
// fragments that fit the transport, and the signing message a write
// fragment must authenticate.
package fragment

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"slices"

	"github.com/samber/lo"

	"github.com/go-ctap/largeblobs/pkg/largeblobs"
)

// AppendTag returns the payload with its trailing integrity tag: the first
// 16 bytes of the payload's SHA-256 digest.
func AppendTag(payload []byte) []byte {
	sum := sha256.Sum256(payload)
	return slices.Concat(payload, sum[:largeblobs.TruncatedHashLen])
}

// VerifyTag reports whether blob ends in a valid tag of its preceding
// content.
func VerifyTag(blob []byte) bool {
	if len(blob) < largeblobs.TruncatedHashLen {
		return false
	}
	tagIndex := len(blob) - largeblobs.TruncatedHashLen
	sum := sha256.Sum256(blob[:tagIndex])
	return bytes.Equal(sum[:largeblobs.TruncatedHashLen], blob[tagIndex:])
}

// Split cuts a blob into ordered fragments of at most maxFragmentLength
// bytes each.
func Split(blob []byte, maxFragmentLength uint) [][]byte {
	return lo.Chunk(blob, int(maxFragmentLength))
}

// SigningMessage builds the message a pinUvAuthParam signs for a set
// fragment. Byte layout must match the authenticator exactly: 32 bytes of
// 0xFF, the command tag 0x0C 0x00, the little-endian 32-bit offset, and
// the SHA-256 digest of the fragment.
func SigningMessage(offset uint, fragment []byte) []byte {
	padding := bytes.Repeat([]byte{0xff}, 32)

	offsetBin := make([]byte, 4)
	binary.LittleEndian.PutUint32(offsetBin, uint32(offset))

	sum := sha256.Sum256(fragment)

	return slices.Concat(
		padding,
		[]byte{0x0c, 0x00},
		offsetBin,
		sum[:],
	)
}
