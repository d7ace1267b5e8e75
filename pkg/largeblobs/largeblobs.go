// Package largeblobs implements the authenticator side of the CTAP2
// authenticatorLargeBlobs command: the fragmented transfer that reads and
// writes the single serialized large blob array kept in durable storage.
//
// Writes arrive as a strictly sequenced series of fragments that are
// reassembled in memory and only committed to the store once the declared
// length is reached and the trailing integrity tag checks out. A partially
// written or corrupted array never reaches storage.
package largeblobs

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"log/slog"
	"slices"

	"github.com/samber/mo"

	"github.com/go-ctap/largeblobs/pkg/ctaptypes"
	"github.com/go-ctap/largeblobs/pkg/options"
	"github.com/go-ctap/largeblobs/pkg/pinproto"
	"github.com/go-ctap/largeblobs/pkg/statuscode"
)

// TruncatedHashLen is the length of the truncated hash appended to the
// large blob data.
const TruncatedHashLen = 16

// fragmentOverhead is reserved for the CBOR framing around a fragment, so
// the maximum fragment length is MaxMsgSize - fragmentOverhead.
const fragmentOverhead = 64

// BlobStore is the durable home of the committed large blob array.
type BlobStore interface {
	// Read returns up to length bytes of the committed array starting at
	// offset. Reads at or beyond the end of the array return a short or
	// empty slice, not an error.
	Read(length, offset uint) ([]byte, error)
	// Commit atomically replaces the committed array. On error the
	// previously committed array must remain intact.
	Commit(blob []byte) error
	// PINHash reports the enrolled PIN factor, if any. Its presence alone
	// decides whether writes require a pinUvAuthParam.
	PINHash() mo.Option[[]byte]
}

// TokenVerifier validates pinUvAuthParam values and the permissions granted
// with the current pinUvAuthToken.
type TokenVerifier interface {
	SupportsProtocol(protocol ctaptypes.PinUvAuthProtocol) bool
	HasPermission(permission ctaptypes.Permission) error
	Verify(protocol ctaptypes.PinUvAuthProtocol, message []byte, param []byte) bool
}

// Hasher is the fixed-output hash used for the fragment signing message and
// the trailing integrity tag. Only the first TruncatedHashLen bytes of the
// digest form the tag.
type Hasher = options.Hasher

// SHA256 is the default Hasher.
type SHA256 struct{}

func (SHA256) Hash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// Session keeps the reassembly state of the in-flight write across calls.
// It is idle iff expectedLength and expectedNextOffset are zero and the
// buffer is empty; between calls expectedNextOffset always equals
// len(buffer). The session is never persisted: a reboot or reconnect
// mid-write discards it.
//
// One command is processed at a time, so Session is not safe for
// concurrent use and does not lock.
type Session struct {
	logger            *slog.Logger
	hasher            Hasher
	maxFragmentLength uint

	buffer             []byte
	expectedLength     uint
	expectedNextOffset uint
}

func NewSession(opts ...options.Option) *Session {
	oo := options.NewOptions(opts...)

	hasher := oo.Hasher
	if hasher == nil {
		hasher = SHA256{}
	}

	return &Session{
		logger:            oo.Logger,
		hasher:            hasher,
		maxFragmentLength: oo.MaxMsgSize - fragmentOverhead,
	}
}

// MaxFragmentLength is the largest fragment a single get or set call may
// carry.
func (s *Session) MaxFragmentLength() uint {
	return s.maxFragmentLength
}

// Process executes one authenticatorLargeBlobs call. Exactly one of get and
// set must be present in the request. Errors are *statuscode.Error values
// except for storage failures, which propagate as returned by the store.
func (s *Session) Process(
	store BlobStore,
	tokens TokenVerifier,
	req *ctaptypes.AuthenticatorLargeBlobsRequest,
) (*ctaptypes.AuthenticatorLargeBlobsResponse, error) {
	if req.Get > 0 {
		return s.processGet(store, req)
	}
	if req.Set != nil {
		return nil, s.processSet(store, tokens, req)
	}

	// Unreachable with a well-formed request: it has either get or set.
	return nil, s.statusError(statuscode.CTAP1_ERR_INVALID_PARAMETER)
}

func (s *Session) processGet(
	store BlobStore,
	req *ctaptypes.AuthenticatorLargeBlobsRequest,
) (*ctaptypes.AuthenticatorLargeBlobsResponse, error) {
	if req.Get > s.maxFragmentLength {
		return nil, s.statusError(statuscode.CTAP1_ERR_INVALID_LENGTH)
	}

	config, err := store.Read(req.Get, req.Offset)
	if err != nil {
		return nil, err
	}

	return &ctaptypes.AuthenticatorLargeBlobsResponse{Config: config}, nil
}

func (s *Session) processSet(
	store BlobStore,
	tokens TokenVerifier,
	req *ctaptypes.AuthenticatorLargeBlobsRequest,
) error {
	if uint(len(req.Set)) > s.maxFragmentLength {
		return s.statusError(statuscode.CTAP1_ERR_INVALID_LENGTH)
	}

	if req.Offset == 0 {
		// Offset 0 always starts a new session, even mid-transfer.
		if req.Length < TruncatedHashLen {
			return s.statusError(statuscode.CTAP1_ERR_INVALID_PARAMETER)
		}
		s.expectedLength = req.Length
		s.expectedNextOffset = 0
	}
	if req.Offset != s.expectedNextOffset {
		return s.statusError(statuscode.CTAP1_ERR_INVALID_SEQ)
	}

	if store.PINHash().IsPresent() {
		if req.PinUvAuthParam == nil {
			return s.statusError(statuscode.CTAP2_ERR_PUAT_REQUIRED)
		}
		if err := s.checkAuthProtocol(tokens, req.PinUvAuthProtocol); err != nil {
			return err
		}
		if err := tokens.HasPermission(ctaptypes.PermissionLargeBlobWrite); err != nil {
			return s.statusError(statuscode.CTAP2_ERR_UNAUTHORIZED_PERMISSION)
		}
		message := s.signingMessage(req.Offset, req.Set)
		if !tokens.Verify(req.PinUvAuthProtocol, message, req.PinUvAuthParam) {
			return s.statusError(statuscode.CTAP2_ERR_PIN_AUTH_INVALID)
		}
	}

	// Checked after authentication on purpose: an oversized unauthenticated
	// write reports the auth error, not this one.
	if req.Offset+uint(len(req.Set)) > s.expectedLength {
		return s.statusError(statuscode.CTAP1_ERR_INVALID_PARAMETER)
	}

	if req.Offset == 0 {
		s.buffer = make([]byte, 0, s.expectedLength)
	}
	s.buffer = append(s.buffer, req.Set...)
	s.expectedNextOffset = uint(len(s.buffer))

	if s.expectedNextOffset == s.expectedLength {
		return s.finalize(store)
	}

	return nil
}

// finalize verifies the trailing tag of the completed buffer and commits
// it. The session returns to idle whatever the outcome; a failed transfer
// is restarted from offset 0, never resumed.
func (s *Session) finalize(store BlobStore) error {
	s.expectedLength = 0
	s.expectedNextOffset = 0

	// Cannot underflow: the declared length was checked against
	// TruncatedHashLen when the session started.
	tagIndex := len(s.buffer) - TruncatedHashLen
	tag := s.hasher.Hash(s.buffer[:tagIndex])[:TruncatedHashLen]
	if !bytes.Equal(tag, s.buffer[tagIndex:]) {
		s.buffer = nil
		return s.statusError(statuscode.CTAP2_ERR_INTEGRITY_FAILURE)
	}

	err := store.Commit(s.buffer)
	s.buffer = nil
	if err != nil {
		return err
	}

	s.logger.Debug("large blob array committed")
	return nil
}

func (s *Session) checkAuthProtocol(tokens TokenVerifier, protocol ctaptypes.PinUvAuthProtocol) error {
	if protocol == 0 {
		return s.statusError(statuscode.CTAP2_ERR_MISSING_PARAMETER)
	}
	if !tokens.SupportsProtocol(protocol) {
		return s.statusError(statuscode.CTAP1_ERR_INVALID_PARAMETER)
	}
	return nil
}

// signingMessage builds the canonical message a pinUvAuthParam must sign
// for a set fragment: 32 bytes of 0xFF, the command tag 0x0C 0x00, the
// little-endian 32-bit offset, and the full digest of the fragment. The
// preamble pins a token signature to this command, offset and content.
func (s *Session) signingMessage(offset uint, fragment []byte) []byte {
	padding := bytes.Repeat([]byte{0xff}, 32)

	offsetBin := make([]byte, 4)
	binary.LittleEndian.PutUint32(offsetBin, uint32(offset))

	return slices.Concat(
		padding,
		[]byte{0x0c, 0x00},
		offsetBin,
		s.hasher.Hash(fragment),
	)
}

func (s *Session) statusError(code statuscode.StatusCode) *statuscode.Error {
	return statuscode.NewError(ctaptypes.AuthenticatorLargeBlobs, code)
}

var _ TokenVerifier = (*pinproto.TokenState)(nil)
