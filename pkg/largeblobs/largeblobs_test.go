package largeblobs

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-ctap/largeblobs/pkg/ctaptypes"
	"github.com/go-ctap/largeblobs/pkg/pinproto"
	"github.com/go-ctap/largeblobs/pkg/pinproto/protocolone"
	"github.com/go-ctap/largeblobs/pkg/pinproto/protocoltwo"
	"github.com/go-ctap/largeblobs/pkg/statuscode"
	"github.com/go-ctap/largeblobs/pkg/storage"
)

// The canonical empty array served before any commit: the CBOR empty array
// 0x80 followed by the first 16 bytes of SHA-256(0x80).
var initialArray = []byte{
	0x80, 0x76, 0xbe, 0x8b, 0x52, 0x8d, 0x00, 0x75, 0xf7, 0xaa, 0xe9, 0x8d,
	0x6f, 0xa5, 0x7a, 0x6d, 0x3c,
}

func validBlob(totalLen int) []byte {
	payload := bytes.Repeat([]byte{0x1B}, totalLen-TruncatedHashLen)
	sum := sha256.Sum256(payload)
	return append(payload, sum[:TruncatedHashLen]...)
}

func newTokens(t *testing.T, permissions ctaptypes.Permission) *pinproto.TokenState {
	t.Helper()

	tokens, err := pinproto.NewTokenState()
	require.NoError(t, err)
	tokens.AssignPermissions(permissions)
	return tokens
}

func assertStatus(t *testing.T, err error, code statuscode.StatusCode) {
	t.Helper()

	var se *statuscode.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, code, se.StatusCode)
	assert.Equal(t, ctaptypes.AuthenticatorLargeBlobs, se.Command)
}

func TestGetInitialArray(t *testing.T) {
	session := NewSession()
	store := storage.NewMemoryStore()
	tokens := newTokens(t, ctaptypes.PermissionNone)

	resp, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Get:    uint(len(initialArray)),
		Offset: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, initialArray, resp.Config)

	// Reads are idempotent.
	again, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Get:    uint(len(initialArray)),
		Offset: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, resp.Config, again.Config)
}

func TestGetExceedingMaxFragmentLength(t *testing.T) {
	session := NewSession()
	store := storage.NewMemoryStore()
	tokens := newTokens(t, ctaptypes.PermissionNone)

	_, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Get:    session.MaxFragmentLength() + 1,
		Offset: 0,
	})
	assertStatus(t, err, statuscode.CTAP1_ERR_INVALID_LENGTH)

	// At the bound the read succeeds and shortens at end-of-array.
	resp, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Get:    session.MaxFragmentLength(),
		Offset: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, initialArray, resp.Config)
}

func TestGetBeyondEndOfArray(t *testing.T) {
	session := NewSession()
	store := storage.NewMemoryStore()
	tokens := newTokens(t, ctaptypes.PermissionNone)

	resp, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Get:    64,
		Offset: 1000,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Config)
}

func TestSetCommitAndGet(t *testing.T) {
	session := NewSession()
	store := storage.NewMemoryStore()
	tokens := newTokens(t, ctaptypes.PermissionNone)

	blob := validBlob(200)

	resp, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Set:    blob[:100],
		Offset: 0,
		Length: 200,
	})
	require.NoError(t, err)
	assert.Nil(t, resp)

	resp, err = session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Set:    blob[100:],
		Offset: 100,
	})
	require.NoError(t, err)
	assert.Nil(t, resp)

	resp, err = session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Get:    200,
		Offset: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, blob, resp.Config)

	// The same array read back in two bounded gets.
	first, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Get:    120,
		Offset: 0,
	})
	require.NoError(t, err)
	second, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Get:    120,
		Offset: 120,
	})
	require.NoError(t, err)
	assert.Equal(t, blob, append(first.Config, second.Config...))
}

func TestSetExceedingMaxFragmentLength(t *testing.T) {
	session := NewSession()
	store := storage.NewMemoryStore()
	tokens := newTokens(t, ctaptypes.PermissionNone)

	_, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Set:    make([]byte, session.MaxFragmentLength()+1),
		Offset: 0,
		Length: session.MaxFragmentLength() + 1,
	})
	assertStatus(t, err, statuscode.CTAP1_ERR_INVALID_LENGTH)

	// No session was started; a full valid transfer still works.
	blob := validBlob(20)
	_, err = session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Set:    blob,
		Offset: 0,
		Length: 20,
	})
	require.NoError(t, err)
}

func TestSetMissingLength(t *testing.T) {
	session := NewSession()
	store := storage.NewMemoryStore()
	tokens := newTokens(t, ctaptypes.PermissionNone)

	_, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Set:    validBlob(20),
		Offset: 0,
	})
	assertStatus(t, err, statuscode.CTAP1_ERR_INVALID_PARAMETER)

	// A declared length shorter than the tag is just as invalid.
	_, err = session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Set:    make([]byte, 8),
		Offset: 0,
		Length: 8,
	})
	assertStatus(t, err, statuscode.CTAP1_ERR_INVALID_PARAMETER)
}

func TestSetUnexpectedOffset(t *testing.T) {
	session := NewSession()
	store := storage.NewMemoryStore()
	tokens := newTokens(t, ctaptypes.PermissionNone)

	blob := validBlob(200)

	_, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Set:    blob[:100],
		Offset: 0,
		Length: 200,
	})
	require.NoError(t, err)

	// The offset is 1 too big.
	_, err = session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Set:    blob[100:],
		Offset: 101,
	})
	assertStatus(t, err, statuscode.CTAP1_ERR_INVALID_SEQ)

	// Accumulated state is untouched: the correct offset still completes
	// the transfer.
	_, err = session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Set:    blob[100:],
		Offset: 100,
	})
	require.NoError(t, err)

	resp, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Get:    200,
		Offset: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, blob, resp.Config)
}

func TestSetDeclaredLengthTooShort(t *testing.T) {
	session := NewSession()
	store := storage.NewMemoryStore()
	tokens := newTokens(t, ctaptypes.PermissionNone)

	blob := validBlob(200)

	// The length is 1 too small.
	_, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Set:    blob[:100],
		Offset: 0,
		Length: 199,
	})
	require.NoError(t, err)

	_, err = session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Set:    blob[100:],
		Offset: 100,
	})
	assertStatus(t, err, statuscode.CTAP1_ERR_INVALID_PARAMETER)
}

func TestSetIntegrityFailure(t *testing.T) {
	session := NewSession()
	store := storage.NewMemoryStore()
	tokens := newTokens(t, ctaptypes.PermissionNone)

	// This blob does not end in a valid tag.
	_, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Set:    bytes.Repeat([]byte{0x1B}, 20),
		Offset: 0,
		Length: 20,
	})
	assertStatus(t, err, statuscode.CTAP2_ERR_INTEGRITY_FAILURE)

	// Storage is unchanged and the session is idle again.
	resp, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Get:    uint(len(initialArray)),
		Offset: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, initialArray, resp.Config)

	blob := validBlob(20)
	_, err = session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Set:    blob,
		Offset: 0,
		Length: 20,
	})
	require.NoError(t, err)
}

func TestSetTamperedLastByte(t *testing.T) {
	session := NewSession()
	store := storage.NewMemoryStore()
	tokens := newTokens(t, ctaptypes.PermissionNone)

	blob := validBlob(200)
	blob[199] ^= 0x01

	_, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Set:    blob[:100],
		Offset: 0,
		Length: 200,
	})
	require.NoError(t, err)

	_, err = session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Set:    blob[100:],
		Offset: 100,
	})
	assertStatus(t, err, statuscode.CTAP2_ERR_INTEGRITY_FAILURE)
}

func TestOffsetZeroRestartsSession(t *testing.T) {
	session := NewSession()
	store := storage.NewMemoryStore()
	tokens := newTokens(t, ctaptypes.PermissionNone)

	_, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Set:    validBlob(200)[:100],
		Offset: 0,
		Length: 200,
	})
	require.NoError(t, err)

	// A new offset-0 fragment silently abandons the in-flight transfer.
	blob := validBlob(20)
	_, err = session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Set:    blob,
		Offset: 0,
		Length: 20,
	})
	require.NoError(t, err)

	resp, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Get:    20,
		Offset: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, blob, resp.Config)
}

func TestNeitherGetNorSet(t *testing.T) {
	session := NewSession()
	store := storage.NewMemoryStore()
	tokens := newTokens(t, ctaptypes.PermissionNone)

	_, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Offset: 0,
	})
	assertStatus(t, err, statuscode.CTAP1_ERR_INVALID_PARAMETER)
}

func TestSetWithPINEnrolled(t *testing.T) {
	pinHash := bytes.Repeat([]byte{0x55}, 16)
	blob := validBlob(20)

	t.Run("missing param", func(t *testing.T) {
		session := NewSession()
		store := storage.NewMemoryStore()
		store.SetPINHash(pinHash)
		tokens := newTokens(t, ctaptypes.PermissionLargeBlobWrite)

		_, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
			Set:    blob,
			Offset: 0,
			Length: 20,
		})
		assertStatus(t, err, statuscode.CTAP2_ERR_PUAT_REQUIRED)
	})

	t.Run("missing protocol", func(t *testing.T) {
		session := NewSession()
		store := storage.NewMemoryStore()
		store.SetPINHash(pinHash)
		tokens := newTokens(t, ctaptypes.PermissionLargeBlobWrite)

		_, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
			Set:            blob,
			Offset:         0,
			Length:         20,
			PinUvAuthParam: bytes.Repeat([]byte{0xAA}, 16),
		})
		assertStatus(t, err, statuscode.CTAP2_ERR_MISSING_PARAMETER)
	})

	t.Run("unsupported protocol", func(t *testing.T) {
		session := NewSession()
		store := storage.NewMemoryStore()
		store.SetPINHash(pinHash)
		tokens := newTokens(t, ctaptypes.PermissionLargeBlobWrite)

		_, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
			Set:               blob,
			Offset:            0,
			Length:            20,
			PinUvAuthParam:    bytes.Repeat([]byte{0xAA}, 16),
			PinUvAuthProtocol: 3,
		})
		assertStatus(t, err, statuscode.CTAP1_ERR_INVALID_PARAMETER)
	})

	t.Run("missing permission", func(t *testing.T) {
		session := NewSession()
		store := storage.NewMemoryStore()
		store.SetPINHash(pinHash)
		tokens := newTokens(t, ctaptypes.PermissionMakeCredential)

		param := protocolone.Authenticate(tokens.Token(), session.signingMessage(0, blob))
		_, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
			Set:               blob,
			Offset:            0,
			Length:            20,
			PinUvAuthParam:    param,
			PinUvAuthProtocol: ctaptypes.PinUvAuthProtocolOne,
		})
		assertStatus(t, err, statuscode.CTAP2_ERR_UNAUTHORIZED_PERMISSION)
	})

	t.Run("invalid param", func(t *testing.T) {
		session := NewSession()
		store := storage.NewMemoryStore()
		store.SetPINHash(pinHash)
		tokens := newTokens(t, ctaptypes.PermissionLargeBlobWrite)

		_, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
			Set:               blob,
			Offset:            0,
			Length:            20,
			PinUvAuthParam:    bytes.Repeat([]byte{0xAA}, 16),
			PinUvAuthProtocol: ctaptypes.PinUvAuthProtocolOne,
		})
		assertStatus(t, err, statuscode.CTAP2_ERR_PIN_AUTH_INVALID)

		// No commit happened.
		resp, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
			Get:    uint(len(initialArray)),
			Offset: 0,
		})
		require.NoError(t, err)
		assert.Equal(t, initialArray, resp.Config)
	})

	t.Run("valid param protocol one", func(t *testing.T) {
		session := NewSession()
		store := storage.NewMemoryStore()
		store.SetPINHash(pinHash)
		tokens := newTokens(t, ctaptypes.PermissionLargeBlobWrite)

		param := protocolone.Authenticate(tokens.Token(), session.signingMessage(0, blob))
		_, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
			Set:               blob,
			Offset:            0,
			Length:            20,
			PinUvAuthParam:    param,
			PinUvAuthProtocol: ctaptypes.PinUvAuthProtocolOne,
		})
		require.NoError(t, err)

		resp, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
			Get:    20,
			Offset: 0,
		})
		require.NoError(t, err)
		assert.Equal(t, blob, resp.Config)
	})

	t.Run("valid param protocol two", func(t *testing.T) {
		session := NewSession()
		store := storage.NewMemoryStore()
		store.SetPINHash(pinHash)
		tokens := newTokens(t, ctaptypes.PermissionLargeBlobWrite)

		param := protocoltwo.Authenticate(tokens.Token(), session.signingMessage(0, blob))
		_, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
			Set:               blob,
			Offset:            0,
			Length:            20,
			PinUvAuthParam:    param,
			PinUvAuthProtocol: ctaptypes.PinUvAuthProtocolTwo,
		})
		require.NoError(t, err)
	})
}

// An oversized unauthenticated write reports the missing token, not the
// bounds violation: authentication is checked first.
func TestAuthCheckedBeforeBounds(t *testing.T) {
	session := NewSession()
	store := storage.NewMemoryStore()
	store.SetPINHash(bytes.Repeat([]byte{0x55}, 16))
	tokens := newTokens(t, ctaptypes.PermissionLargeBlobWrite)

	_, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Set:    make([]byte, 30),
		Offset: 0,
		Length: 20,
	})
	assertStatus(t, err, statuscode.CTAP2_ERR_PUAT_REQUIRED)
}

type failingStore struct {
	*storage.MemoryStore
	commitErr error
}

func (s *failingStore) Commit(blob []byte) error {
	return s.commitErr
}

func TestStorageErrorPropagates(t *testing.T) {
	session := NewSession()
	commitErr := errors.New("flash write failed")
	store := &failingStore{MemoryStore: storage.NewMemoryStore(), commitErr: commitErr}
	tokens := newTokens(t, ctaptypes.PermissionNone)

	blob := validBlob(20)
	_, err := session.Process(store, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Set:    blob,
		Offset: 0,
		Length: 20,
	})
	require.ErrorIs(t, err, commitErr)

	// The session went back to idle: the transfer can be restarted against
	// a healthy store.
	good := storage.NewMemoryStore()
	_, err = session.Process(good, tokens, &ctaptypes.AuthenticatorLargeBlobsRequest{
		Set:    blob,
		Offset: 0,
		Length: 20,
	})
	require.NoError(t, err)
}
