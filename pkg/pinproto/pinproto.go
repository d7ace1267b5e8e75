// Package pinproto holds the authenticator-side pinUvAuthToken state: the
// token minted per boot, the permission set granted with it, and the
// verification of pinUvAuthParam values sent by the platform.
package pinproto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/go-ctap/largeblobs/pkg/ctaptypes"
	"github.com/go-ctap/largeblobs/pkg/pinproto/protocolone"
	"github.com/go-ctap/largeblobs/pkg/pinproto/protocoltwo"
)

const tokenLength = 32

var (
	ErrUnauthorizedPermission = errors.New("pinproto: token lacks the required permission")
	ErrInvalidAuthProtocol    = errors.New("pinproto: invalid PIN/UV auth protocol")
)

// TokenState is the current pinUvAuthToken with its granted permissions.
// Like the session it serves, it is mutated by one command at a time and
// needs no locking.
type TokenState struct {
	token       []byte
	permissions ctaptypes.Permission
}

// NewTokenState mints a fresh token. The token is expanded from a random
// seed with HKDF-SHA-256 so the authenticator can cheaply derive related
// per-boot key material from the same seed later.
func NewTokenState() (*TokenState, error) {
	ts := &TokenState{}
	if err := ts.Regenerate(); err != nil {
		return nil, err
	}

	return ts, nil
}

// Regenerate replaces the token and drops all granted permissions. Called
// on boot and whenever the current token must be invalidated.
func (ts *TokenState) Regenerate() error {
	seed := make([]byte, tokenLength)
	if _, err := rand.Read(seed); err != nil {
		return fmt.Errorf("cannot generate token seed: %w", err)
	}

	token := make([]byte, tokenLength)
	if _, err := io.ReadFull(
		hkdf.New(sha256.New, seed, nil, []byte("CTAP2 pinUvAuthToken")),
		token,
	); err != nil {
		return fmt.Errorf("cannot derive pinUvAuthToken using HKDF: %w", err)
	}

	ts.token = token
	ts.permissions = ctaptypes.PermissionNone
	return nil
}

// AssignPermissions grants permissions to the current token, replacing any
// previously granted set.
func (ts *TokenState) AssignPermissions(permissions ctaptypes.Permission) {
	ts.permissions = permissions
}

func (ts *TokenState) ClearPermissions() {
	ts.permissions = ctaptypes.PermissionNone
}

func (ts *TokenState) HasPermission(permission ctaptypes.Permission) error {
	if ts.permissions&permission != permission {
		return ErrUnauthorizedPermission
	}
	return nil
}

func (ts *TokenState) SupportsProtocol(protocol ctaptypes.PinUvAuthProtocol) bool {
	switch protocol {
	case ctaptypes.PinUvAuthProtocolOne, ctaptypes.PinUvAuthProtocolTwo:
		return true
	default:
		return false
	}
}

// Verify checks a pinUvAuthParam against the given message with the current
// token. Comparison is constant-time in both protocols.
func (ts *TokenState) Verify(protocol ctaptypes.PinUvAuthProtocol, message []byte, param []byte) bool {
	switch protocol {
	case ctaptypes.PinUvAuthProtocolOne:
		return protocolone.Verify(ts.token, message, param)
	case ctaptypes.PinUvAuthProtocolTwo:
		return protocoltwo.Verify(ts.token, message, param)
	default:
		return false
	}
}

// Authenticate computes a pinUvAuthParam for a message with the given
// protocol. This is the platform side of Verify.
func Authenticate(protocol ctaptypes.PinUvAuthProtocol, key []byte, message []byte) []byte {
	switch protocol {
	case ctaptypes.PinUvAuthProtocolOne:
		return protocolone.Authenticate(key, message)
	case ctaptypes.PinUvAuthProtocolTwo:
		return protocoltwo.Authenticate(key, message)
	default:
		panic("invalid auth protocol")
	}
}

// Token exposes the raw token so a platform sharing the process (tests, the
// example) can compute pinUvAuthParam values. A real platform obtains it
// through the clientPIN key agreement instead.
func (ts *TokenState) Token() []byte {
	return ts.token
}
