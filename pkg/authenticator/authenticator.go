// Package authenticator is the device-side dispatch around the largeBlobs
// session: it decodes `command byte || CBOR body` frames, routes them to
// the session, and serializes the outcome as `status byte || CBOR body`.
//
// Commands are processed one at a time, run to completion; the handler is
// not safe for concurrent use.
package authenticator

import (
	"encoding/hex"
	"errors"
	"log/slog"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/go-ctap/largeblobs/pkg/ctaptypes"
	"github.com/go-ctap/largeblobs/pkg/largeblobs"
	"github.com/go-ctap/largeblobs/pkg/options"
	"github.com/go-ctap/largeblobs/pkg/statuscode"
)

// MaxSerializedLargeBlobArray is the storage budget advertised in GetInfo.
const MaxSerializedLargeBlobArray uint = 2048

type Authenticator struct {
	logger     *slog.Logger
	encMode    cbor.EncMode
	maxMsgSize uint
	aaguid     uuid.UUID

	session *largeblobs.Session
	store   largeblobs.BlobStore
	tokens  largeblobs.TokenVerifier
}

func New(
	store largeblobs.BlobStore,
	tokens largeblobs.TokenVerifier,
	opts ...options.Option,
) *Authenticator {
	oo := options.NewOptions(opts...)

	return &Authenticator{
		logger:     oo.Logger,
		encMode:    oo.EncMode,
		maxMsgSize: oo.MaxMsgSize,
		aaguid:     uuid.New(),
		session:    largeblobs.NewSession(opts...),
		store:      store,
		tokens:     tokens,
	}
}

// Handle processes one command frame and returns the response frame. The
// first byte of the response is the CTAP status code; a CBOR body follows
// only on success of commands that return data.
func (a *Authenticator) Handle(data []byte) []byte {
	if len(data) == 0 {
		return statusFrame(statuscode.CTAP1_ERR_INVALID_COMMAND)
	}

	cmd := ctaptypes.Command(data[0])
	body := data[1:]
	a.logger.Debug("command received", "command", cmd.String(), "hex", hex.EncodeToString(body))

	switch cmd {
	case ctaptypes.AuthenticatorGetInfo:
		return a.handleGetInfo()
	case ctaptypes.AuthenticatorLargeBlobs:
		return a.handleLargeBlobs(body)
	default:
		return statusFrame(statuscode.CTAP1_ERR_INVALID_COMMAND)
	}
}

func (a *Authenticator) handleGetInfo() []byte {
	info := &ctaptypes.AuthenticatorGetInfoResponse{
		Versions: ctaptypes.Versions{ctaptypes.FIDO_2_1},
		AAGUID:   a.aaguid,
		Options: map[ctaptypes.Option]bool{
			ctaptypes.OptionLargeBlobs: true,
			ctaptypes.OptionClientPIN:  a.store.PINHash().IsPresent(),
		},
		MaxMsgSize: a.maxMsgSize,
		PinUvAuthProtocols: []ctaptypes.PinUvAuthProtocol{
			ctaptypes.PinUvAuthProtocolOne,
			ctaptypes.PinUvAuthProtocolTwo,
		},
		MaxSerializedLargeBlobArray: MaxSerializedLargeBlobArray,
	}

	b, err := a.encMode.Marshal(info)
	if err != nil {
		a.logger.Error("cannot marshal GetInfo CBOR response", "err", err)
		return statusFrame(statuscode.CTAP1_ERR_OTHER)
	}

	return successFrame(b)
}

func (a *Authenticator) handleLargeBlobs(body []byte) []byte {
	var req *ctaptypes.AuthenticatorLargeBlobsRequest
	if err := cbor.Unmarshal(body, &req); err != nil {
		return statusFrame(statuscode.CTAP2_ERR_INVALID_CBOR)
	}

	resp, err := a.session.Process(a.store, a.tokens, req)
	if err != nil {
		a.logger.Debug("largeBlobs command failed", "err", err)
		return errorFrame(err)
	}
	if resp == nil {
		// A set returns no body.
		return statusFrame(statuscode.CTAP2_OK)
	}

	b, err := a.encMode.Marshal(resp)
	if err != nil {
		a.logger.Error("cannot marshal largeBlobs CBOR response", "err", err)
		return statusFrame(statuscode.CTAP1_ERR_OTHER)
	}

	return successFrame(b)
}

func statusFrame(code statuscode.StatusCode) []byte {
	return []byte{byte(code)}
}

func successFrame(body []byte) []byte {
	return append([]byte{byte(statuscode.CTAP2_OK)}, body...)
}

// errorFrame maps an error to its status byte. Storage and other opaque
// failures surface as CTAP1_ERR_OTHER.
func errorFrame(err error) []byte {
	var se *statuscode.Error
	if errors.As(err, &se) {
		return statusFrame(se.StatusCode)
	}
	return statusFrame(statuscode.CTAP1_ERR_OTHER)
}
