package main

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"github.com/go-ctap/largeblobs/pkg/authenticator"
	"github.com/go-ctap/largeblobs/pkg/ctaptypes"
	"github.com/go-ctap/largeblobs/pkg/fragment"
	"github.com/go-ctap/largeblobs/pkg/options"
	"github.com/go-ctap/largeblobs/pkg/pinproto"
	"github.com/go-ctap/largeblobs/pkg/pinproto/protocolone"
	"github.com/go-ctap/largeblobs/pkg/statuscode"
	"github.com/go-ctap/largeblobs/pkg/storage"
)

func main() {
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelDebug)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))

	store, err := storage.NewFileStore(filepath.Join(os.TempDir(), "largeblobs.cbor"))
	if err != nil {
		panic(err)
	}

	// Enroll a PIN factor so writes require a pinUvAuthParam.
	pinHash := sha256.Sum256([]byte("12345678"))
	if err := store.SetPINHash(pinHash[:16]); err != nil {
		panic(err)
	}

	tokens, err := pinproto.NewTokenState()
	if err != nil {
		panic(err)
	}
	tokens.AssignPermissions(ctaptypes.PermissionLargeBlobWrite)

	auth := authenticator.New(store, tokens, options.WithLogger(logger))

	encMode, err := cbor.CTAP2EncOptions().EncMode()
	if err != nil {
		panic(err)
	}

	blob := fragment.AppendTag([]byte("large blob arrays hold per-credential data too big for credBlob"))

	// Write the blob fragment by fragment. A tiny fragment size forces
	// several round trips, like a real constrained transport would.
	offset := uint(0)
	for _, frag := range fragment.Split(blob, 24) {
		req := &ctaptypes.AuthenticatorLargeBlobsRequest{
			Set:    frag,
			Offset: offset,
			PinUvAuthParam: protocolone.Authenticate(
				tokens.Token(),
				fragment.SigningMessage(offset, frag),
			),
			PinUvAuthProtocol: ctaptypes.PinUvAuthProtocolOne,
		}
		if offset == 0 {
			req.Length = uint(len(blob))
		}

		b, err := encMode.Marshal(req)
		if err != nil {
			panic(err)
		}

		resp := auth.Handle(append([]byte{byte(ctaptypes.AuthenticatorLargeBlobs)}, b...))
		if code := statuscode.StatusCode(resp[0]); code != statuscode.CTAP2_OK {
			panic(fmt.Sprintf("set at offset %d failed: %s", offset, code))
		}

		offset += uint(len(frag))
	}

	// Read it back in one bounded get.
	b, err := encMode.Marshal(&ctaptypes.AuthenticatorLargeBlobsRequest{
		Get:    uint(len(blob)),
		Offset: 0,
	})
	if err != nil {
		panic(err)
	}

	resp := auth.Handle(append([]byte{byte(ctaptypes.AuthenticatorLargeBlobs)}, b...))
	if code := statuscode.StatusCode(resp[0]); code != statuscode.CTAP2_OK {
		panic(fmt.Sprintf("get failed: %s", code))
	}

	var out *ctaptypes.AuthenticatorLargeBlobsResponse
	if err := cbor.Unmarshal(resp[1:], &out); err != nil {
		panic(err)
	}

	fmt.Printf("read %d bytes back, tag valid: %t\n", len(out.Config), fragment.VerifyTag(out.Config))
	fmt.Printf("payload: %s\n", out.Config[:len(out.Config)-16])
}
