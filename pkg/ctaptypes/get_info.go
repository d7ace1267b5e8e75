package ctaptypes

import "github.com/google/uuid"

type (
	Version           string
	Versions          []Version
	PinUvAuthProtocol uint
)

const (
	FIDO_2_0     Version = "FIDO_2_0"
	FIDO_2_1_PRE Version = "FIDO_2_1_PRE"
	FIDO_2_1     Version = "FIDO_2_1"
	U2F_V2       Version = "U2F_V2"
)

const (
	PinUvAuthProtocolOne PinUvAuthProtocol = iota + 1
	PinUvAuthProtocolTwo
)

type AuthenticatorGetInfoResponse struct {
	Versions                    Versions            `cbor:"1,keyasint"`
	Extensions                  []string            `cbor:"2,keyasint,omitempty"`
	AAGUID                      uuid.UUID           `cbor:"3,keyasint"`
	Options                     map[Option]bool     `cbor:"4,keyasint,omitempty"`
	MaxMsgSize                  uint                `cbor:"5,keyasint,omitempty"`
	PinUvAuthProtocols          []PinUvAuthProtocol `cbor:"6,keyasint,omitempty"`
	MaxSerializedLargeBlobArray uint                `cbor:"11,keyasint,omitempty"`
	FirmwareVersion             uint                `cbor:"14,keyasint,omitempty"`
}
