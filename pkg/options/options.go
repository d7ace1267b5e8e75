package options

import (
	"log/slog"

	"github.com/fxamacker/cbor/v2"
)

// Hasher produces the fixed-size digest used for fragment signing and the
// trailing integrity tag of the large blob array.
type Hasher interface {
	Hash(data []byte) []byte
}

type Options struct {
	Logger     *slog.Logger
	EncMode    cbor.EncMode
	MaxMsgSize uint
	Hasher     Hasher
}

type Option func(*Options)

func WithLogger(logger *slog.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

func WithEncMode(encMode cbor.EncMode) Option {
	return func(opts *Options) {
		opts.EncMode = encMode
	}
}

// WithMaxMsgSize overrides the transport message-size limit. The maximum
// fragment length follows from it, so shrinking it below 64+1 makes every
// fragment invalid.
func WithMaxMsgSize(size uint) Option {
	return func(opts *Options) {
		opts.MaxMsgSize = size
	}
}

func WithHasher(hasher Hasher) Option {
	return func(opts *Options) {
		opts.Hasher = hasher
	}
}

// DefaultMaxMsgSize is the transport message-size limit. 1024 is the
// default. Increasing it can speed up transfers, but leads to packets
// dropping or unexpected failures on constrained transports.
const DefaultMaxMsgSize uint = 1024

func NewOptions(opts ...Option) *Options {
	encMode, _ := cbor.CTAP2EncOptions().EncMode()
	oo := &Options{
		Logger:     slog.Default(),
		EncMode:    encMode,
		MaxMsgSize: DefaultMaxMsgSize,
	}

	for _, opt := range opts {
		opt(oo)
	}

	return oo
}
