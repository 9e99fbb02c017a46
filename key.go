package compose

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// KeyFunc derives a deterministic cache key from a request. Two requests that
// are equal must produce the same key; requests that differ must produce
// different keys (within the collision bounds of the chosen encoding).
type KeyFunc[Req any] func(req Req) (string, error)

// keyEncMode is the canonical CBOR encoding used by DefaultKeyFunc so that
// equal requests always serialize to identical bytes.
var keyEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("compose: building canonical CBOR mode: %v", err))
	}
	keyEncMode = em
}

// DefaultKeyFunc returns a KeyFunc that encodes the request with canonical
// CBOR and returns a truncated SHA-256 digest of the encoding. It works for
// any request type CBOR can represent: primitives, slices, maps, and structs
// compared field-by-field. Requests that cannot be encoded (functions,
// channels) yield an error wrapping ErrInvalidArgument.
func DefaultKeyFunc[Req any]() KeyFunc[Req] {
	return func(req Req) (string, error) {
		raw, err := keyEncMode.Marshal(req)
		if err != nil {
			return "", fmt.Errorf("%w: request is not usable as a memo key: %v", ErrInvalidArgument, err)
		}
		sum := sha256.Sum256(raw)
		return hex.EncodeToString(sum[:16]), nil
	}
}
