// Package canon implements the canonical wire codec used for both on-disk
// metadata storage and detached signatures (spec §4.1, §6.1-6.2): a
// deterministic binary encoding of unsigned integers, byte strings, ordered
// lists, and maps with byte-string keys, sorted lexicographically so that
// re-encoding a decoded value is byte-identical.
//
// Built on github.com/fxamacker/cbor/v2's canonical (CTAP2-style) mode,
// the same library the rest of the pack reaches for wherever deterministic
// CBOR is required.
package canon

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Mode is the shared canonical CBOR encoding mode: deterministic key order,
// no indefinite-length items, smallest-integer encoding.
var Mode cbor.EncMode

func init() {
	var err error
	Mode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("canon: failed to build canonical CBOR mode: %v", err))
	}
}

// Encode returns the canonical encoding of v.
func Encode(v interface{}) ([]byte, error) {
	return Mode.Marshal(v)
}

// Decode decodes canonical bytes into out.
func Decode(data []byte, out interface{}) error {
	return cbor.Unmarshal(data, out)
}

// IsCanonical reports whether data is already in canonical form: decoding
// then re-encoding it reproduces the same bytes.
func IsCanonical(data []byte) bool {
	var v interface{}
	if err := Decode(data, &v); err != nil {
		return false
	}
	reencoded, err := Encode(v)
	if err != nil {
		return false
	}
	return string(reencoded) == string(data)
}

// EncodeBlanked marshals v to a generic map, replaces each field named in
// blank with its zero value (empty byte string for signatures, empty map
// for the files mapping), and re-encodes canonically. This is the header-
// signature coverage rule of spec §6.1: sign/verify over the map with
// header_signature and files blanked.
func EncodeBlanked(v interface{}, blank map[string]interface{}) ([]byte, error) {
	data, err := Encode(v)
	if err != nil {
		return nil, fmt.Errorf("canon: encode before blanking: %w", err)
	}

	var m map[string]interface{}
	if err := Decode(data, &m); err != nil {
		return nil, fmt.Errorf("canon: decode for blanking: %w", err)
	}

	for field, zero := range blank {
		m[field] = zero
	}

	return Encode(m)
}
