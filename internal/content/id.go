// Package content moves article bytes to and from the storage network and
// keeps the local article directory in sync with what was fetched.
package content

import (
	"bytes"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/starford/distwiki/internal/apperr"
)

// IDSize is the length of a stripped content identifier.
const IDSize = 32

// nativePrefix is the multihash header (sha2-256, 32 byte digest) every
// native identifier carries. It is dropped before an identifier is stored
// on-chain and re-attached before retrieval.
var nativePrefix = []byte{multihash.SHA2_256, IDSize}

// ID is a content identifier with its constant multihash header removed.
type ID [IDSize]byte

// Strip parses a native (CIDv0, base58) identifier and removes its header.
func Strip(native string) (ID, error) {
	var id ID
	c, err := cid.Decode(native)
	if err != nil {
		return id, fmt.Errorf("content: decode %q: %w: %w", native, apperr.ErrInvalidContentID, err)
	}
	if c.Version() != 0 {
		return id, fmt.Errorf("content: %q is not a v0 identifier: %w", native, apperr.ErrInvalidContentID)
	}
	mh := []byte(c.Hash())
	if len(mh) != len(nativePrefix)+IDSize || !bytes.HasPrefix(mh, nativePrefix) {
		return id, fmt.Errorf("content: unexpected multihash header in %q: %w", native, apperr.ErrInvalidContentID)
	}
	copy(id[:], mh[len(nativePrefix):])
	return id, nil
}

// FromBytes builds an ID from its stripped form.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != IDSize {
		return id, fmt.Errorf("content: stripped id has %d bytes, want %d: %w", len(b), IDSize, apperr.ErrInvalidContentID)
	}
	copy(id[:], b)
	return id, nil
}

// Native re-attaches the header and returns the base58 identifier the
// storage network understands.
func (id ID) Native() string {
	mh := make([]byte, 0, len(nativePrefix)+IDSize)
	mh = append(mh, nativePrefix...)
	mh = append(mh, id[:]...)
	return cid.NewCidV0(multihash.Multihash(mh)).String()
}

// IsZero reports whether id is the all-zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

func (id ID) String() string {
	return id.Native()
}
