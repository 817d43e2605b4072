// Package memnet is an in-memory storage network for tests and offline use.
package memnet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ErrNotFound is returned by Cat for identifiers nobody has added.
var ErrNotFound = errors.New("memnet: not found")

// Network stores blobs keyed by a CIDv0 of their SHA-256.
type Network struct {
	mu    sync.Mutex
	blobs map[string][]byte
	// Block, when non-nil, makes Cat wait on it (or on ctx) before answering.
	block chan struct{}
}

// New returns an empty Network.
func New() *Network {
	return &Network{blobs: make(map[string][]byte)}
}

// Block makes subsequent Cat calls hang until Unblock or ctx cancellation.
func (n *Network) Block() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.block == nil {
		n.block = make(chan struct{})
	}
}

// Unblock releases all waiting and future Cat calls.
func (n *Network) Unblock() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.block != nil {
		close(n.block)
		n.block = nil
	}
}

// Add stores r's bytes and returns their identifier.
func (n *Network) Add(_ context.Context, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("memnet: read: %w", err)
	}
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	native := cid.NewCidV0(mh).String()

	n.mu.Lock()
	n.blobs[native] = data
	n.mu.Unlock()
	return native, nil
}

// Cat returns the bytes stored under native.
func (n *Network) Cat(ctx context.Context, native string) (io.ReadCloser, error) {
	n.mu.Lock()
	block := n.block
	data, ok := n.blobs[native]
	n.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, native)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
