package content

import (
	"bytes"
	"context"
	"fmt"
	"io"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/starford/distwiki/internal/apperr"
)

// Network is the storage-network boundary: put bytes, get bytes by native id.
type Network interface {
	// Add uploads r and returns the native identifier of its content.
	Add(ctx context.Context, r io.Reader) (string, error)
	// Cat streams the content stored under native.
	Cat(ctx context.Context, native string) (io.ReadCloser, error)
}

// Shell implements Network over an IPFS node's HTTP API.
type Shell struct {
	sh *shell.Shell
}

var _ Network = (*Shell)(nil)

// NewShell connects to the node API at apiURL (e.g. "localhost:5001").
func NewShell(apiURL string) *Shell {
	return &Shell{sh: shell.NewShell(apiURL)}
}

// IsUp reports whether the node API answers.
func (s *Shell) IsUp() bool {
	return s.sh.IsUp()
}

// Add pins r on the node. The underlying client has no context support, so
// the upload keeps running if ctx ends first; only the wait is abandoned.
// r is read fully before the upload starts, so the caller may close it as
// soon as Add returns.
func (s *Shell) Add(ctx context.Context, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("content: add: read: %w", err)
	}

	type result struct {
		native string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		native, err := s.sh.Add(bytes.NewReader(data), shell.Pin(true))
		done <- result{native, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("content: add: %w: %w", apperr.ErrRemoteCall, res.err)
		}
		return res.native, nil
	case <-ctx.Done():
		return "", fmt.Errorf("content: add: %w", ctx.Err())
	}
}

// Cat streams the object stored under native.
func (s *Shell) Cat(ctx context.Context, native string) (io.ReadCloser, error) {
	resp, err := s.sh.Request("cat", native).Send(ctx)
	if err != nil {
		return nil, fmt.Errorf("content: cat %s: %w: %w", native, apperr.ErrRemoteCall, err)
	}
	if resp.Error != nil {
		resp.Close()
		return nil, fmt.Errorf("content: cat %s: %w: %w", native, apperr.ErrRemoteCall, resp.Error)
	}
	return resp.Output, nil
}
