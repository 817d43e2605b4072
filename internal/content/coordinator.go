package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/starford/distwiki/internal/apperr"
	"github.com/starford/distwiki/internal/checksum"
	"github.com/starford/distwiki/internal/metrics"
	"github.com/starford/distwiki/internal/storage"
)

// DefaultFetchTimeout bounds how long Fetch waits when no timeout is given.
const DefaultFetchTimeout = 20 * time.Second

// Placement is the outcome of moving a fetched file into the article directory.
type Placement string

const (
	// PlacementCreated means no local copy existed before.
	PlacementCreated Placement = "created"
	// PlacementReplaced means a stale local copy was swapped for the fresh one.
	PlacementReplaced Placement = "replaced"
	// PlacementUnchanged means the local copy already matched; the download was discarded.
	PlacementUnchanged Placement = "unchanged"
)

// Coordinator publishes article files and brings remote versions into the
// local article directory.
type Coordinator struct {
	net     Network
	store   storage.Provider
	logger  *slog.Logger
	timeout time.Duration
}

// NewCoordinator wires a Coordinator. A non-positive timeout selects
// DefaultFetchTimeout.
func NewCoordinator(net Network, store storage.Provider, timeout time.Duration, logger *slog.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Coordinator{net: net, store: store, logger: logger, timeout: timeout}
}

// Publish uploads the local file name and returns its stripped identifier.
func (c *Coordinator) Publish(ctx context.Context, name string) (ID, error) {
	abs, err := c.store.Abs(name)
	if err != nil {
		return ID{}, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return ID{}, fmt.Errorf("content: publish %s: %w", name, err)
	}
	defer f.Close()

	native, err := c.net.Add(ctx, f)
	if err != nil {
		return ID{}, err
	}
	id, err := Strip(native)
	if err != nil {
		return ID{}, err
	}
	c.logger.Info("content: published", slog.String("name", name), slog.String("id", native))
	return id, nil
}

// Fetch downloads id into a fresh temp file in the article directory and
// returns the temp file's name. It stops waiting after timeout (or the
// coordinator default when timeout <= 0) and returns ErrFetchTimeout; the
// abandoned transfer is cancelled and its temp file removed once it ends.
func (c *Coordinator) Fetch(ctx context.Context, id ID, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	native := id.Native()

	tmp, tmpName, err := c.store.CreateTemp()
	if err != nil {
		return "", err
	}

	dlCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan error, 1)
	go func() {
		done <- c.download(dlCtx, native, tmp)
	}()

	start := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		cancel()
		if err != nil {
			metrics.ContentFetchSeconds.WithLabelValues("error").Observe(time.Since(start).Seconds())
			c.discard(tmpName)
			return "", err
		}
		metrics.ContentFetchSeconds.WithLabelValues("ok").Observe(time.Since(start).Seconds())
		return tmpName, nil
	case <-timer.C:
		metrics.ContentFetchSeconds.WithLabelValues("timeout").Observe(time.Since(start).Seconds())
		c.abandon(cancel, done, tmpName)
		return "", fmt.Errorf("content: fetch %s after %s: %w", native, timeout, apperr.ErrFetchTimeout)
	case <-ctx.Done():
		c.abandon(cancel, done, tmpName)
		return "", fmt.Errorf("content: fetch %s: %w", native, ctx.Err())
	}
}

func (c *Coordinator) download(ctx context.Context, native string, tmp *os.File) error {
	defer tmp.Close()
	rc, err := c.net.Cat(ctx, native)
	if err != nil {
		return fmt.Errorf("content: fetch %s: %w", native, err)
	}
	defer rc.Close()
	if _, err := io.Copy(tmp, rc); err != nil {
		return fmt.Errorf("content: fetch %s: copy: %w", native, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("content: fetch %s: fsync: %w", native, err)
	}
	return nil
}

func (c *Coordinator) abandon(cancel context.CancelFunc, done <-chan error, tmpName string) {
	cancel()
	go func() {
		<-done
		c.discard(tmpName)
	}()
}

func (c *Coordinator) discard(tmpName string) {
	if err := c.store.Delete(tmpName); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("content: remove temp file", slog.String("name", tmpName), slog.Any("error", err))
	}
}

// Place moves the fetched file tmpName to title, following the replace
// policy: a differing local copy is replaced, a missing one is created, and
// an identical one is kept while the download is discarded.
func (c *Coordinator) Place(title, tmpName string) (Placement, error) {
	exists, err := c.store.Exists(title)
	if err != nil {
		c.discard(tmpName)
		return "", err
	}
	if !exists {
		if err := c.store.Move(tmpName, title); err != nil {
			c.discard(tmpName)
			return "", err
		}
		return PlacementCreated, nil
	}

	fresh, err := c.sum(tmpName)
	if err != nil {
		c.discard(tmpName)
		return "", err
	}
	local, err := c.sum(title)
	if err != nil {
		c.discard(tmpName)
		return "", err
	}

	if fresh == local {
		c.discard(tmpName)
		return PlacementUnchanged, nil
	}
	// Rename replaces the stale copy in one step.
	if err := c.store.Move(tmpName, title); err != nil {
		c.discard(tmpName)
		return "", err
	}
	return PlacementReplaced, nil
}

func (c *Coordinator) sum(name string) (string, error) {
	abs, err := c.store.Abs(name)
	if err != nil {
		return "", err
	}
	return checksum.SumFile(abs)
}

// Retrieve fetches id and places it at title.
func (c *Coordinator) Retrieve(ctx context.Context, title string, id ID, timeout time.Duration) (Placement, error) {
	tmpName, err := c.Fetch(ctx, id, timeout)
	if err != nil {
		return "", err
	}
	placement, err := c.Place(title, tmpName)
	if err != nil {
		return "", err
	}
	c.logger.Info("content: retrieved",
		slog.String("title", title),
		slog.String("id", id.Native()),
		slog.String("placement", string(placement)),
	)
	return placement, nil
}
