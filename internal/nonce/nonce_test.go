package nonce

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNext(t *testing.T) {
	cases := []struct {
		confirmed, pending, want uint64
	}{
		{0, 0, 0},
		{5, 0, 5},
		{5, 3, 8},
	}
	for _, c := range cases {
		if got := Next(c.confirmed, c.pending); got != c.want {
			t.Errorf("Next(%d, %d) = %d, want %d", c.confirmed, c.pending, got, c.want)
		}
	}
}

func TestSequencerSerializes(t *testing.T) {
	s := NewSequencer()
	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(context.Background(), func(context.Context) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()
				time.Sleep(2 * time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxSeen)
	}
}

func TestSequencerHonorsContext(t *testing.T) {
	s := NewSequencer()
	release := make(chan struct{})
	go func() {
		_ = s.Do(context.Background(), func(context.Context) error {
			<-release
			return nil
		})
	}()
	defer close(release)

	// Give the holder a moment to take the lock.
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Do(ctx, func(context.Context) error {
		t.Error("fn ran while lock was held")
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestSequencerPropagatesError(t *testing.T) {
	want := errors.New("boom")
	err := NewSequencer().Do(context.Background(), func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Errorf("err = %v", err)
	}
}
