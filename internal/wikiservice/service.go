// Package wikiservice combines the local article directory, the storage
// network and the on-chain registry into whole-article operations.
package wikiservice

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/starford/distwiki/internal/apperr"
	"github.com/starford/distwiki/internal/checksum"
	"github.com/starford/distwiki/internal/content"
	"github.com/starford/distwiki/internal/models"
	"github.com/starford/distwiki/internal/registry"
	"github.com/starford/distwiki/internal/storage"
)

// ArticleDetail is an article as read from the local copy after retrieval.
type ArticleDetail struct {
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	ContentID string    `json:"content_id"`
	Checksum  string    `json:"checksum"`
	Version   *int      `json:"version,omitempty"`
	Placement string    `json:"placement"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Submission is the result of a publish or revise call.
type Submission struct {
	Title     string `json:"title"`
	ContentID string `json:"content_id"`
	TxHash    string `json:"tx_hash"`
	Checksum  string `json:"checksum"`
}

// Service coordinates storage, content and registry operations.
type Service struct {
	store        storage.Provider
	content      *content.Coordinator
	registry     *registry.Client
	rec          registry.Reconciler
	fetchTimeout time.Duration
}

// NewService creates a new wiki service. A non-positive fetchTimeout uses
// the coordinator's default.
func NewService(store storage.Provider, coord *content.Coordinator, reg *registry.Client, rec registry.Reconciler, fetchTimeout time.Duration) *Service {
	return &Service{
		store:        store,
		content:      coord,
		registry:     reg,
		rec:          rec,
		fetchTimeout: fetchTimeout,
	}
}

// Publish writes body as the local copy of a new article, uploads it and
// registers it on-chain.
func (s *Service) Publish(ctx context.Context, title string, body []byte, authorized []string) (*Submission, error) {
	if err := ValidateTitle(title); err != nil {
		return nil, err
	}
	exists, err := s.registry.ArticleExists(ctx, title)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("wikiservice: publish %q: %w", title, apperr.ErrArticleAlreadyExists)
	}

	return s.submit(ctx, title, body, func(id content.ID) (string, error) {
		return sentHash(s.registry.CreateArticle(ctx, title, id, authorized))
	})
}

// Revise publishes body as the next version of an existing article.
func (s *Service) Revise(ctx context.Context, title string, body []byte) (*Submission, error) {
	if err := ValidateTitle(title); err != nil {
		return nil, err
	}
	exists, err := s.registry.ArticleExists(ctx, title)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("wikiservice: revise %q: %w", title, apperr.ErrArticleNotFound)
	}

	return s.submit(ctx, title, body, func(id content.ID) (string, error) {
		return sentHash(s.registry.UpdateArticle(ctx, title, id))
	})
}

// sentHash reports a registry hash, or "" when nothing was broadcast.
func sentHash(hash common.Hash, err error) (string, error) {
	if hash == (common.Hash{}) {
		return "", err
	}
	return hash.Hex(), err
}

// submit writes the local copy, uploads it and runs send. On failure the
// local copy is restored to what it was before, unless send reports a
// broadcast transaction: the local copy then matches what went on-chain.
func (s *Service) submit(ctx context.Context, title string, body []byte, send func(content.ID) (string, error)) (*Submission, error) {
	restore, err := s.writeLocal(title, body)
	if err != nil {
		return nil, err
	}
	id, err := s.content.Publish(ctx, title)
	if err != nil {
		restore()
		return nil, err
	}
	hash, err := send(id)
	if err != nil {
		if hash == "" {
			restore()
		}
		return nil, err
	}
	return &Submission{
		Title:     title,
		ContentID: id.Native(),
		TxHash:    hash,
		Checksum:  checksum.Sum(body),
	}, nil
}

func (s *Service) writeLocal(title string, body []byte) (func(), error) {
	prev, err := s.store.Read(title)
	existed := err == nil
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := s.store.Write(title, body); err != nil {
		return nil, err
	}
	return func() {
		if existed {
			_ = s.store.Write(title, prev)
			return
		}
		_ = s.store.Delete(title)
	}, nil
}

// Read retrieves the latest version of title, or version *version when
// set, into the local directory and returns it.
func (s *Service) Read(ctx context.Context, title string, version *int) (*ArticleDetail, error) {
	if err := ValidateTitle(title); err != nil {
		return nil, err
	}

	var id content.ID
	if version == nil {
		resolved, err := s.registry.ResolveContentID(ctx, title)
		if err != nil {
			return nil, err
		}
		id = resolved
	} else {
		v, err := s.registry.GetVersion(ctx, title, *version)
		if err != nil {
			return nil, err
		}
		id, err = content.Strip(v.ContentID)
		if err != nil {
			return nil, err
		}
	}

	placement, err := s.content.Retrieve(ctx, title, id, s.fetchTimeout)
	if err != nil {
		return nil, err
	}
	data, err := s.store.Read(title)
	if err != nil {
		return nil, err
	}
	return &ArticleDetail{
		Title:     title,
		Content:   string(data),
		ContentID: id.Native(),
		Checksum:  checksum.Sum(data),
		Version:   version,
		Placement: string(placement),
		FetchedAt: time.Now().UTC(),
	}, nil
}

// Titles lists every registered title.
func (s *Service) Titles(ctx context.Context) ([]string, error) {
	titles, err := s.registry.ListTitles(ctx)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(titles), nil
}

// History lists every version of title, oldest first.
func (s *Service) History(ctx context.Context, title string) ([]models.ArticleVersion, error) {
	if err := ValidateTitle(title); err != nil {
		return nil, err
	}
	versions, err := s.registry.GetHistory(ctx, title)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(versions), nil
}

// RecentActions reconciles and returns up to n recent submissions.
func (s *Service) RecentActions(ctx context.Context, n int) ([]models.Action, error) {
	actions, err := s.registry.RecentActions(ctx, n)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(actions), nil
}

// Reconcile runs one reconciliation pass and returns the pending count.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	return s.rec.Reconcile(ctx)
}

// EstimateCost returns the estimated cost in wei of publishing an article.
func (s *Service) EstimateCost(ctx context.Context) (*big.Int, error) {
	return s.registry.EstimateTransactionCost(ctx)
}

// LocalArticles lists the article copies present in the local directory.
func (s *Service) LocalArticles(_ context.Context) ([]models.LocalArticle, error) {
	local, err := s.store.List()
	if err != nil {
		return nil, err
	}
	return nonNilSlice(local), nil
}

// Account returns the address submissions are signed with.
func (s *Service) Account() string {
	return s.registry.Address().Hex()
}

// ValidateTitle checks that title fits on-chain and is usable as a local
// file name.
func ValidateTitle(title string) error {
	if _, err := registry.EncodeTitle(title); err != nil {
		return err
	}
	if strings.TrimSpace(title) == "" || strings.ContainsRune(title, 0) {
		return fmt.Errorf("wikiservice: title %q: %w", title, apperr.ErrInvalidTitle)
	}
	// Each path segment must be a visible file name.
	for _, part := range strings.Split(title, "/") {
		if part == "" || strings.HasPrefix(part, ".") {
			return fmt.Errorf("wikiservice: title %q: %w", title, apperr.ErrInvalidTitle)
		}
	}
	return nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
