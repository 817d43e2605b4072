package wikiservice_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/starford/distwiki/internal/apperr"
	"github.com/starford/distwiki/internal/ledger"
	"github.com/starford/distwiki/internal/models"
	"github.com/starford/distwiki/internal/wikiservice"
	"github.com/starford/distwiki/internal/wikiservice/wikitest"
)

func TestPublishThenRead(t *testing.T) {
	env := wikitest.New(t)
	ctx := context.Background()

	sub := env.Publish(t, "Foo", "first draft")
	if sub.TxHash == "" || sub.ContentID == "" {
		t.Fatalf("submission = %+v", sub)
	}

	// Drop the local copy so Read has to go to the network.
	if err := env.Articles.Delete("Foo"); err != nil {
		t.Fatal(err)
	}
	detail, err := env.Service.Read(ctx, "Foo", nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if detail.Content != "first draft" {
		t.Errorf("content = %q", detail.Content)
	}
	if detail.ContentID != sub.ContentID {
		t.Errorf("content id = %s, want %s", detail.ContentID, sub.ContentID)
	}
	if detail.Placement != "created" {
		t.Errorf("placement = %s", detail.Placement)
	}
}

func TestReviseAndReadOldVersion(t *testing.T) {
	env := wikitest.New(t)
	ctx := context.Background()

	env.Publish(t, "Foo", "v0")
	env.Revise(t, "Foo", "v1")

	history, err := env.Service.History(ctx, "Foo")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %+v", history)
	}

	zero := 0
	old, err := env.Service.Read(ctx, "Foo", &zero)
	if err != nil {
		t.Fatalf("Read(v0): %v", err)
	}
	if old.Content != "v0" || old.Placement != "replaced" {
		t.Errorf("old = %+v", old)
	}

	latest, err := env.Service.Read(ctx, "Foo", nil)
	if err != nil {
		t.Fatalf("Read(latest): %v", err)
	}
	if latest.Content != "v1" || latest.Placement != "replaced" {
		t.Errorf("latest = %+v", latest)
	}

	again, err := env.Service.Read(ctx, "Foo", nil)
	if err != nil {
		t.Fatal(err)
	}
	if again.Placement != "unchanged" {
		t.Errorf("second read placement = %s", again.Placement)
	}

	five := 5
	if _, err := env.Service.Read(ctx, "Foo", &five); !errors.Is(err, apperr.ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestPublishExistingKeepsLocalCopy(t *testing.T) {
	env := wikitest.New(t)
	env.Publish(t, "Foo", "original")

	_, err := env.Service.Publish(context.Background(), "Foo", []byte("overwrite"), nil)
	if !errors.Is(err, apperr.ErrArticleAlreadyExists) {
		t.Fatalf("expected ErrArticleAlreadyExists, got %v", err)
	}
	data, err := env.Articles.Read("Foo")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "original" {
		t.Errorf("local copy changed to %q", data)
	}
}

func TestReviseMissing(t *testing.T) {
	env := wikitest.New(t)
	_, err := env.Service.Revise(context.Background(), "Nope", []byte("x"))
	if !errors.Is(err, apperr.ErrArticleNotFound) {
		t.Fatalf("expected ErrArticleNotFound, got %v", err)
	}
	if ok, _ := env.Articles.Exists("Nope"); ok {
		t.Error("local copy written for a failed revise")
	}
}

func TestFailedBroadcastRestoresLocalCopy(t *testing.T) {
	env := wikitest.New(t)
	ctx := context.Background()
	env.Publish(t, "Foo", "stable")

	env.Chain.SendErr = errors.New("node down")
	_, err := env.Service.Revise(ctx, "Foo", []byte("lost edit"))
	if !errors.Is(err, apperr.ErrRemoteCall) {
		t.Fatalf("expected ErrRemoteCall, got %v", err)
	}
	data, _ := env.Articles.Read("Foo")
	if string(data) != "stable" {
		t.Errorf("local copy = %q", data)
	}

	_, err = env.Service.Publish(ctx, "Bar", []byte("new"), nil)
	if !errors.Is(err, apperr.ErrRemoteCall) {
		t.Fatalf("expected ErrRemoteCall, got %v", err)
	}
	if ok, _ := env.Articles.Exists("Bar"); ok {
		t.Error("local copy left after failed publish")
	}
}

// appendFailer fails Append while fail is set.
type appendFailer struct {
	ledger.Store
	fail bool
}

func (a *appendFailer) Append(ctx context.Context, hash, description string, nonce uint64) error {
	if a.fail {
		return fmt.Errorf("ledger: append: %w: disk full", apperr.ErrLedgerUnavailable)
	}
	return a.Store.Append(ctx, hash, description, nonce)
}

func TestUnrecordedBroadcastKeepsLocalCopy(t *testing.T) {
	failer := &appendFailer{}
	env := wikitest.New(t, wikitest.WithLedger(func(s ledger.Store) ledger.Store {
		failer.Store = s
		return failer
	}))
	ctx := context.Background()
	env.Publish(t, "Foo", "v0")

	failer.fail = true
	_, err := env.Service.Revise(ctx, "Foo", []byte("v1"))
	if !errors.Is(err, apperr.ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
	if n := len(env.Chain.Pending()); n != 1 {
		t.Fatalf("pending transactions on chain = %d, want 1", n)
	}
	data, _ := env.Articles.Read("Foo")
	if string(data) != "v1" {
		t.Errorf("local copy = %q, want the broadcast content", data)
	}
}

func TestTitlesAndActions(t *testing.T) {
	env := wikitest.New(t)
	ctx := context.Background()

	titles, err := env.Service.Titles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if titles == nil || len(titles) != 0 {
		t.Errorf("empty titles = %#v", titles)
	}

	env.Publish(t, "Foo", "a")
	env.Publish(t, "Bar", "b")
	env.Revise(t, "Foo", "c")

	titles, err = env.Service.Titles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(titles, ",") != "Foo,Bar" {
		t.Errorf("titles = %v", titles)
	}

	actions, err := env.Service.RecentActions(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []models.Action{
		{Description: "Updating article Foo", Status: models.StatusSuccess},
		{Description: "Adding article Bar", Status: models.StatusSuccess},
	}
	if len(actions) != len(want) || actions[0] != want[0] || actions[1] != want[1] {
		t.Errorf("actions = %+v", actions)
	}
	if len(env.Submitted) != 3 {
		t.Errorf("submitted callbacks = %d", len(env.Submitted))
	}
	if len(env.Resolved) != 3 {
		t.Errorf("resolved callbacks = %d", len(env.Resolved))
	}
}

func TestReconcileReportsPending(t *testing.T) {
	env := wikitest.New(t)
	ctx := context.Background()
	if _, err := env.Service.Publish(ctx, "Foo", []byte("x"), nil); err != nil {
		t.Fatal(err)
	}

	n, err := env.Service.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pending = %d, want 1", n)
	}
	env.Chain.MineAll()
	if n, _ = env.Service.Reconcile(ctx); n != 0 {
		t.Errorf("pending after mining = %d", n)
	}
}

func TestLocalArticles(t *testing.T) {
	env := wikitest.New(t)
	env.Publish(t, "Foo", "a")
	env.Publish(t, "lang/Go", "b")

	local, err := env.Service.LocalArticles(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(local) != 2 {
		t.Fatalf("local = %+v", local)
	}
}

func TestValidateTitle(t *testing.T) {
	valid := []string{"Foo", "lang/Go", "with space", strings.Repeat("x", 32)}
	for _, title := range valid {
		if err := wikiservice.ValidateTitle(title); err != nil {
			t.Errorf("ValidateTitle(%q): %v", title, err)
		}
	}
	invalid := map[string]error{
		"":                      apperr.ErrInvalidTitle,
		"   ":                   apperr.ErrInvalidTitle,
		".hidden":               apperr.ErrInvalidTitle,
		"a/../b":                apperr.ErrInvalidTitle,
		"a//b":                  apperr.ErrInvalidTitle,
		strings.Repeat("x", 33): apperr.ErrTitleTooLong,
	}
	for title, want := range invalid {
		if err := wikiservice.ValidateTitle(title); !errors.Is(err, want) {
			t.Errorf("ValidateTitle(%q): got %v, want %v", title, err, want)
		}
	}
}
