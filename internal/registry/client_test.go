package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/starford/distwiki/internal/apperr"
	"github.com/starford/distwiki/internal/chain/chaintest"
	"github.com/starford/distwiki/internal/content"
	"github.com/starford/distwiki/internal/ledger"
	"github.com/starford/distwiki/internal/models"
	"github.com/starford/distwiki/internal/reconciler"
	"github.com/starford/distwiki/internal/testutil"
)

type fixture struct {
	chain  *chaintest.Chain
	store  ledger.Store
	client *Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ch := chaintest.New()
	store := testutil.TestLedger(t)
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	client, err := New(context.Background(), Params{
		RPC:        ch,
		Ledger:     store,
		Reconciler: reconciler.New(store, ch, testutil.Logger()),
		Key:        key,
		Registry:   chaintest.RegistryAddress,
		Logger:     testutil.Logger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{chain: ch, store: store, client: client}
}

func testID(b byte) content.ID {
	var id content.ID
	for i := range id {
		id[i] = b
	}
	return id
}

func pendingNonces(t *testing.T, store ledger.Store) []uint64 {
	t.Helper()
	recs, err := store.ListPending(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	out := make([]uint64, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Nonce)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func equalNonces(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCreateThenExists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := testID(7)

	exists, err := f.client.ArticleExists(ctx, "Foo")
	if err != nil {
		t.Fatalf("ArticleExists: %v", err)
	}
	if exists {
		t.Fatal("Foo should not exist yet")
	}

	hash, err := f.client.CreateArticle(ctx, "Foo", id, nil)
	if err != nil {
		t.Fatalf("CreateArticle: %v", err)
	}
	rec, err := f.store.Get(ctx, hash.Hex())
	if err != nil {
		t.Fatalf("ledger Get: %v", err)
	}
	if rec.Description != "Adding article Foo" || rec.Status != models.StatusPending {
		t.Errorf("record = %+v", rec)
	}

	f.chain.MineAll()

	exists, err = f.client.ArticleExists(ctx, "Foo")
	if err != nil {
		t.Fatalf("ArticleExists: %v", err)
	}
	if !exists {
		t.Fatal("Foo should exist after mining")
	}
	got, err := f.client.ResolveContentID(ctx, "Foo")
	if err != nil {
		t.Fatalf("ResolveContentID: %v", err)
	}
	if got != id {
		t.Errorf("content id: got %x, want %x", got, id)
	}

	actions, err := f.client.RecentActions(ctx, 10)
	if err != nil {
		t.Fatalf("RecentActions: %v", err)
	}
	if len(actions) != 1 || actions[0].Status != models.StatusSuccess {
		t.Errorf("actions = %+v", actions)
	}
}

func TestNonceContiguity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.chain.IncludeExternal(f.client.Address())
	f.chain.IncludeExternal(f.client.Address())

	for i, title := range []string{"A", "B", "C"} {
		if _, err := f.client.CreateArticle(ctx, title, testID(byte(i+1)), nil); err != nil {
			t.Fatalf("CreateArticle(%s): %v", title, err)
		}
	}
	want := []uint64{2, 3, 4}
	if got := pendingNonces(t, f.store); !equalNonces(got, want) {
		t.Errorf("ledger nonces: got %v, want %v", got, want)
	}
	if got := f.chain.PendingNonces(); !equalNonces(got, want) {
		t.Errorf("chain nonces: got %v, want %v", got, want)
	}

	// Mine only the first; the next submission must still follow the last one.
	if err := f.chain.Mine(f.chain.Pending()[0]); err != nil {
		t.Fatal(err)
	}
	if _, err := f.client.CreateArticle(ctx, "D", testID(9), nil); err != nil {
		t.Fatalf("CreateArticle(D): %v", err)
	}
	want = []uint64{3, 4, 5}
	if got := pendingNonces(t, f.store); !equalNonces(got, want) {
		t.Errorf("after partial mining: got %v, want %v", got, want)
	}

	f.chain.MineAll()
	if _, err := f.client.UpdateArticle(ctx, "A", testID(10)); err != nil {
		t.Fatalf("UpdateArticle: %v", err)
	}
	want = []uint64{6}
	if got := pendingNonces(t, f.store); !equalNonces(got, want) {
		t.Errorf("after mining all: got %v, want %v", got, want)
	}
}

// countHookChain runs onRead before answering each TransactionCount call.
type countHookChain struct {
	*chaintest.Chain
	reads  int
	onRead func(read int)
}

func (c *countHookChain) TransactionCount(ctx context.Context, account common.Address) (uint64, error) {
	c.reads++
	if c.onRead != nil {
		c.onRead(c.reads)
	}
	return c.Chain.TransactionCount(ctx, account)
}

func newHookedClient(t *testing.T, ch *countHookChain) (*Client, ledger.Store) {
	t.Helper()
	store := testutil.TestLedger(t)
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	client, err := New(context.Background(), Params{
		RPC:        ch,
		Ledger:     store,
		Reconciler: reconciler.New(store, ch, testutil.Logger()),
		Key:        key,
		Registry:   chaintest.RegistryAddress,
		ChainID:    chaintest.ChainID,
		Logger:     testutil.Logger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client, store
}

func TestBlockDuringReconcileKeepsNoncesContiguous(t *testing.T) {
	ch := &countHookChain{Chain: chaintest.New()}
	// Reads 1-2 belong to the first create. Read 4 is the second create's
	// read after its reconcile pass: mine the first transaction right then.
	ch.onRead = func(read int) {
		if read == 4 {
			ch.MineAll()
		}
	}
	client, store := newHookedClient(t, ch)
	ctx := context.Background()

	for i, title := range []string{"A", "B", "C"} {
		if _, err := client.CreateArticle(ctx, title, testID(byte(i+1)), nil); err != nil {
			t.Fatalf("CreateArticle(%s): %v", title, err)
		}
	}

	want := []uint64{1, 2}
	if got := pendingNonces(t, store); !equalNonces(got, want) {
		t.Errorf("ledger nonces: got %v, want %v", got, want)
	}
	if got := ch.PendingNonces(); !equalNonces(got, want) {
		t.Errorf("chain nonces: got %v, want %v", got, want)
	}

	ch.MineAll()
	for _, title := range []string{"A", "B", "C"} {
		exists, err := client.ArticleExists(ctx, title)
		if err != nil {
			t.Fatalf("ArticleExists(%s): %v", title, err)
		}
		if !exists {
			t.Errorf("%s not created", title)
		}
	}
	actions, err := client.RecentActions(ctx, 10)
	if err != nil {
		t.Fatalf("RecentActions: %v", err)
	}
	for _, a := range actions {
		if a.Status != models.StatusSuccess {
			t.Errorf("action %q is %s", a.Description, a.Status)
		}
	}
}

func TestUnstableCountSendsNothing(t *testing.T) {
	ch := &countHookChain{Chain: chaintest.New()}
	client, store := newHookedClient(t, ch)
	ch.onRead = func(int) { ch.IncludeExternal(client.Address()) }

	_, err := client.CreateArticle(context.Background(), "A", testID(1), nil)
	if !errors.Is(err, errCountUnstable) {
		t.Fatalf("err = %v, want errCountUnstable", err)
	}
	if len(ch.Pending()) != 0 {
		t.Error("transaction broadcast despite unstable count")
	}
	if got := pendingNonces(t, store); len(got) != 0 {
		t.Errorf("ledger records: %v", got)
	}
}

func TestConcurrentSubmissionsGetDistinctNonces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 6
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.client.CreateArticle(ctx, fmt.Sprintf("article-%d", i), testID(byte(i)), nil)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("CreateArticle: %v", err)
		}
	}

	got := pendingNonces(t, f.store)
	if len(got) != n {
		t.Fatalf("expected %d records, got %v", n, got)
	}
	for i, v := range got {
		if v != uint64(i) {
			t.Fatalf("nonces not contiguous: %v", got)
		}
	}
}

func TestTitleTooLongMakesNoCalls(t *testing.T) {
	f := newFixture(t)
	before := f.chain.Calls()

	_, err := f.client.CreateArticle(context.Background(), strings.Repeat("a", 33), testID(1), nil)
	if !errors.Is(err, apperr.ErrTitleTooLong) {
		t.Fatalf("expected ErrTitleTooLong, got %v", err)
	}
	if after := f.chain.Calls(); after != before {
		t.Errorf("RPC calls made: %d", after-before)
	}
	if n, _ := f.store.CountPending(context.Background()); n != 0 {
		t.Errorf("ledger has %d records", n)
	}
}

func TestInvalidAuthorizedAddressMakesNoCalls(t *testing.T) {
	f := newFixture(t)
	before := f.chain.Calls()

	_, err := f.client.CreateArticle(context.Background(), "Foo", testID(1), []string{"0x1234"})
	if !errors.Is(err, apperr.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	if f.chain.Calls() != before {
		t.Error("RPC calls made before validation")
	}
}

func TestParseAuthorizedDeduplicates(t *testing.T) {
	a := "0x00000000000000000000000000000000000000aa"
	b := "0x00000000000000000000000000000000000000bb"
	got, err := parseAuthorized([]string{b, a, strings.ToUpper(a[2:]), b})
	if err != nil {
		t.Fatal(err)
	}
	want := []common.Address{common.HexToAddress(a), common.HexToAddress(b)}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSendFailureLeavesNoRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.chain.SendErr = errors.New("connection reset")

	_, err := f.client.CreateArticle(ctx, "Foo", testID(1), nil)
	if !errors.Is(err, apperr.ErrRemoteCall) {
		t.Fatalf("expected ErrRemoteCall, got %v", err)
	}
	actions, err := f.store.ListRecent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 0 {
		t.Errorf("ledger should be empty, got %+v", actions)
	}

	// Once the node is reachable again the same nonce is reused.
	f.chain.SendErr = nil
	if _, err := f.client.CreateArticle(ctx, "Foo", testID(1), nil); err != nil {
		t.Fatalf("CreateArticle: %v", err)
	}
	if got := pendingNonces(t, f.store); !equalNonces(got, []uint64{0}) {
		t.Errorf("nonces = %v", got)
	}
}

func TestCreateExistingArticle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.client.CreateArticle(ctx, "Foo", testID(1), nil); err != nil {
		t.Fatal(err)
	}
	f.chain.MineAll()

	_, err := f.client.CreateArticle(ctx, "Foo", testID(2), nil)
	if !errors.Is(err, apperr.ErrArticleAlreadyExists) {
		t.Fatalf("expected ErrArticleAlreadyExists, got %v", err)
	}
	if n, _ := f.store.CountPending(ctx); n != 0 {
		t.Errorf("pending = %d", n)
	}
}

func TestUpdateMissingArticle(t *testing.T) {
	f := newFixture(t)
	_, err := f.client.UpdateArticle(context.Background(), "Nope", testID(1))
	if !errors.Is(err, apperr.ErrArticleNotFound) {
		t.Fatalf("expected ErrArticleNotFound, got %v", err)
	}
	if _, err := f.client.ResolveContentID(context.Background(), "Nope"); !errors.Is(err, apperr.ErrArticleNotFound) {
		t.Fatalf("ResolveContentID: expected ErrArticleNotFound, got %v", err)
	}
}

func TestRevertedCreateIsMarkedFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Both pass the existence check because neither is mined yet.
	if _, err := f.client.CreateArticle(ctx, "Foo", testID(1), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := f.client.CreateArticle(ctx, "Foo", testID(2), nil); err != nil {
		t.Fatal(err)
	}
	f.chain.MineAll()

	actions, err := f.client.RecentActions(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 2 {
		t.Fatalf("actions = %+v", actions)
	}
	if actions[0].Status != models.StatusFailed || actions[1].Status != models.StatusSuccess {
		t.Errorf("statuses = %s, %s", actions[0].Status, actions[1].Status)
	}
}

func TestHistoryAndVersions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.client.CreateArticle(ctx, "Foo", testID(1), nil); err != nil {
		t.Fatal(err)
	}
	f.chain.MineAll()
	for _, b := range []byte{2, 3} {
		if _, err := f.client.UpdateArticle(ctx, "Foo", testID(b)); err != nil {
			t.Fatalf("UpdateArticle: %v", err)
		}
	}
	f.chain.MineAll()

	history, err := f.client.GetHistory(ctx, "Foo")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history has %d entries", len(history))
	}
	for i, v := range history {
		if v.ContentID != testID(byte(i+1)).Native() {
			t.Errorf("version %d content id %s", i, v.ContentID)
		}
		if v.Author != f.client.Address() {
			t.Errorf("version %d author %s", i, v.Author.Hex())
		}
		if i > 0 && !v.Timestamp.After(history[i-1].Timestamp) {
			t.Errorf("version %d timestamp not increasing", i)
		}
	}

	v, err := f.client.GetVersion(ctx, "Foo", 1)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if v.ContentID != history[1].ContentID {
		t.Errorf("GetVersion(1) = %s", v.ContentID)
	}
	for _, idx := range []int{-1, 3} {
		if _, err := f.client.GetVersion(ctx, "Foo", idx); !errors.Is(err, apperr.ErrIndexOutOfRange) {
			t.Errorf("GetVersion(%d): expected ErrIndexOutOfRange, got %v", idx, err)
		}
	}

	latest, err := f.client.ResolveContentID(ctx, "Foo")
	if err != nil {
		t.Fatal(err)
	}
	if latest != testID(3) {
		t.Errorf("latest = %x", latest)
	}
}

func TestListTitlesIsIncremental(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, title := range []string{"Foo", "Bär"} {
		if _, err := f.client.CreateArticle(ctx, title, testID(byte(i)), nil); err != nil {
			t.Fatal(err)
		}
	}
	f.chain.MineAll()

	titles, err := f.client.ListTitles(ctx)
	if err != nil {
		t.Fatalf("ListTitles: %v", err)
	}
	if len(titles) != 2 || titles[0] != "Foo" || titles[1] != "Bär" {
		t.Fatalf("titles = %q", titles)
	}

	if _, err := f.client.CreateArticle(ctx, strings.Repeat("z", TitleSize), testID(9), nil); err != nil {
		t.Fatal(err)
	}
	f.chain.MineAll()

	before := f.chain.Calls()
	titles, err = f.client.ListTitles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(titles) != 3 || titles[2] != strings.Repeat("z", TitleSize) {
		t.Fatalf("titles = %q", titles)
	}
	// One count read plus one read for the single new index.
	if calls := f.chain.Calls() - before; calls != 2 {
		t.Errorf("ListTitles made %d calls, want 2", calls)
	}
}

func TestEstimateTransactionCostHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cost, err := f.client.EstimateTransactionCost(ctx)
	if err != nil {
		t.Fatalf("EstimateTransactionCost: %v", err)
	}
	want := new(big.Int).Mul(new(big.Int).SetUint64(chaintest.EstimatedGas), chaintest.GasPrice)
	if cost.Cmp(want) != 0 {
		t.Errorf("cost = %s, want %s", cost, want)
	}
	if len(f.chain.Pending()) != 0 {
		t.Error("estimate broadcast a transaction")
	}
	if actions, _ := f.store.ListRecent(ctx, 10); len(actions) != 0 {
		t.Error("estimate wrote to the ledger")
	}
}

type failingAppend struct {
	ledger.Store
}

func (failingAppend) Append(context.Context, string, string, uint64) error {
	return fmt.Errorf("ledger: append: %w", apperr.ErrLedgerUnavailable)
}

func TestUnrecordedBroadcastReturnsHash(t *testing.T) {
	ch := chaintest.New()
	store := failingAppend{Store: testutil.TestLedger(t)}
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	client, err := New(context.Background(), Params{
		RPC:        ch,
		Ledger:     store,
		Reconciler: reconciler.New(store, ch, testutil.Logger()),
		Key:        key,
		Registry:   chaintest.RegistryAddress,
		ChainID:    chaintest.ChainID,
		Logger:     testutil.Logger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	hash, err := client.CreateArticle(context.Background(), "Foo", testID(1), nil)
	if !errors.Is(err, apperr.ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
	pending := ch.Pending()
	if len(pending) != 1 || pending[0] != hash {
		t.Errorf("returned hash %s, chain pool %v", hash.Hex(), pending)
	}
}
