package contextload

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/brandloom/council/pkg/errors"
	"github.com/brandloom/council/pkg/retry"
	"github.com/brandloom/council/pkg/store"
	"github.com/brandloom/council/pkg/timeout"
	"github.com/brandloom/council/pkg/types"
)

func newLoader(st store.Store, ttl time.Duration) *Loader {
	cfg := retry.Config{
		MaxAttempts: 3,
		Strategy:    &retry.LinearBackoff{Delay: time.Millisecond, MaxAttempts: 3},
	}
	return NewLoader(st, timeout.NewManager(5*time.Second), ttl, cfg)
}

func seedSlice(t *testing.T, st store.Store, clientID, collection, name string) {
	t.Helper()
	path := "clients/" + clientID + "/" + collection + "/" + name
	if err := st.SetDoc(context.Background(), path, map[string]interface{}{"value": name}); err != nil {
		t.Fatalf("failed to seed slice %s: %v", path, err)
	}
}

func TestLoadTierOne(t *testing.T) {
	st := store.NewMemoryStore()
	seedSlice(t, st, "acme", "identity", "voice_contract")
	loader := newLoader(st, time.Hour)

	bundle, err := loader.Load(context.Background(), "acme", "blog_post", []types.SliceSpec{
		{Name: "voice_contract", Tier: 1, Required: true},
	})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if len(bundle.Slices) != 1 {
		t.Fatalf("bundle has %d slices, want 1", len(bundle.Slices))
	}
	if bundle.Slices[0].Tier != 1 {
		t.Errorf("slice tier = %d, want 1", bundle.Slices[0].Tier)
	}
	if bundle.MaxTier() != 1 {
		t.Errorf("bundle max tier = %d, want 1", bundle.MaxTier())
	}
}

// A tier-2 slice absent from tier 1 is found by escalating, and the
// cheaper tier wins when both have it.
func TestTierEscalation(t *testing.T) {
	st := store.NewMemoryStore()
	seedSlice(t, st, "acme", "profile", "personas")
	seedSlice(t, st, "acme", "identity", "voice_contract")
	seedSlice(t, st, "acme", "profile", "voice_contract")
	loader := newLoader(st, time.Hour)

	bundle, err := loader.Load(context.Background(), "acme", "blog_post", []types.SliceSpec{
		{Name: "voice_contract", Tier: 2, Required: true},
		{Name: "personas", Tier: 2, Required: true},
	})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	vc, ok := bundle.Slice("voice_contract")
	if !ok || vc.Tier != 1 {
		t.Errorf("voice_contract loaded at tier %d, want cheaper tier 1", vc.Tier)
	}
	personas, ok := bundle.Slice("personas")
	if !ok || personas.Tier != 2 {
		t.Errorf("personas loaded at tier %d, want 2", personas.Tier)
	}
}

func TestTierThreeCorpus(t *testing.T) {
	st := store.NewMemoryStore()
	seedSlice(t, st, "acme", "corpus", "signal_history")
	loader := newLoader(st, time.Hour)

	bundle, err := loader.Load(context.Background(), "acme", "research", []types.SliceSpec{
		{Name: "signal_history", Tier: 3, Required: true},
	})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if bundle.MaxTier() != 3 {
		t.Errorf("max tier = %d, want 3", bundle.MaxTier())
	}
}

// A required slice absent at every eligible tier fails the whole load,
// naming the slice; partial bundles are never returned.
func TestMissingRequiredSlice(t *testing.T) {
	st := store.NewMemoryStore()
	seedSlice(t, st, "acme", "identity", "voice_contract")
	loader := newLoader(st, time.Hour)

	bundle, err := loader.Load(context.Background(), "acme", "blog_post", []types.SliceSpec{
		{Name: "voice_contract", Tier: 1, Required: true},
		{Name: "company_profile", Tier: 2, Required: true},
	})
	if bundle != nil {
		t.Error("Load returned a partial bundle alongside an error")
	}
	if !errors.IsCode(err, errors.ErrMissingRequiredContext) {
		t.Fatalf("error code = %s, want %s", errors.CodeOf(err), errors.ErrMissingRequiredContext)
	}

	var engErr *errors.EngineError
	if !asEngineError(err, &engErr) {
		t.Fatal("error is not an EngineError")
	}
	if engErr.Context["slice"] != "company_profile" {
		t.Errorf("error names slice %v, want company_profile", engErr.Context["slice"])
	}
}

func TestOptionalSliceSkipped(t *testing.T) {
	st := store.NewMemoryStore()
	seedSlice(t, st, "acme", "identity", "voice_contract")
	loader := newLoader(st, time.Hour)

	bundle, err := loader.Load(context.Background(), "acme", "blog_post", []types.SliceSpec{
		{Name: "voice_contract", Tier: 1, Required: true},
		{Name: "prior_briefs", Tier: 2, Required: false},
	})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(bundle.Slices) != 1 {
		t.Errorf("bundle has %d slices, want 1 with the optional slice skipped", len(bundle.Slices))
	}
}

// A cached slice is served without touching the store until the TTL
// lapses.
func TestReadThroughCache(t *testing.T) {
	st := store.NewMemoryStore()
	seedSlice(t, st, "acme", "identity", "voice_contract")
	loader := newLoader(st, time.Hour)
	ctx := context.Background()

	spec := []types.SliceSpec{{Name: "voice_contract", Tier: 1, Required: true}}
	if _, err := loader.Load(ctx, "acme", "blog_post", spec); err != nil {
		t.Fatalf("first Load returned error: %v", err)
	}

	// Remove the backing data entirely; the cache must still serve it
	loader.store = store.NewMemoryStore()

	bundle, err := loader.Load(ctx, "acme", "blog_post", spec)
	if err != nil {
		t.Fatalf("cached Load returned error: %v", err)
	}
	if _, ok := bundle.Slice("voice_contract"); !ok {
		t.Error("cached slice was not served")
	}
}

func TestCacheExpiry(t *testing.T) {
	st := store.NewMemoryStore()
	seedSlice(t, st, "acme", "identity", "voice_contract")
	loader := newLoader(st, 10*time.Millisecond)
	ctx := context.Background()

	spec := []types.SliceSpec{{Name: "voice_contract", Tier: 1, Required: true}}
	if _, err := loader.Load(ctx, "acme", "blog_post", spec); err != nil {
		t.Fatalf("first Load returned error: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	loader.store = store.NewMemoryStore() // backing data gone, cache stale

	if _, err := loader.Load(ctx, "acme", "blog_post", spec); !errors.IsCode(err, errors.ErrMissingRequiredContext) {
		t.Errorf("stale cache should force a refetch that misses, got %v", err)
	}
}

func TestInvalidate(t *testing.T) {
	st := store.NewMemoryStore()
	seedSlice(t, st, "acme", "identity", "voice_contract")
	loader := newLoader(st, time.Hour)
	ctx := context.Background()

	spec := []types.SliceSpec{{Name: "voice_contract", Tier: 1, Required: true}}
	if _, err := loader.Load(ctx, "acme", "blog_post", spec); err != nil {
		t.Fatal(err)
	}

	loader.Invalidate("acme")
	loader.store = store.NewMemoryStore()

	if _, err := loader.Load(ctx, "acme", "blog_post", spec); !errors.IsCode(err, errors.ErrMissingRequiredContext) {
		t.Errorf("invalidated cache still served the slice, got %v", err)
	}
}

// flakyStore fails the first remaining GetDoc calls before recovering,
// like a store hiccup mid-load.
type flakyStore struct {
	store.Store

	mu        sync.Mutex
	remaining int
	calls     int
}

func (f *flakyStore) GetDoc(ctx context.Context, path string, dest interface{}) error {
	f.mu.Lock()
	f.calls++
	fail := f.remaining > 0
	if fail {
		f.remaining--
	}
	f.mu.Unlock()

	if fail {
		return stderrors.New("connection reset by peer")
	}
	return f.Store.GetDoc(ctx, path, dest)
}

// A transient store failure during a fetch retries instead of failing
// the whole load.
func TestFetchRetriesTransientStoreFailure(t *testing.T) {
	st := store.NewMemoryStore()
	seedSlice(t, st, "acme", "identity", "voice_contract")
	flaky := &flakyStore{Store: st, remaining: 1}
	loader := newLoader(flaky, time.Hour)

	bundle, err := loader.Load(context.Background(), "acme", "blog_post", []types.SliceSpec{
		{Name: "voice_contract", Tier: 1, Required: true},
	})
	if err != nil {
		t.Fatalf("Load returned error despite the store recovering: %v", err)
	}
	if _, ok := bundle.Slice("voice_contract"); !ok {
		t.Error("recovered fetch did not produce the slice")
	}
	if flaky.calls != 2 {
		t.Errorf("store called %d times, want 2", flaky.calls)
	}
}

// A store that never recovers exhausts the retry budget and fails the
// load with the transient code intact.
func TestFetchExhaustsRetryBudget(t *testing.T) {
	st := store.NewMemoryStore()
	seedSlice(t, st, "acme", "identity", "voice_contract")
	flaky := &flakyStore{Store: st, remaining: 100}
	loader := newLoader(flaky, time.Hour)

	_, err := loader.Load(context.Background(), "acme", "blog_post", []types.SliceSpec{
		{Name: "voice_contract", Tier: 1, Required: true},
	})
	if !errors.IsCode(err, errors.ErrStoreUnavailable) {
		t.Fatalf("error code = %s, want %s", errors.CodeOf(err), errors.ErrStoreUnavailable)
	}
	if flaky.calls != 3 {
		t.Errorf("store called %d times, want the full retry budget of 3", flaky.calls)
	}
}

func TestInvalidTierRejected(t *testing.T) {
	loader := newLoader(store.NewMemoryStore(), time.Hour)
	_, err := loader.Load(context.Background(), "acme", "blog_post", []types.SliceSpec{
		{Name: "voice_contract", Tier: 4, Required: true},
	})
	if !errors.IsCode(err, errors.ErrInvalidInput) {
		t.Errorf("tier 4 accepted, got %v", err)
	}
}

func asEngineError(err error, target **errors.EngineError) bool {
	e, ok := err.(*errors.EngineError)
	if ok {
		*target = e
	}
	return ok
}
