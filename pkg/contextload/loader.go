// Package contextload assembles the minimal sufficient context for a task
// using three-tier progressive loading over the document store.
package contextload

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/brandloom/council/pkg/errors"
	"github.com/brandloom/council/pkg/retry"
	"github.com/brandloom/council/pkg/store"
	"github.com/brandloom/council/pkg/timeout"
	"github.com/brandloom/council/pkg/types"
)

// Tier path families, cheapest first. Tier 1 holds identity and config
// slices, tier 2 standard business context, tier 3 the full historical
// corpus.
var tierCollections = map[int]string{
	1: "identity",
	2: "profile",
	3: "corpus",
}

// Loader performs read-through-cached slice loading. The cache is
// read-mostly; a duplicate fetch on a miss race is tolerated and resolves
// last-writer-wins.
type Loader struct {
	store    store.Store
	timeouts *timeout.Manager
	cacheTTL time.Duration
	retryCfg retry.Config

	mu    sync.RWMutex
	cache map[string]types.ContextSlice
}

// NewLoader creates a Loader over st with the given cache freshness
// window. Transient store failures during a fetch retry under retryCfg;
// a zero config falls back to the default budget.
func NewLoader(st store.Store, timeouts *timeout.Manager, cacheTTL time.Duration, retryCfg retry.Config) *Loader {
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.DefaultConfig()
	}
	return &Loader{
		store:    st,
		timeouts: timeouts,
		cacheTTL: cacheTTL,
		retryCfg: retryCfg,
		cache:    make(map[string]types.ContextSlice),
	}
}

// Load assembles the bundle the skill declared it needs. Slices load in
// declaration order, each at the cheapest tier that can produce it, never
// escalating past the tier the spec names. A required slice absent at
// every eligible tier fails the whole load; partial bundles are never
// returned.
func (l *Loader) Load(ctx context.Context, clientID, skillName string, requiredSlices []types.SliceSpec) (*types.ContextBundle, error) {
	bundle := &types.ContextBundle{
		ClientID:  clientID,
		SkillName: skillName,
		Slices:    make([]types.ContextSlice, 0, len(requiredSlices)),
	}

	for _, spec := range requiredSlices {
		if spec.Tier < 1 || spec.Tier > 3 {
			return nil, errors.Newf(errors.ErrInvalidInput,
				"slice %s declares invalid tier %d", spec.Name, spec.Tier)
		}

		slice, found, err := l.loadSlice(ctx, clientID, spec)
		if err != nil {
			return nil, err
		}
		if !found {
			if spec.Required {
				return nil, errors.Newf(errors.ErrMissingRequiredContext,
					"required context slice %q unavailable for client %s at tiers 1..%d",
					spec.Name, clientID, spec.Tier).
					WithContext("slice", spec.Name).
					WithContext("clientId", clientID)
			}
			log.Printf("Optional context slice %s absent for client %s, continuing", spec.Name, clientID)
			continue
		}

		bundle.Slices = append(bundle.Slices, slice)
	}

	return bundle, nil
}

// loadSlice tries each tier from 1 up to the declared one, returning the
// first hit.
func (l *Loader) loadSlice(ctx context.Context, clientID string, spec types.SliceSpec) (types.ContextSlice, bool, error) {
	for tier := 1; tier <= spec.Tier; tier++ {
		if cached, ok := l.fromCache(clientID, spec.Name, tier); ok {
			return cached, true, nil
		}

		slice, found, err := l.fetch(ctx, clientID, spec.Name, tier)
		if err != nil {
			return types.ContextSlice{}, false, err
		}
		if found {
			l.refresh(clientID, slice)
			return slice, true, nil
		}
	}

	return types.ContextSlice{}, false, nil
}

// fetch reads a slice document from the store at one tier. Each attempt
// runs under the fetch timeout; timeouts and store unavailability are
// transient and retry under the loader's retry budget, while a missing
// document returns immediately as a miss.
func (l *Loader) fetch(ctx context.Context, clientID, name string, tier int) (types.ContextSlice, bool, error) {
	type fetched struct {
		payload map[string]interface{}
		found   bool
	}

	res, err := retry.Execute(ctx, func() (fetched, error) {
		fetchCtx, cancel := l.timeouts.WithTimeout(ctx, "context-fetch")
		defer cancel()

		var payload map[string]interface{}
		err := l.store.GetDoc(fetchCtx, slicePath(clientID, name, tier), &payload)
		if err != nil {
			if store.IsNotFound(err) {
				return fetched{}, nil
			}
			if fetchCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				return fetched{}, errors.Wrap(err, errors.ErrTimeout).
					WithContext("slice", name)
			}
			return fetched{}, errors.Wrap(err, errors.ErrStoreUnavailable).
				WithContext("slice", name)
		}
		return fetched{payload: payload, found: true}, nil
	}, l.retryCfg)
	if err != nil {
		return types.ContextSlice{}, false, err
	}
	if !res.found {
		return types.ContextSlice{}, false, nil
	}

	return types.ContextSlice{
		Name:      name,
		Tier:      tier,
		Payload:   res.payload,
		FetchedAt: time.Now(),
	}, true, nil
}

func (l *Loader) fromCache(clientID, name string, tier int) (types.ContextSlice, bool) {
	l.mu.RLock()
	slice, ok := l.cache[cacheKey(clientID, name, tier)]
	l.mu.RUnlock()

	if !ok || time.Since(slice.FetchedAt) > l.cacheTTL {
		return types.ContextSlice{}, false
	}
	return slice, true
}

// refresh swaps the whole slice value in under the lock, so a concurrent
// reader sees either the old slice or the new one, never a mix.
func (l *Loader) refresh(clientID string, slice types.ContextSlice) {
	l.mu.Lock()
	l.cache[cacheKey(clientID, slice.Name, slice.Tier)] = slice
	l.mu.Unlock()
}

// Invalidate drops every cached slice for the client.
func (l *Loader) Invalidate(clientID string) {
	prefix := clientID + "|"
	l.mu.Lock()
	for key := range l.cache {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(l.cache, key)
		}
	}
	l.mu.Unlock()
}

func cacheKey(clientID, name string, tier int) string {
	return fmt.Sprintf("%s|%s|%d", clientID, name, tier)
}

func slicePath(clientID, name string, tier int) string {
	return fmt.Sprintf("clients/%s/%s/%s", clientID, tierCollections[tier], name)
}
