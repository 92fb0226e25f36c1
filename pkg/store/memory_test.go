package store

import (
	"context"
	"sync"
	"testing"
)

func TestSetGetRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	in := map[string]interface{}{"name": "acme", "limit": 1000}
	if err := s.SetDoc(ctx, "clients/acme", in); err != nil {
		t.Fatalf("SetDoc returned error: %v", err)
	}

	var out map[string]interface{}
	if err := s.GetDoc(ctx, "clients/acme", &out); err != nil {
		t.Fatalf("GetDoc returned error: %v", err)
	}
	if out["name"] != "acme" {
		t.Errorf("name = %v, want acme", out["name"])
	}
}

func TestGetMissingDoc(t *testing.T) {
	s := NewMemoryStore()

	var out map[string]interface{}
	err := s.GetDoc(context.Background(), "clients/ghost", &out)
	if !IsNotFound(err) {
		t.Errorf("missing doc returned %v, want ErrNotFound", err)
	}
}

func TestOverwriteReplacesWholeDoc(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.SetDoc(ctx, "d", map[string]interface{}{"a": 1, "b": 2}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetDoc(ctx, "d", map[string]interface{}{"a": 3}); err != nil {
		t.Fatal(err)
	}

	var out map[string]interface{}
	if err := s.GetDoc(ctx, "d", &out); err != nil {
		t.Fatal(err)
	}
	if _, leaked := out["b"]; leaked {
		t.Error("overwrite merged instead of replacing")
	}
}

func TestQueryCollectionDirectChildrenOnly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	seed := map[string]map[string]interface{}{
		"tasks/t1":           {"status": "running"},
		"tasks/t2":           {"status": "delivered"},
		"tasks/t3":           {"status": "running"},
		"tasks/t1/notes/n1":  {"status": "running"}, // nested, excluded
		"clients/acme/t4":    {"status": "running"}, // other collection
	}
	for path, doc := range seed {
		if err := s.SetDoc(ctx, path, doc); err != nil {
			t.Fatal(err)
		}
	}

	docs, err := s.QueryCollection(ctx, "tasks", []Filter{{Field: "status", Value: "running"}})
	if err != nil {
		t.Fatalf("QueryCollection returned error: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("matched %d docs, want 2", len(docs))
	}
}

func TestQueryFilterNormalizesNumbers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.SetDoc(ctx, "budgets/b1", map[string]interface{}{"spent": int64(20)}); err != nil {
		t.Fatal(err)
	}

	// Stored through JSON the int becomes a float; the filter must still
	// match an int-typed value.
	docs, err := s.QueryCollection(ctx, "budgets", []Filter{{Field: "spent", Value: 20}})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Errorf("matched %d docs, want 1", len(docs))
	}
}

func TestConcurrentWritesAreAtomic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			doc := map[string]interface{}{"writer": n, "check": n}
			if err := s.SetDoc(ctx, "contended", doc); err != nil {
				t.Errorf("SetDoc failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	var out map[string]interface{}
	if err := s.GetDoc(ctx, "contended", &out); err != nil {
		t.Fatal(err)
	}
	// Whole-document swap: whichever writer won, both fields agree
	if out["writer"] != out["check"] {
		t.Errorf("torn write observed: writer=%v check=%v", out["writer"], out["check"])
	}
}
