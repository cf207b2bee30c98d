package storage

import (
	"context"
	"fmt"
	"testing"
)

func TestBatchFetcher_FetchAll(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()

	var paths []string
	for i := 0; i < 20; i++ {
		path := fmt.Sprintf("extractions/r-1/part-%03d.jsonl", i)
		if err := store.Put(ctx, path, []byte(fmt.Sprintf("part %d", i))); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		paths = append(paths, path)
	}

	fetcher := NewBatchFetcher(store, 4)
	result, err := fetcher.Fetch(ctx, paths)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected per-object errors: %v", result.Errors)
	}
	if len(result.Contents) != len(paths) {
		t.Fatalf("fetched %d objects, want %d", len(result.Contents), len(paths))
	}
	for i, path := range paths {
		if string(result.Contents[path]) != fmt.Sprintf("part %d", i) {
			t.Errorf("content for %s = %q", path, result.Contents[path])
		}
	}
}

func TestBatchFetcher_CollectsPerObjectErrors(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "present.jsonl", []byte("data")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	fetcher := NewBatchFetcher(store, 2)
	result, err := fetcher.Fetch(ctx, []string{"present.jsonl", "missing.jsonl"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(result.Contents) != 1 {
		t.Errorf("contents = %v, want only the present object", result.Contents)
	}
	if _, ok := result.Errors["missing.jsonl"]; !ok {
		t.Errorf("errors = %v, want an entry for the missing object", result.Errors)
	}
}

func TestBatchFetcher_Empty(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	fetcher := NewBatchFetcher(store, 2)
	result, err := fetcher.Fetch(context.Background(), nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(result.Contents) != 0 || len(result.Errors) != 0 {
		t.Errorf("result = %+v, want empty", result)
	}
}
