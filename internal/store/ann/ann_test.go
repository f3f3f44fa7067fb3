package ann

import "testing"

func TestUpsertRejectsMismatchedDimension(t *testing.T) {
	idx := New(DefaultTuningConfig())
	if err := idx.Upsert("a", []float32{1, 0, 0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := idx.Upsert("b", []float32{1, 0}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestSearchFindsClosestVector(t *testing.T) {
	idx := New(DefaultTuningConfig())
	vectors := map[string][]float32{
		"close":    {1, 0, 0},
		"mid":      {0.7, 0.7, 0},
		"far":      {0, 1, 0},
		"farthest": {-1, 0, 0},
	}
	for _, id := range []string{"close", "mid", "far", "farthest"} {
		if err := idx.Upsert(id, vectors[id]); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	results := idx.Search([]float32{1, 0, 0}, 1, 16, nil)
	if len(results) == 0 || results[0].ID != "close" {
		t.Fatalf("expected closest match 'close', got %+v", results)
	}
}

func TestSearchRespectsAllowedFilter(t *testing.T) {
	idx := New(DefaultTuningConfig())
	for id, v := range map[string][]float32{
		"a": {1, 0},
		"b": {0.9, 0.1},
		"c": {0, 1},
	} {
		if err := idx.Upsert(id, v); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	allowed := map[string]struct{}{"c": {}}
	results := idx.Search([]float32{1, 0}, 2, 16, allowed)
	for _, r := range results {
		if r.ID != "c" {
			t.Fatalf("expected only allowed id 'c', got %s", r.ID)
		}
	}
}
