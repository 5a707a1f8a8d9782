package services

import (
	"context"
	"errors"
	"testing"

	"mls_ingest/odata"
)

type fakeMedia struct {
	bySize map[string]map[string][]odata.MediaItem
	errs   map[string]error
	calls  []string
	limits []int
}

func (f *fakeMedia) FetchMedia(ctx context.Context, keys []string, size string, limit int) (map[string][]odata.MediaItem, error) {
	f.calls = append(f.calls, size)
	f.limits = append(f.limits, limit)
	if err := f.errs[size]; err != nil {
		return nil, err
	}
	out := make(map[string][]odata.MediaItem)
	for k, v := range f.bySize[size] {
		out[k] = v
	}
	return out, nil
}

func TestFetchImages_FirstNonEmptyDescriptorWins(t *testing.T) {
	src := &fakeMedia{bySize: map[string]map[string][]odata.MediaItem{
		"Large": {"A": {{MediaURL: ""}}},
		"Medium": {
			"A": {{MediaURL: "https://cdn/a-m-1.jpg", Order: 1}, {MediaURL: " ", Order: 2}, {MediaURL: "https://cdn/a-m-3.jpg", Order: 3}},
		},
		"Largest": {
			"A": {{MediaURL: "https://cdn/a-xl.jpg"}},
			"B": {{MediaURL: "https://cdn/b-xl.jpg"}},
		},
	}}
	h := NewImageHarvester(src, nil, 0)

	got, err := h.FetchImages(context.Background(), []string{"A", "B"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(src.calls) != 2 || src.calls[1] != "Medium" {
		t.Fatalf("expected Large then Medium, got %v", src.calls)
	}
	if len(got) != 1 || len(got["A"]) != 2 || got["A"][0] != "https://cdn/a-m-1.jpg" {
		t.Fatalf("expected only Medium URLs for A, got %v", got)
	}
	if _, ok := got["B"]; ok {
		t.Fatalf("expected no mixing of descriptors, got B=%v", got["B"])
	}
	if src.limits[0] != 2*DefaultImagesPerListing {
		t.Fatalf("expected limit %d, got %d", 2*DefaultImagesPerListing, src.limits[0])
	}
}

func TestFetchImages_CapsPerListing(t *testing.T) {
	items := make([]odata.MediaItem, 5)
	for i := range items {
		items[i] = odata.MediaItem{MediaURL: "https://cdn/x.jpg", Order: i}
	}
	src := &fakeMedia{bySize: map[string]map[string][]odata.MediaItem{"Large": {"A": items}}}
	h := NewImageHarvester(src, []string{"Large"}, 3)

	got, _ := h.FetchImages(context.Background(), []string{"A"})
	if len(got["A"]) != 3 {
		t.Fatalf("expected 3 URLs, got %d", len(got["A"]))
	}
}

func TestFetchImages_NothingFound(t *testing.T) {
	src := &fakeMedia{
		bySize: map[string]map[string][]odata.MediaItem{},
		errs:   map[string]error{"Large": errors.New("boom")},
	}
	h := NewImageHarvester(src, nil, 0)

	got, err := h.FetchImages(context.Background(), []string{"A"})
	if err != nil {
		t.Fatalf("expected partial failure to be tolerated, got %v", err)
	}
	if len(got) != 0 || len(src.calls) != len(DefaultImageSizes) {
		t.Fatalf("expected empty map after all descriptors, got %v (%v)", got, src.calls)
	}
}

func TestFetchImages_AllDescriptorsFail(t *testing.T) {
	boom := errors.New("boom")
	src := &fakeMedia{errs: map[string]error{"Large": boom, "Medium": boom}}
	h := NewImageHarvester(src, []string{"Large", "Medium"}, 0)

	if _, err := h.FetchImages(context.Background(), []string{"A"}); !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
}

func TestFetchImages_NoKeys(t *testing.T) {
	src := &fakeMedia{}
	got, err := NewImageHarvester(src, nil, 0).FetchImages(context.Background(), nil)
	if err != nil || len(got) != 0 || len(src.calls) != 0 {
		t.Fatalf("expected empty result with no calls, got %v %v %v", got, err, src.calls)
	}
}
