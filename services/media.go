package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"mls_ingest/odata"
)

// DefaultImageSizes is the descriptor preference order.
var DefaultImageSizes = []string{"Large", "Medium", "Largest", "Original"}

const DefaultImagesPerListing = 40

// MediaSource fetches media rows for one size descriptor. odata.Client implements it.
type MediaSource interface {
	FetchMedia(ctx context.Context, keys []string, sizeDescriptor string, limit int) (map[string][]odata.MediaItem, error)
}

// ImageHarvester resolves listing keys to ordered image URLs.
type ImageHarvester struct {
	source     MediaSource
	sizes      []string
	perListing int
}

func NewImageHarvester(source MediaSource, sizes []string, perListing int) *ImageHarvester {
	if len(sizes) == 0 {
		sizes = DefaultImageSizes
	}
	if perListing <= 0 {
		perListing = DefaultImagesPerListing
	}
	return &ImageHarvester{source: source, sizes: sizes, perListing: perListing}
}

// FetchImages tries each size descriptor in order and returns the first one
// that yields any URL for the batch. Descriptors are never mixed within one call.
// An error is returned only when every descriptor failed.
func (h *ImageHarvester) FetchImages(ctx context.Context, keys []string) (map[string][]string, error) {
	out := make(map[string][]string)
	if len(keys) == 0 {
		return out, nil
	}

	var errs []error
	for _, size := range h.sizes {
		grouped, err := h.source.FetchMedia(ctx, keys, size, len(keys)*h.perListing)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("Images: descriptor failed", "size", size, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", size, err))
			continue
		}

		for key, items := range grouped {
			var urls []string
			for _, item := range items {
				u := strings.TrimSpace(item.MediaURL)
				if u == "" {
					continue
				}
				urls = append(urls, u)
				if len(urls) == h.perListing {
					break
				}
			}
			if len(urls) > 0 {
				out[key] = urls
			}
		}
		if len(out) > 0 {
			return out, nil
		}
	}

	if len(errs) == len(h.sizes) {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
