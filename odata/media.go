package odata

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// MediaItem is the subset of a media record the harvester needs.
type MediaItem struct {
	MediaKey             string `json:"MediaKey"`
	ResourceRecordKey    string `json:"ResourceRecordKey"`
	MediaURL             string `json:"MediaURL"`
	Order                int    `json:"Order"`
	ImageSizeDescription string `json:"ImageSizeDescription"`
}

// FetchMedia returns media rows of one size descriptor for the given listing keys,
// grouped by listing key and ordered by Order within each group.
func (c *Client) FetchMedia(ctx context.Context, keys []string, sizeDescriptor string, limit int) (map[string][]MediaItem, error) {
	grouped := make(map[string][]MediaItem)
	if len(keys) == 0 {
		return grouped, nil
	}

	q := NewQuery().
		AddCustomFilter(In("ResourceRecordKey", keys)).
		AddFilter("ImageSizeDescription", sizeDescriptor, OpEq).
		SetOrderBy("Order", false)
	if limit > 0 {
		q.SetTop(limit)
	}

	page, err := c.fetchCollection(ctx, c.opts.MediaResource, q)
	if err != nil {
		return nil, err
	}

	for _, raw := range page.Items {
		var item MediaItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("%w: media item: %v", ErrMalformedResponse, err)
		}
		if item.ResourceRecordKey == "" {
			continue
		}
		grouped[item.ResourceRecordKey] = append(grouped[item.ResourceRecordKey], item)
	}

	for key := range grouped {
		items := grouped[key]
		sort.SliceStable(items, func(i, j int) bool { return items[i].Order < items[j].Order })
	}
	return grouped, nil
}
