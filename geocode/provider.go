package geocode

import (
	"context"
	"errors"
)

var (
	// ErrNoResults is a definitive empty answer from a provider.
	ErrNoResults = errors.New("geocode: no results")
	// ErrRateLimited means the call was refused, locally or by the provider, without an answer.
	ErrRateLimited = errors.New("geocode: rate limited")
)

// Result is a resolved coordinate pair.
type Result struct {
	Lat              float64 `json:"lat"`
	Lng              float64 `json:"lng"`
	Source           string  `json:"source"`
	FormattedAddress string  `json:"formatted_address"`
}

type Provider interface {
	Name() string
	// Configured is false when the provider lacks the credential it needs.
	Configured() bool
	Geocode(ctx context.Context, address string) (*Result, error)
}
