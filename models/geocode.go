package models

import "time"

type GeocodeStatus string

const (
	GeocodeSuccess GeocodeStatus = "success"
	GeocodeFailed  GeocodeStatus = "failed"
	GeocodePending GeocodeStatus = "pending"
)

// GeocodeEntry is a cached lookup keyed by the hash of the normalized address.
type GeocodeEntry struct {
	AddressHash      string        `json:"address_hash" db:"address_hash"`
	OriginalAddress  string        `json:"original_address" db:"original_address"`
	Latitude         *float64      `json:"latitude" db:"latitude"`
	Longitude        *float64      `json:"longitude" db:"longitude"`
	FormattedAddress string        `json:"formatted_address" db:"formatted_address"`
	Provider         string        `json:"provider" db:"provider"`
	GeocodedAt       time.Time     `json:"geocoded_at" db:"geocoded_at"`
	Status           GeocodeStatus `json:"status" db:"status"`
}
