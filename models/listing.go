package models

import (
	"encoding/json"
	"time"
)

type ListingStatus string

const (
	StatusActive ListingStatus = "active"
	StatusSold   ListingStatus = "sold"
	StatusLeased ListingStatus = "leased"
)

const (
	PropertyTypeSale = "For Sale"
	PropertyTypeRent = "For Rent"
)

// Listing is one normalized upstream listing as stored in the listings table.
type Listing struct {
	ListingKey      string          `json:"listing_key" db:"listing_key"`
	MLSNumber       string          `json:"mls_number" db:"mls_number"`
	Latitude        *float64        `json:"latitude" db:"latitude"`
	Longitude       *float64        `json:"longitude" db:"longitude"`
	Geohash         string          `json:"geohash" db:"geohash"`
	Address         string          `json:"address" db:"address"`
	City            string          `json:"city" db:"city"`
	Province        string          `json:"province" db:"province"`
	PostalCode      string          `json:"postal_code" db:"postal_code"`
	Country         string          `json:"country" db:"country"`
	PropertyType    string          `json:"property_type" db:"property_type"` // For Sale, For Rent
	PropertySubType string          `json:"property_sub_type" db:"property_sub_type"`
	Status          ListingStatus   `json:"status" db:"status"`
	IsActive        bool            `json:"is_active" db:"is_active"`
	Price           *float64        `json:"price" db:"price"`
	Bedrooms        *int            `json:"bedrooms" db:"bedrooms"`
	Bathrooms       *int            `json:"bathrooms" db:"bathrooms"`
	ParkingSpaces   *int            `json:"parking_spaces" db:"parking_spaces"`
	SquareFootage   *int            `json:"square_footage" db:"square_footage"`
	LotSize         string          `json:"lot_size" db:"lot_size"`
	Remarks         string          `json:"remarks" db:"remarks"`
	ListedDate      *time.Time      `json:"listed_date" db:"listed_date"`
	SoldDate        *time.Time      `json:"sold_date" db:"sold_date"`
	UpdatedDate     *time.Time      `json:"updated_date" db:"updated_date"`
	LastSyncedAt    time.Time       `json:"last_synced_at" db:"last_synced_at"`
	RawData         json.RawMessage `json:"raw_data" db:"raw_data"`
	ImageURLs       []string        `json:"image_urls" db:"image_urls"`
	HasImages       bool            `json:"has_images" db:"has_images"`
	GeocodeAttempts int             `json:"geocode_attempts" db:"geocode_attempts"`
	ImageAttempts   int             `json:"image_attempts" db:"image_attempts"`
	SyncFailed      bool            `json:"sync_failed" db:"sync_failed"`
	SyncError       *string         `json:"sync_error" db:"sync_error"`
}

// HasCoordinates reports whether both latitude and longitude are set.
func (l *Listing) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// StatusChange is emitted when a listing's normalized status differs from the stored one.
type StatusChange struct {
	ListingKey string        `json:"listing_key"`
	MLSNumber  string        `json:"mls_number"`
	From       ListingStatus `json:"from"`
	To         ListingStatus `json:"to"`
	Price      *float64      `json:"price,omitempty"`
	At         time.Time     `json:"at"`
}

// CountCriteria filters ListingRepository.CountBy. Zero values are ignored.
type CountCriteria struct {
	Status     ListingStatus
	City       string
	ActiveOnly bool
	SyncFailed *bool
}
