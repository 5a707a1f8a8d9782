package services

import (
	"testing"

	"mls_ingest/models"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name       string
		mls        string
		std        string
		txn        string
		wantStatus models.ListingStatus
		wantActive bool
	}{
		{"mls sold beats active standard", "Sold", "Active", "For Sale", models.StatusSold, false},
		{"mls leased", "Leased", "Active", "For Lease", models.StatusLeased, false},
		{"closed lease", "", "Closed", "For Lease", models.StatusLeased, false},
		{"closed rent", "", "closed", "For Rent", models.StatusLeased, false},
		{"closed sale", "", "Closed", "For Sale", models.StatusSold, false},
		{"plain active", "", "Active", "", models.StatusActive, true},
		{"mls new with active standard", "New", "Active", "For Sale", models.StatusActive, true},
		{"case insensitive", "SOLD", "ACTIVE", "", models.StatusSold, false},
		{"expired is untracked", "Expired", "Expired", "For Sale", models.StatusActive, false},
		{"withdrawn is untracked", "", "Withdrawn", "", models.StatusActive, false},
		{"empty signals", "", "", "", models.StatusActive, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, active := DeriveStatus(tt.mls, tt.std, tt.txn)
			if status != tt.wantStatus || active != tt.wantActive {
				t.Fatalf("expected (%s, %v), got (%s, %v)", tt.wantStatus, tt.wantActive, status, active)
			}
		})
	}
}
