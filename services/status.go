package services

import (
	"strings"

	"mls_ingest/models"
)

// DeriveStatus maps the upstream status signals to a normalized status.
//
// The MLS status wins when it says sold or leased. Otherwise the standard
// status decides: closed becomes leased or sold by transaction type, and every
// other value reads as active. isActive is only true for a genuinely active
// listing; active-but-not-isActive records (expired, withdrawn, etc.) are not
// tracked.
func DeriveStatus(mlsStatus, standardStatus, transactionType string) (models.ListingStatus, bool) {
	mls := strings.ToLower(strings.TrimSpace(mlsStatus))
	std := strings.ToLower(strings.TrimSpace(standardStatus))

	switch mls {
	case "sold":
		return models.StatusSold, false
	case "leased":
		return models.StatusLeased, false
	}

	if std == "closed" {
		if isLeaseTransaction(transactionType) {
			return models.StatusLeased, false
		}
		return models.StatusSold, false
	}

	return models.StatusActive, std == "active"
}

func isLeaseTransaction(transactionType string) bool {
	t := strings.ToLower(transactionType)
	return strings.Contains(t, "lease") || strings.Contains(t, "rent")
}
