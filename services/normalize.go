package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"mls_ingest/identity"
	"mls_ingest/models"
)

// UpstreamRecord is one listing as returned by the listing API. The handful of
// fields every code path needs are decoded eagerly; everything else is read
// through the defaulted accessors because field presence varies by board.
type UpstreamRecord struct {
	ListingKey      string
	MLSNumber       string
	MlsStatus       string
	StandardStatus  string
	TransactionType string

	fields map[string]any
	Raw    json.RawMessage
}

// DecodeRecord parses a raw upstream item. A record without ListingKey is rejected.
func DecodeRecord(raw json.RawMessage) (*UpstreamRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}

	r := &UpstreamRecord{fields: fields, Raw: raw}
	r.ListingKey = r.String("ListingKey")
	if r.ListingKey == "" {
		return nil, fmt.Errorf("decode record: missing ListingKey")
	}
	r.MLSNumber = r.String("ListingId")
	r.MlsStatus = r.String("MlsStatus")
	r.StandardStatus = r.String("StandardStatus")
	r.TransactionType = r.String("TransactionType")
	return r, nil
}

// String returns the trimmed string form of key, "" when absent or null.
func (r *UpstreamRecord) String(key string) string {
	switch v := r.fields[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// Float returns key as a float, nil when absent or unparseable.
func (r *UpstreamRecord) Float(key string) *float64 {
	var f float64
	switch v := r.fields[key].(type) {
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(v), ",", ""), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// Int returns key rounded to an int, nil when absent, unparseable or outside
// the 32-bit range of the INTEGER columns it is stored in.
func (r *UpstreamRecord) Int(key string) *int {
	f := r.Float(key)
	if f == nil {
		return nil
	}
	rounded := math.Round(*f)
	if rounded > math.MaxInt32 || rounded < math.MinInt32 {
		return nil
	}
	i := int(rounded)
	return &i
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Time parses key with the layouts upstream has been seen to use. Invalid
// dates read as nil rather than failing the record.
func (r *UpstreamRecord) Time(key string) *time.Time {
	s := r.String(key)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() < 1900 {
				return nil
			}
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// FirstString returns the first non-empty value among keys.
func (r *UpstreamRecord) FirstString(keys ...string) string {
	for _, k := range keys {
		if v := r.String(k); v != "" {
			return v
		}
	}
	return ""
}

func (r *UpstreamRecord) firstInt(keys ...string) *int {
	for _, k := range keys {
		if v := r.Int(k); v != nil {
			return v
		}
	}
	return nil
}

// Address is UnparsedAddress when present, else composed from the street parts.
func (r *UpstreamRecord) Address() string {
	if a := r.String("UnparsedAddress"); a != "" {
		return identity.CleanAddress(a)
	}
	parts := []string{
		r.String("StreetNumber"),
		r.String("StreetName"),
		r.String("StreetSuffix"),
		r.String("StreetDirSuffix"),
	}
	street := identity.CleanAddress(strings.Join(parts, " "))
	if unit := r.String("UnitNumber"); unit != "" && street != "" {
		street = unit + "-" + street
	}
	return street
}

// GeocodeAddress is the full single-line address sent to geocoders.
func GeocodeAddress(l *models.Listing) string {
	var parts []string
	for _, p := range []string{l.Address, l.City, l.Province, l.PostalCode} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	country := l.Country
	if country == "" {
		country = "CA"
	}
	return strings.Join(append(parts, country), ", ")
}

// NormalizeListing builds the stored listing from an upstream record.
func NormalizeListing(r *UpstreamRecord, now time.Time) *models.Listing {
	status, isActive := DeriveStatus(r.MlsStatus, r.StandardStatus, r.TransactionType)

	l := &models.Listing{
		ListingKey:      r.ListingKey,
		MLSNumber:       r.MLSNumber,
		Latitude:        r.Float("Latitude"),
		Longitude:       r.Float("Longitude"),
		Address:         r.Address(),
		City:            r.String("City"),
		Province:        r.String("StateOrProvince"),
		PostalCode:      strings.ToUpper(r.String("PostalCode")),
		Country:         r.String("Country"),
		PropertyType:    models.PropertyTypeSale,
		PropertySubType: r.String("PropertySubType"),
		Status:          status,
		IsActive:        isActive,
		Price:           r.Float("ListPrice"),
		Bedrooms:        r.firstInt("BedroomsTotal", "BedroomsAboveGrade"),
		Bathrooms:       r.firstInt("BathroomsTotalInteger", "BathroomsFull"),
		ParkingSpaces:   r.firstInt("ParkingTotal", "ParkingSpaces"),
		SquareFootage:   r.firstInt("LivingArea", "BuildingAreaTotal"),
		LotSize:         r.FirstString("LotSizeDimensions", "LotSizeRangeAcres", "LotSizeArea"),
		Remarks:         StripHTML(r.String("PublicRemarks")),
		ListedDate:      firstTime(r, "ListingContractDate", "OriginalEntryTimestamp"),
		SoldDate:        r.Time("CloseDate"),
		UpdatedDate:     r.Time("ModificationTimestamp"),
		LastSyncedAt:    now,
		RawData:         r.Raw,
	}

	if isLeaseTransaction(r.TransactionType) {
		l.PropertyType = models.PropertyTypeRent
	}
	if status != models.StatusActive {
		if closed := r.Float("ClosePrice"); closed != nil {
			l.Price = closed
		}
	}
	if l.Country == "" {
		l.Country = "CA"
	}
	if l.Latitude != nil && l.Longitude != nil && *l.Latitude == 0 && *l.Longitude == 0 {
		l.Latitude, l.Longitude = nil, nil
	}
	return l
}

func firstTime(r *UpstreamRecord, keys ...string) *time.Time {
	for _, k := range keys {
		if t := r.Time(k); t != nil {
			return t
		}
	}
	return nil
}

// StripHTML returns the visible text of an HTML fragment with whitespace collapsed.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	doc.Find("br, p, li").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml(" ")
	})
	return strings.Join(strings.Fields(doc.Text()), " ")
}
