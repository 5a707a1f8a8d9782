package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	streetReplacements = map[string]string{
		"street":    "st",
		"avenue":    "ave",
		"drive":     "dr",
		"road":      "rd",
		"boulevard": "blvd",
		"lane":      "ln",
		"court":     "ct",
		"place":     "pl",
		"circle":    "cir",
		"crescent":  "cres",
		"terrace":   "ter",
		"highway":   "hwy",
		"parkway":   "pkwy",
		"square":    "sq",
		"north":     "n",
		"south":     "s",
		"east":      "e",
		"west":      "w",
		"apartment": "apt",
		"suite":     "ste",
	}
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	nonAlnumRegex   = regexp.MustCompile(`[^a-z0-9\s]`)
)

// foldAccents strips combining marks so "Montréal" and "Montreal" compare equal.
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeAddress lowercases, folds accents, drops punctuation and abbreviates
// street words so equivalent spellings of one address normalize identically.
func NormalizeAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(foldAccents(addr)))
	addr = nonAlnumRegex.ReplaceAllString(addr, " ")

	words := strings.Fields(addr)
	for i, w := range words {
		if abbrev, ok := streetReplacements[w]; ok {
			words[i] = abbrev
		}
	}
	addr = strings.Join(words, " ")
	return multiSpaceRegex.ReplaceAllString(addr, " ")
}

// CleanAddress trims and collapses whitespace without changing case or wording.
// It is what gets sent to geocoding providers.
func CleanAddress(addr string) string {
	return strings.TrimSpace(multiSpaceRegex.ReplaceAllString(addr, " "))
}

// AddressHash is the geocode cache key. Spellings that normalize to the same
// address share one entry.
func AddressHash(addr string) string {
	sum := sha256.Sum256([]byte(NormalizeAddress(addr)))
	return hex.EncodeToString(sum[:])
}
