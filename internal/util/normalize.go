package util

import (
	"regexp"
	"strings"
	"time"
	"unicode"
)

var (
	reSpaces   = regexp.MustCompile(`\s+`)
	reNonVIN   = regexp.MustCompile(`[^A-Z0-9]`)
	reDigits   = regexp.MustCompile(`[^0-9.]`)
	reZipDigit = regexp.MustCompile(`\d{5}`)
)

func NormalizeSpaces(input string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(input, " "))
}

// NormalizeVIN strips everything but alphanumerics and uppercases. It does
// not reject short values; length rules belong to validation.
func NormalizeVIN(input string) string {
	return reNonVIN.ReplaceAllString(strings.ToUpper(input), "")
}

var stateNames = map[string]string{
	"ALABAMA": "AL", "ALASKA": "AK", "ARIZONA": "AZ", "ARKANSAS": "AR",
	"CALIFORNIA": "CA", "COLORADO": "CO", "CONNECTICUT": "CT", "DELAWARE": "DE",
	"FLORIDA": "FL", "GEORGIA": "GA", "HAWAII": "HI", "IDAHO": "ID",
	"ILLINOIS": "IL", "INDIANA": "IN", "IOWA": "IA", "KANSAS": "KS",
	"KENTUCKY": "KY", "LOUISIANA": "LA", "MAINE": "ME", "MARYLAND": "MD",
	"MASSACHUSETTS": "MA", "MICHIGAN": "MI", "MINNESOTA": "MN", "MISSISSIPPI": "MS",
	"MISSOURI": "MO", "MONTANA": "MT", "NEBRASKA": "NE", "NEVADA": "NV",
	"NEW HAMPSHIRE": "NH", "NEW JERSEY": "NJ", "NEW MEXICO": "NM", "NEW YORK": "NY",
	"NORTH CAROLINA": "NC", "NORTH DAKOTA": "ND", "OHIO": "OH", "OKLAHOMA": "OK",
	"OREGON": "OR", "PENNSYLVANIA": "PA", "RHODE ISLAND": "RI", "SOUTH CAROLINA": "SC",
	"SOUTH DAKOTA": "SD", "TENNESSEE": "TN", "TEXAS": "TX", "UTAH": "UT",
	"VERMONT": "VT", "VIRGINIA": "VA", "WASHINGTON": "WA", "WEST VIRGINIA": "WV",
	"WISCONSIN": "WI", "WYOMING": "WY", "DISTRICT OF COLUMBIA": "DC",
}

var stateAbbrevs = func() map[string]struct{} {
	out := make(map[string]struct{}, len(stateNames))
	for _, ab := range stateNames {
		out[ab] = struct{}{}
	}
	return out
}()

// NormalizeState maps a state name or abbreviation to its 2-letter form.
// Unrecognized input is returned trimmed and uppercased as-is.
func NormalizeState(input string) string {
	s := strings.ToUpper(NormalizeSpaces(input))
	s = strings.Trim(s, ".,")
	if ab, ok := stateNames[s]; ok {
		return ab
	}
	if _, ok := stateAbbrevs[s]; ok {
		return s
	}
	return s
}

// Zip5 keeps the first 5-digit group, dropping ZIP+4 suffixes.
func Zip5(input string) string {
	if m := reZipDigit.FindString(input); m != "" {
		return m
	}
	return strings.TrimSpace(input)
}

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"01-02-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"02 Jan 2006",
}

// ParseDate normalizes common US invoice date spellings to YYYY-MM-DD.
// Input that matches no known layout comes back unchanged.
func ParseDate(input string) string {
	s := NormalizeSpaces(input)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return s
}

// Digits keeps digits and the decimal point, for money-ish fields.
func Digits(input string) string {
	return strings.Trim(reDigits.ReplaceAllString(input, ""), ".")
}

func TitleCase(input string) string {
	words := strings.Fields(strings.ToLower(input))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
