package export

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"cardispatch/internal"
)

var trailerTypes = map[string]struct{}{
	"OPEN": {}, "ENCLOSED": {}, "DRIVEAWAY": {}, "FLATBED": {},
}

var vinRe = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)
var stateRe = regexp.MustCompile(`^[A-Z]{2}$`)

// ValidateReady checks every business rule a record must satisfy before a
// listing can be built. All values go through final() resolution so operator
// overrides are what actually get validated.
func ValidateReady(rec *internal.DispatchRecord, today time.Time, windowDays int) error {
	var issues []internal.FieldIssue
	add := func(field, msg string) {
		issues = append(issues, internal.FieldIssue{Field: field, Message: msg})
	}

	if rec.DispatchID == "" {
		add("dispatch_id", "required")
	} else if len(rec.DispatchID) > 50 {
		add("dispatch_id", "exceeds 50 characters")
	}

	if vin := rec.Final(internal.FieldVIN); vin == "" {
		add(internal.FieldVIN, "required")
	} else if !vinRe.MatchString(vin) {
		add(internal.FieldVIN, "must be 17 characters excluding I, O, Q")
	}

	if tt := rec.Final(internal.FieldTrailerType); tt == "" {
		add(internal.FieldTrailerType, "required")
	} else if _, ok := trailerTypes[tt]; !ok {
		add(internal.FieldTrailerType, fmt.Sprintf("unknown trailer type %q", tt))
	}

	day := today.Truncate(24 * time.Hour)
	var available time.Time
	if raw := rec.Final(internal.FieldAvailableDate); raw == "" {
		add(internal.FieldAvailableDate, "required")
	} else if t, err := time.Parse("2006-01-02", raw); err != nil {
		add(internal.FieldAvailableDate, "not a valid date")
	} else if t.Before(day) || t.After(day.AddDate(0, 0, windowDays)) {
		add(internal.FieldAvailableDate, fmt.Sprintf("must fall within the next %d days", windowDays))
	} else {
		available = t
	}

	if raw := rec.Final(internal.FieldExpirationDate); raw != "" {
		if t, err := time.Parse("2006-01-02", raw); err != nil {
			add(internal.FieldExpirationDate, "not a valid date")
		} else if !available.IsZero() && !t.After(available) {
			add(internal.FieldExpirationDate, "must be after available_date")
		}
	}

	if raw := rec.Final(internal.FieldPrice); raw == "" {
		add(internal.FieldPrice, "required")
	} else if p, err := strconv.ParseFloat(raw, 64); err != nil || p <= 0 {
		add(internal.FieldPrice, "must be a positive amount")
	}

	if rec.Final(internal.FieldMarketplaceID) == "" {
		add(internal.FieldMarketplaceID, "required")
	}

	validateStop(rec, "pickup", add)
	validateStop(rec, "delivery", add)

	if len(issues) > 0 {
		return &internal.ValidationError{DispatchID: rec.DispatchID, Issues: issues}
	}
	return nil
}

func validateStop(rec *internal.DispatchRecord, prefix string, add func(field, msg string)) {
	for _, suffix := range []string{"address", "city", "state", "zip", "country"} {
		key := prefix + "_" + suffix
		v := rec.Final(key)
		if v == "" {
			add(key, "required")
			continue
		}
		if suffix == "state" && !stateRe.MatchString(v) {
			add(key, "must be a 2-letter state code")
		}
	}
}
