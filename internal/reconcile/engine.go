package reconcile

import (
	"sort"
	"time"

	"cardispatch/internal"
)

// Merge applies one extraction result to a record under the non-destructive
// merge policy. It is a pure function: the caller owns locking and
// persistence. A nil existing record is an insert.
func Merge(existing *internal.DispatchRecord, dispatchID, hashKey, auctionType string, extracted map[string]internal.FieldValue, now time.Time) (internal.DispatchRecord, internal.UpsertReport) {
	if existing == nil {
		return insert(dispatchID, hashKey, auctionType, extracted, now)
	}
	return update(*existing, extracted, now)
}

func insert(dispatchID, hashKey, auctionType string, extracted map[string]internal.FieldValue, now time.Time) (internal.DispatchRecord, internal.UpsertReport) {
	rec := internal.DispatchRecord{
		DispatchID:    dispatchID,
		HashKey:       hashKey,
		AuctionType:   auctionType,
		Status:        internal.StatusNew,
		WarehouseMode: internal.WarehouseAuto,
		Fields:        make(map[string]internal.FieldValue, len(extracted)),
		Overrides:     map[string]string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var updated []string
	for key, fv := range extracted {
		rec.Fields[key] = fv
		if !fv.Empty() {
			updated = append(updated, key)
		}
	}
	sort.Strings(updated)

	return rec, internal.UpsertReport{
		Action:     internal.UpsertInsert,
		DispatchID: dispatchID,
		Updated:    updated,
		Skipped:    []internal.SkippedField{},
		Protection: rec.Protection(),
	}
}

func update(rec internal.DispatchRecord, extracted map[string]internal.FieldValue, now time.Time) (internal.DispatchRecord, internal.UpsertReport) {
	report := internal.UpsertReport{
		Action:     internal.UpsertUpdate,
		DispatchID: rec.DispatchID,
		Skipped:    []internal.SkippedField{},
		Protection: rec.Protection(),
	}

	// System/audit timestamps refresh no matter what below decides.
	out := cloneRecord(rec)
	out.UpdatedAt = now

	keys := make([]string, 0, len(extracted))
	for key := range extracted {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	if rec.LockAll {
		for _, key := range keys {
			report.Skipped = append(report.Skipped, internal.SkippedField{Field: key, Reason: "lock_all"})
		}
		return out, report
	}

	fillOnly := rec.Status != internal.StatusNew

	for _, key := range keys {
		incoming := extracted[key]
		current := rec.Fields[key]

		switch reason := skipReason(rec, key, current, incoming, fillOnly); reason {
		case "":
			out.Fields[key] = incoming
			report.Updated = append(report.Updated, key)
		default:
			report.Skipped = append(report.Skipped, internal.SkippedField{Field: key, Reason: reason})
		}
	}

	return out, report
}

// skipReason implements the ordered update rules; the first applicable rule
// for a field wins. Empty return means the field is written.
func skipReason(rec internal.DispatchRecord, key string, current, incoming internal.FieldValue, fillOnly bool) string {
	if fillOnly && !current.Empty() {
		return "fill_only"
	}
	if internal.IsDeliveryField(key) && (rec.LockDelivery || rec.WarehouseMode == internal.WarehouseManual) {
		if rec.LockDelivery {
			return "lock_delivery"
		}
		return "warehouse_manual"
	}
	if internal.IsReleaseNotesField(key) && rec.LockReleaseNotes {
		return "lock_release_notes"
	}
	if incoming.Empty() {
		if current.Empty() {
			return "unchanged"
		}
		return "empty_value"
	}
	if incoming.Value == current.Value && incoming.Source == current.Source {
		return "unchanged"
	}
	return ""
}

// ApplyWarehouse writes WAREHOUSE_CONST delivery fields and release notes
// from a warehouse record, honoring locks. The operator's selection mode is
// recorded on the record.
func ApplyWarehouse(rec *internal.DispatchRecord, wh internal.Warehouse, mode internal.WarehouseMode, now time.Time) internal.UpsertReport {
	report := internal.UpsertReport{
		Action:     internal.UpsertUpdate,
		DispatchID: rec.DispatchID,
		Skipped:    []internal.SkippedField{},
	}

	values := map[string]string{
		internal.FieldDeliveryName:    wh.Name,
		internal.FieldDeliveryAddress: wh.Address,
		internal.FieldDeliveryCity:    wh.City,
		internal.FieldDeliveryState:   wh.State,
		internal.FieldDeliveryZip:     wh.Zip,
		internal.FieldDeliveryPhone:   wh.Phone,
		internal.FieldDeliveryContact: wh.ContactName,
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if values[key] == "" {
			continue
		}
		if rec.LockAll || rec.LockDelivery {
			report.Skipped = append(report.Skipped, internal.SkippedField{Field: key, Reason: "lock_delivery"})
			continue
		}
		rec.Fields[key] = internal.FieldValue{
			Key: key, Value: values[key],
			Source: internal.SourceWarehouseConst, Confidence: 1.0, UpdatedAt: now,
		}
		report.Updated = append(report.Updated, key)
	}

	if wh.SpecialInstructions != "" {
		if rec.LockAll || rec.LockReleaseNotes {
			report.Skipped = append(report.Skipped, internal.SkippedField{Field: internal.FieldReleaseNotes, Reason: "lock_release_notes"})
		} else {
			rec.Fields[internal.FieldReleaseNotes] = internal.FieldValue{
				Key: internal.FieldReleaseNotes, Value: wh.SpecialInstructions,
				Source: internal.SourceWarehouseConst, Confidence: 1.0, UpdatedAt: now,
			}
			report.Updated = append(report.Updated, internal.FieldReleaseNotes)
		}
	}

	rec.WarehouseID = &wh.ID
	rec.WarehouseMode = mode
	rec.UpdatedAt = now
	report.Protection = rec.Protection()
	return report
}

func cloneRecord(rec internal.DispatchRecord) internal.DispatchRecord {
	out := rec
	out.Fields = make(map[string]internal.FieldValue, len(rec.Fields))
	for k, v := range rec.Fields {
		out.Fields[k] = v
	}
	out.Overrides = make(map[string]string, len(rec.Overrides))
	for k, v := range rec.Overrides {
		out.Overrides[k] = v
	}
	return out
}
