package export

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cardispatch/internal"
)

var testToday = time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

func completeRecord() *internal.DispatchRecord {
	fields := map[string]string{
		internal.FieldVIN:            "1HGCM82633A004352",
		internal.FieldTrailerType:    "OPEN",
		internal.FieldAvailableDate:  "2025-06-12",
		internal.FieldExpirationDate: "2025-06-20",
		internal.FieldPrice:          "450.00",
		internal.FieldMarketplaceID:  "721",

		internal.FieldPickupName:    "Copart Newark",
		internal.FieldPickupAddress: "100 Industrial Ave",
		internal.FieldPickupCity:    "Newark",
		internal.FieldPickupState:   "NJ",
		internal.FieldPickupZip:     "07105",
		internal.FieldPickupCountry: "US",

		internal.FieldDeliveryName:    "Port Newark Yard",
		internal.FieldDeliveryAddress: "200 Corbin St",
		internal.FieldDeliveryCity:    "Newark",
		internal.FieldDeliveryState:   "NJ",
		internal.FieldDeliveryZip:     "07114",
		internal.FieldDeliveryCountry: "US",
	}

	rec := &internal.DispatchRecord{
		DispatchID: "DC-20250610-COPART-AB12CD34",
		HashKey:    "COPART:AB12CD34", AuctionType: "COPART",
		Status:    internal.StatusReady,
		Fields:    make(map[string]internal.FieldValue, len(fields)),
		Overrides: map[string]string{},
	}
	for key, value := range fields {
		rec.Fields[key] = internal.FieldValue{
			Key: key, Value: value, Source: internal.SourceExtracted, Confidence: 0.8,
		}
	}
	return rec
}

func issueFields(t *testing.T, err error) map[string]string {
	t.Helper()
	var verr *internal.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	out := make(map[string]string, len(verr.Issues))
	for _, i := range verr.Issues {
		out[i.Field] = i.Message
	}
	return out
}

func TestValidateReadyComplete(t *testing.T) {
	if err := ValidateReady(completeRecord(), testToday, 30); err != nil {
		t.Fatalf("complete record failed validation: %v", err)
	}
}

func TestValidateReadyMissingDeliveryZip(t *testing.T) {
	rec := completeRecord()
	delete(rec.Fields, internal.FieldDeliveryZip)

	err := ValidateReady(rec, testToday, 30)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if got := issueFields(t, err)[internal.FieldDeliveryZip]; got != "required" {
		t.Errorf("delivery_zip issue = %q, want required", got)
	}
}

func TestValidateReadyBadVIN(t *testing.T) {
	rec := completeRecord()
	rec.Fields[internal.FieldVIN] = internal.FieldValue{
		Key: internal.FieldVIN, Value: "1HGCM82633A00435O", Source: internal.SourceExtracted,
	}

	err := ValidateReady(rec, testToday, 30)
	if err == nil {
		t.Fatal("VIN containing O must fail")
	}
	if _, ok := issueFields(t, err)[internal.FieldVIN]; !ok {
		t.Error("missing vin issue")
	}
}

func TestValidateReadyDateWindow(t *testing.T) {
	rec := completeRecord()
	rec.Fields[internal.FieldAvailableDate] = internal.FieldValue{
		Key: internal.FieldAvailableDate, Value: "2025-08-01", Source: internal.SourceExtracted,
	}
	rec.Fields[internal.FieldExpirationDate] = internal.FieldValue{
		Key: internal.FieldExpirationDate, Value: "2025-08-10", Source: internal.SourceExtracted,
	}

	err := ValidateReady(rec, testToday, 30)
	if err == nil {
		t.Fatal("date outside the 30 day window must fail")
	}
	if _, ok := issueFields(t, err)[internal.FieldAvailableDate]; !ok {
		t.Error("missing available_date issue")
	}
}

func TestValidateReadyExpirationBeforeAvailable(t *testing.T) {
	rec := completeRecord()
	rec.Fields[internal.FieldExpirationDate] = internal.FieldValue{
		Key: internal.FieldExpirationDate, Value: "2025-06-11", Source: internal.SourceExtracted,
	}

	err := ValidateReady(rec, testToday, 30)
	if err == nil {
		t.Fatal("expiration before available must fail")
	}
}

func TestValidateReadyUsesOverrides(t *testing.T) {
	rec := completeRecord()
	rec.Fields[internal.FieldDeliveryState] = internal.FieldValue{
		Key: internal.FieldDeliveryState, Value: "New Jersey", Source: internal.SourceExtracted,
	}
	rec.Overrides[internal.FieldDeliveryState] = "NJ"

	if err := ValidateReady(rec, testToday, 30); err != nil {
		t.Fatalf("override should satisfy the state rule: %v", err)
	}
}

func TestBuildListingShape(t *testing.T) {
	rec := completeRecord()
	rec.Fields[internal.FieldVehicleYear] = internal.FieldValue{Key: internal.FieldVehicleYear, Value: "2019"}
	rec.Fields[internal.FieldVehicleInop] = internal.FieldValue{Key: internal.FieldVehicleInop, Value: "true"}
	rec.Fields[internal.FieldCODAmount] = internal.FieldValue{Key: internal.FieldCODAmount, Value: "450.00"}

	listing := BuildListing(rec)

	if len(listing.Stops) != 2 {
		t.Fatalf("stops = %d, want 2", len(listing.Stops))
	}
	if listing.Stops[0].Kind != "PICKUP" || listing.Stops[1].Kind != "DELIVERY" {
		t.Errorf("stop kinds = %s, %s", listing.Stops[0].Kind, listing.Stops[1].Kind)
	}
	if len(listing.Vehicles) != 1 {
		t.Fatalf("vehicles = %d", len(listing.Vehicles))
	}
	if listing.Vehicles[0].Year != 2019 || !listing.Vehicles[0].Inoperable {
		t.Errorf("vehicle = %+v", listing.Vehicles[0])
	}
	if listing.Price.Total != 450 {
		t.Errorf("price = %v", listing.Price.Total)
	}
	if len(listing.Marketplaces.IDs) != 1 || listing.Marketplaces.IDs[0] != "721" {
		t.Errorf("marketplaces = %v", listing.Marketplaces.IDs)
	}
}

func TestListingSchemaAcceptsBuiltPayload(t *testing.T) {
	listing := BuildListing(completeRecord())
	body, err := json.Marshal(listing)
	if err != nil {
		t.Fatal(err)
	}
	if err := ValidateListingJSON(body); err != nil {
		t.Fatalf("built listing failed schema: %v", err)
	}
}

func TestListingSchemaRejectsMissingStops(t *testing.T) {
	err := ValidateListingJSON([]byte(`{
		"dispatchId": "DC-1", "trailerType": "OPEN", "availableDate": "2025-06-12",
		"stops": [{"sequence":1,"type":"PICKUP","address":"a","city":"c","state":"NJ","zip":"07105","country":"US"}],
		"vehicles": [{"vin":"1HGCM82633A004352"}],
		"price": {"total": 450},
		"marketplaces": {"ids": ["721"]}
	}`))
	if err == nil {
		t.Fatal("one stop must be rejected")
	}
}
