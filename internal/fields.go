package internal

// Canonical field keys. Profiles and the marketplace payload both speak in
// these keys; the extraction engine never invents new ones.
const (
	FieldVIN          = "vehicle_vin"
	FieldVehicleYear  = "vehicle_year"
	FieldVehicleMake  = "vehicle_make"
	FieldVehicleModel = "vehicle_model"
	FieldVehicleType  = "vehicle_type"
	FieldVehicleInop  = "vehicle_inop"

	FieldAuctionLot  = "auction_lot"
	FieldGatePass    = "gate_pass_code"
	FieldBuyerNumber = "buyer_number"

	FieldPickupName    = "pickup_name"
	FieldPickupAddress = "pickup_address"
	FieldPickupCity    = "pickup_city"
	FieldPickupState   = "pickup_state"
	FieldPickupZip     = "pickup_zip"
	FieldPickupCountry = "pickup_country"
	FieldPickupPhone   = "pickup_phone"

	FieldDeliveryName    = "delivery_name"
	FieldDeliveryAddress = "delivery_address"
	FieldDeliveryCity    = "delivery_city"
	FieldDeliveryState   = "delivery_state"
	FieldDeliveryZip     = "delivery_zip"
	FieldDeliveryCountry = "delivery_country"
	FieldDeliveryPhone   = "delivery_phone"
	FieldDeliveryContact = "delivery_contact"
	FieldWarehouseRec    = "warehouse_recommendation"

	FieldPrice         = "price"
	FieldCODAmount     = "cod_amount"
	FieldPaymentMethod = "payment_method"

	FieldAvailableDate  = "available_date"
	FieldExpirationDate = "expiration_date"

	FieldTrailerType   = "trailer_type"
	FieldMarketplaceID = "marketplace_id"
	FieldReleaseNotes  = "release_notes"
)

// RequiredFieldKeys is the default extraction target set.
var RequiredFieldKeys = []string{
	FieldVIN, FieldVehicleYear, FieldVehicleMake, FieldVehicleModel,
	FieldVehicleType, FieldVehicleInop,
	FieldAuctionLot, FieldGatePass, FieldBuyerNumber,
	FieldPickupName, FieldPickupAddress, FieldPickupCity, FieldPickupState,
	FieldPickupZip, FieldPickupCountry, FieldPickupPhone,
	FieldDeliveryName, FieldDeliveryAddress, FieldDeliveryCity,
	FieldDeliveryState, FieldDeliveryZip, FieldDeliveryCountry,
	FieldDeliveryPhone, FieldDeliveryContact, FieldWarehouseRec,
	FieldPrice, FieldCODAmount, FieldPaymentMethod,
	FieldAvailableDate, FieldExpirationDate,
	FieldTrailerType, FieldMarketplaceID, FieldReleaseNotes,
}

var deliveryFieldSet = map[string]struct{}{
	FieldDeliveryName: {}, FieldDeliveryAddress: {}, FieldDeliveryCity: {},
	FieldDeliveryState: {}, FieldDeliveryZip: {}, FieldDeliveryCountry: {},
	FieldDeliveryPhone: {}, FieldDeliveryContact: {}, FieldWarehouseRec: {},
}

// IsDeliveryField reports whether a key belongs to the delivery/dropoff group
// protected by lock_delivery and MANUAL warehouse selection.
func IsDeliveryField(key string) bool {
	_, ok := deliveryFieldSet[key]
	return ok
}

func IsReleaseNotesField(key string) bool {
	return key == FieldReleaseNotes
}
