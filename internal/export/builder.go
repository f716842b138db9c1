package export

import (
	"strconv"

	"cardispatch/internal"
)

// Listing is the marketplace wire shape: exactly two stops, one to twelve
// vehicles, a price block and the marketplace routing block.
type Listing struct {
	DispatchID   string       `json:"dispatchId"`
	TrailerType  string       `json:"trailerType"`
	AvailableAt  string       `json:"availableDate"`
	ExpiresAt    string       `json:"expirationDate,omitempty"`
	Stops        []Stop       `json:"stops"`
	Vehicles     []Vehicle    `json:"vehicles"`
	Price        Price        `json:"price"`
	Marketplaces Marketplaces `json:"marketplaces"`
	Notes        string       `json:"notes,omitempty"`
}

type Stop struct {
	Sequence    int    `json:"sequence"`
	Kind        string `json:"type"`
	Name        string `json:"name,omitempty"`
	Address     string `json:"address"`
	City        string `json:"city"`
	State       string `json:"state"`
	Zip         string `json:"zip"`
	Country     string `json:"country"`
	Phone       string `json:"phone,omitempty"`
	ContactName string `json:"contactName,omitempty"`
}

type Vehicle struct {
	VIN         string `json:"vin"`
	Year        int    `json:"year,omitempty"`
	Make        string `json:"make,omitempty"`
	Model       string `json:"model,omitempty"`
	VehicleType string `json:"vehicleType,omitempty"`
	Inoperable  bool   `json:"inoperable"`
	LotNumber   string `json:"lotNumber,omitempty"`
	GatePass    string `json:"gatePass,omitempty"`
	BuyerNumber string `json:"buyerNumber,omitempty"`
}

type Price struct {
	Total         float64 `json:"total"`
	CODAmount     float64 `json:"codAmount,omitempty"`
	PaymentMethod string  `json:"paymentMethod,omitempty"`
}

type Marketplaces struct {
	IDs []string `json:"ids"`
}

// BuildListing maps a validated record into the marketplace payload. It
// assumes ValidateReady already passed; formatting errors here would mean the
// validator and builder disagree.
func BuildListing(rec *internal.DispatchRecord) Listing {
	price, _ := strconv.ParseFloat(rec.Final(internal.FieldPrice), 64)
	cod, _ := strconv.ParseFloat(rec.Final(internal.FieldCODAmount), 64)
	year, _ := strconv.Atoi(rec.Final(internal.FieldVehicleYear))

	return Listing{
		DispatchID:  rec.DispatchID,
		TrailerType: rec.Final(internal.FieldTrailerType),
		AvailableAt: rec.Final(internal.FieldAvailableDate),
		ExpiresAt:   rec.Final(internal.FieldExpirationDate),
		Stops: []Stop{
			{
				Sequence: 1, Kind: "PICKUP",
				Name:    rec.Final(internal.FieldPickupName),
				Address: rec.Final(internal.FieldPickupAddress),
				City:    rec.Final(internal.FieldPickupCity),
				State:   rec.Final(internal.FieldPickupState),
				Zip:     rec.Final(internal.FieldPickupZip),
				Country: rec.Final(internal.FieldPickupCountry),
				Phone:   rec.Final(internal.FieldPickupPhone),
			},
			{
				Sequence: 2, Kind: "DELIVERY",
				Name:        rec.Final(internal.FieldDeliveryName),
				Address:     rec.Final(internal.FieldDeliveryAddress),
				City:        rec.Final(internal.FieldDeliveryCity),
				State:       rec.Final(internal.FieldDeliveryState),
				Zip:         rec.Final(internal.FieldDeliveryZip),
				Country:     rec.Final(internal.FieldDeliveryCountry),
				Phone:       rec.Final(internal.FieldDeliveryPhone),
				ContactName: rec.Final(internal.FieldDeliveryContact),
			},
		},
		Vehicles: []Vehicle{
			{
				VIN:         rec.Final(internal.FieldVIN),
				Year:        year,
				Make:        rec.Final(internal.FieldVehicleMake),
				Model:       rec.Final(internal.FieldVehicleModel),
				VehicleType: rec.Final(internal.FieldVehicleType),
				Inoperable:  rec.Final(internal.FieldVehicleInop) == "true",
				LotNumber:   rec.Final(internal.FieldAuctionLot),
				GatePass:    rec.Final(internal.FieldGatePass),
				BuyerNumber: rec.Final(internal.FieldBuyerNumber),
			},
		},
		Price: Price{
			Total:         price,
			CODAmount:     cod,
			PaymentMethod: rec.Final(internal.FieldPaymentMethod),
		},
		Marketplaces: Marketplaces{IDs: []string{rec.Final(internal.FieldMarketplaceID)}},
		Notes:        rec.Final(internal.FieldReleaseNotes),
	}
}
