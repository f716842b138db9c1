package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// listingSchema is the structural contract of the marketplace listing body.
// Business rules live in ValidateReady; this guards the wire shape itself,
// exactly two stops and one to twelve vehicles.
var listingSchema = map[string]any{
	"type":     "object",
	"required": []any{"dispatchId", "trailerType", "availableDate", "stops", "vehicles", "price", "marketplaces"},
	"properties": map[string]any{
		"dispatchId":  map[string]any{"type": "string", "maxLength": 50},
		"trailerType": map[string]any{"type": "string"},
		"availableDate": map[string]any{
			"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`,
		},
		"stops": map[string]any{
			"type": "array", "minItems": 2, "maxItems": 2,
			"items": map[string]any{
				"type":     "object",
				"required": []any{"sequence", "type", "address", "city", "state", "zip", "country"},
			},
		},
		"vehicles": map[string]any{
			"type": "array", "minItems": 1, "maxItems": 12,
			"items": map[string]any{
				"type":     "object",
				"required": []any{"vin"},
			},
		},
		"price": map[string]any{
			"type":     "object",
			"required": []any{"total"},
			"properties": map[string]any{
				"total": map[string]any{"type": "number", "exclusiveMinimum": 0},
			},
		},
		"marketplaces": map[string]any{
			"type":     "object",
			"required": []any{"ids"},
			"properties": map[string]any{
				"ids": map[string]any{"type": "array", "minItems": 1},
			},
		},
	},
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func compileListingSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		b, err := json.Marshal(listingSchema)
		if err != nil {
			schemaErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("listing.json", bytes.NewReader(b)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("listing.json")
	})
	return compiledSchema, schemaErr
}

// ValidateListingJSON checks an encoded listing against the wire schema.
func ValidateListingJSON(body []byte) error {
	schema, err := compileListingSchema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("unmarshal listing: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("listing does not match schema: %w", err)
	}
	return nil
}
