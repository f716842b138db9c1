package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"cardispatch/internal"
)

// Identity derives the stable identity of a dispatch from its strongest
// available anchor. The hash key is date independent so a re-ingested
// document resolves to the same record no matter when it arrives; the
// human-facing dispatch id carries the date of first sight.
type Identity struct {
	DispatchID string
	HashKey    string
}

func DeriveIdentity(auctionType string, fields map[string]internal.FieldValue, rawText string, now time.Time) Identity {
	anchor := firstAnchor(fields, rawText)
	sum := sha256.Sum256([]byte(anchor))
	hash8 := strings.ToUpper(hex.EncodeToString(sum[:]))[:8]
	return Identity{
		DispatchID: fmt.Sprintf("DC-%s-%s-%s", now.Format("20060102"), auctionType, hash8),
		HashKey:    auctionType + ":" + hash8,
	}
}

// firstAnchor prefers auction-issued identifiers over document content.
// Gate passes are unique per release, lots per sale, VINs per vehicle.
func firstAnchor(fields map[string]internal.FieldValue, rawText string) string {
	for _, key := range []string{internal.FieldGatePass, internal.FieldAuctionLot, internal.FieldVIN} {
		if v := fields[key].Value; v != "" {
			return key + "=" + strings.ToUpper(strings.TrimSpace(v))
		}
	}
	return "content=" + rawText
}
