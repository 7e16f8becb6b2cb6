// Package displacement quotes the home-visit travel surcharge for an address.
package displacement

import (
	"context"
	"errors"
	"strings"
	"unicode"
)

// ErrUnresolvable means no quote exists for the address; callers treat the
// home visit as not bookable.
var ErrUnresolvable = errors.New("displacement: address not serviceable")

type Quote struct {
	FeeAmount  float64 `json:"fee_amount"`
	DistanceKm float64 `json:"distance_km"`
}

type Resolver interface {
	Resolve(ctx context.Context, tenantID, postalCode string) (Quote, error)
}

// NormalizePostalCode keeps the digits of a CEP ("01310-100" -> "01310100").
// Anything other than eight digits is rejected.
func NormalizePostalCode(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '.' || unicode.IsSpace(r) {
			continue
		}
		return "", false
	}
	s := b.String()
	if len(s) != 8 {
		return "", false
	}
	return s, true
}
