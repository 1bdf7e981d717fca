package types

import "strings"

// MatchRequirements picks the advertised requirement a payload is paying
// against. Scheme and network must match; among those, the entry whose payTo
// equals the signed authorization's destination wins, so a challenge that
// offers both direct-transfer and escrow entries resolves to the one the
// buyer actually signed for. When no destination lines up the first
// scheme/network match is returned and the facilitator produces the precise
// rejection.
func MatchRequirements(payload *PaymentPayload, accepts []PaymentRequirements) (PaymentRequirements, bool) {
	var fallback *PaymentRequirements
	for i := range accepts {
		req := &accepts[i]
		if req.Scheme != payload.Scheme || req.Network != payload.Network {
			continue
		}
		if strings.EqualFold(req.PayTo, payload.Payload.Authorization.To) {
			return *req, true
		}
		if fallback == nil {
			fallback = req
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return PaymentRequirements{}, false
}
