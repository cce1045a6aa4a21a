package models

// VenuePrice is a price attributed to the exchange that quoted it.
type VenuePrice struct {
	Exchange string  `json:"exchange"`
	Price    float64 `json:"price"`
}

// CrossExchangeQuote is the reduced answer of a fan-out quote query.
// NoConnectors distinguishes an unconfigured engine from one where every
// exchange failed.
type CrossExchangeQuote struct {
	Pair         string      `json:"pair"`
	BestBid      *VenuePrice `json:"best_bid,omitempty"`
	BestAsk      *VenuePrice `json:"best_ask,omitempty"`
	Errors       []string    `json:"errors"`
	NoConnectors bool        `json:"no_connectors,omitempty"`
}

// Spread is best ask minus best bid. A negative value means the books cross
// between venues. ok is false when either side is missing.
func (q CrossExchangeQuote) Spread() (spread float64, ok bool) {
	if q.BestBid == nil || q.BestAsk == nil {
		return 0, false
	}
	return q.BestAsk.Price - q.BestBid.Price, true
}

// SpreadPercent is the spread relative to the best bid.
func (q CrossExchangeQuote) SpreadPercent() (float64, bool) {
	spread, ok := q.Spread()
	if !ok || q.BestBid.Price == 0 {
		return 0, false
	}
	return spread / q.BestBid.Price * 100, true
}

// VenueFunding is one exchange's funding answer.
type VenueFunding struct {
	Exchange string      `json:"exchange"`
	Rate     FundingRate `json:"rate"`
	APR      float64     `json:"apr"`
}

// FundingComparison collects funding across exchanges.
type FundingComparison struct {
	Pair   string         `json:"pair"`
	Rates  []VenueFunding `json:"rates"`
	Errors []string       `json:"errors"`
}

// VenueImpact is one exchange's execution estimate.
type VenueImpact struct {
	Exchange string            `json:"exchange"`
	Estimate ExecutionEstimate `json:"estimate"`
}

// ImpactComparison lists estimates best-first for the requested side.
type ImpactComparison struct {
	Pair      string        `json:"pair"`
	Side      Side          `json:"side"`
	Volume    float64       `json:"volume"`
	Estimates []VenueImpact `json:"estimates"`
	Errors    []string      `json:"errors"`
}
