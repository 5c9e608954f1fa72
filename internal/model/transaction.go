// Package model defines the wire types shared across the fraud pipeline.
package model

import "time"

// Device carries the client fingerprint attached to a transaction.
// All fields are optional.
type Device struct {
	ID        string `json:"id,omitempty"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// Location is the reported point of sale. Lat/Lon use pointers so that
// "absent" and "zero" stay distinguishable after JSON decoding.
type Location struct {
	Lat     *float64 `json:"lat,omitempty"`
	Lon     *float64 `json:"lon,omitempty"`
	City    string   `json:"city,omitempty"`
	Country string   `json:"country,omitempty"`
}

// Transaction is a single payment event as consumed from the inbound topic.
// It is immutable once received; validity of individual fields (amount sign,
// currency length) is a rule concern, not a parsing concern.
type Transaction struct {
	TransactionID string    `json:"transactionId"`
	UserID        string    `json:"userId"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	MerchantID    string    `json:"merchantId"`
	Timestamp     string    `json:"timestamp"` // ISO-8601, may be absent or garbage
	Location      *Location `json:"location,omitempty"`
	Device        *Device   `json:"device,omitempty"`
}

// OccurredAt parses the transaction timestamp. The second return is false
// when the field is empty or unparseable; callers degrade to "no signal".
func (t *Transaction) OccurredAt() (time.Time, bool) {
	if t.Timestamp == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, t.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// HasCoordinates reports whether the transaction carries a usable location.
func (t *Transaction) HasCoordinates() bool {
	return t.Location != nil && t.Location.Lat != nil && t.Location.Lon != nil
}
