package models

import "time"

type FilterMode string

const (
	FilterModeActive FilterMode = "active"
	FilterModeRecent FilterMode = "recent"
)

// Event is a single carrier scan. Events of a delivery are ordered newest first.
type Event struct {
	Event    string `json:"event"`
	Location string `json:"location,omitempty"`
	Date     string `json:"date"`
}

// DeliveryRecord is one tracked package as reported by a single refresh cycle.
// TrackingNumber is its identity across cycles.
type DeliveryRecord struct {
	TrackingNumber string     `json:"tracking_number"`
	CarrierCode    string     `json:"carrier_code"`
	Description    string     `json:"description"`
	StatusCode     StatusCode `json:"status_code"`
	DateExpected   string     `json:"date_expected,omitempty"`
	ExpectedAt     *time.Time `json:"expected_at,omitempty"`
	Events         []Event    `json:"events"`
}

// LatestEvent returns the newest event, if any.
func (d DeliveryRecord) LatestEvent() (Event, bool) {
	if len(d.Events) == 0 {
		return Event{}, false
	}
	return d.Events[0], true
}

// Clone returns a deep copy that shares no memory with d.
func (d DeliveryRecord) Clone() DeliveryRecord {
	c := d
	if d.ExpectedAt != nil {
		t := *d.ExpectedAt
		c.ExpectedAt = &t
	}
	if d.Events != nil {
		c.Events = make([]Event, len(d.Events))
		copy(c.Events, d.Events)
	}
	return c
}

// CloneDeliveries deep copies a slice of records.
func CloneDeliveries(ds []DeliveryRecord) []DeliveryRecord {
	if ds == nil {
		return nil
	}
	out := make([]DeliveryRecord, len(ds))
	for i, d := range ds {
		out[i] = d.Clone()
	}
	return out
}
