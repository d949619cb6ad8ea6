package sensors

import (
	"parcel-tracking-service/workers/parcel/models"
	"time"
)

const (
	AttrTrackingNumber      = "tracking_number"
	AttrCarrier             = "carrier"
	AttrStatus              = "status"
	AttrDescription         = "description"
	AttrExpectedDate        = "expected_date"
	AttrLatestEvent         = "latest_event"
	AttrLatestEventLocation = "latest_event_location"
	AttrLatestEventTime     = "latest_event_time"
	AttrEvents              = "events"
)

type DeviceInfo struct {
	Identifier   string `json:"identifier"`
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
}

// Sensor is the entity view of one tracked package. UniqueID is stable for as
// long as the tracking number is reported.
type Sensor struct {
	UniqueID            string            `json:"unique_id"`
	TrackingNumber      string            `json:"tracking_number"`
	Name                string            `json:"name"`
	State               string            `json:"state"`
	Icon                string            `json:"icon"`
	StatusCode          models.StatusCode `json:"status_code"`
	Carrier             string            `json:"carrier"`
	Description         string            `json:"description"`
	ExpectedDate        string            `json:"expected_date"`
	ExpectedAt          *time.Time        `json:"expected_at,omitempty"`
	Final               bool              `json:"final"`
	LatestEvent         string            `json:"latest_event"`
	LatestEventLocation string            `json:"latest_event_location"`
	LatestEventTime     string            `json:"latest_event_time"`
	Events              []models.Event    `json:"events"`
	Available           bool              `json:"available"`
}

func UniqueID(trackingNumber string) string {
	return "parcel_" + trackingNumber
}

func newSensor(d models.DeliveryRecord) *Sensor {
	carrier := models.CarrierName(d.CarrierCode)
	return &Sensor{
		UniqueID:       UniqueID(d.TrackingNumber),
		TrackingNumber: d.TrackingNumber,
		Name:           d.Description + " (" + carrier + ")",
	}
}

// update copies the record's values into s and reports whether anything
// visible changed. The name is fixed at creation.
func (s *Sensor) update(d models.DeliveryRecord) bool {
	next := *s
	next.StatusCode = d.StatusCode
	next.State = d.StatusCode.String()
	next.Icon = d.StatusCode.Icon()
	next.Carrier = models.CarrierName(d.CarrierCode)
	next.Description = d.Description
	next.ExpectedDate = d.DateExpected
	next.Final = d.StatusCode.IsFinal()

	clone := d.Clone()
	next.ExpectedAt = clone.ExpectedAt
	next.Events = clone.Events
	next.LatestEvent, next.LatestEventLocation, next.LatestEventTime = "", "", ""

	if latest, ok := d.LatestEvent(); ok {
		next.LatestEvent = latest.Event
		next.LatestEventLocation = latest.Location
		next.LatestEventTime = latest.Date
	}

	changed := !s.sameValues(next)
	*s = next
	return changed
}

func (s *Sensor) sameValues(o Sensor) bool {
	if s.StatusCode != o.StatusCode ||
		s.Carrier != o.Carrier ||
		s.Description != o.Description ||
		s.ExpectedDate != o.ExpectedDate ||
		!sameTime(s.ExpectedAt, o.ExpectedAt) ||
		s.LatestEvent != o.LatestEvent ||
		s.LatestEventLocation != o.LatestEventLocation ||
		s.LatestEventTime != o.LatestEventTime ||
		len(s.Events) != len(o.Events) {
		return false
	}
	for i := range s.Events {
		if s.Events[i] != o.Events[i] {
			return false
		}
	}
	return true
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func (s Sensor) clone() Sensor {
	if s.ExpectedAt != nil {
		t := *s.ExpectedAt
		s.ExpectedAt = &t
	}
	if s.Events != nil {
		events := make([]models.Event, len(s.Events))
		copy(events, s.Events)
		s.Events = events
	}
	return s
}

// Attributes returns the extra state attributes of the entity.
func (s Sensor) Attributes() map[string]any {
	events := s.Events
	if events == nil {
		events = []models.Event{}
	}
	return map[string]any{
		AttrTrackingNumber:      s.TrackingNumber,
		AttrCarrier:             s.Carrier,
		AttrStatus:              s.State,
		AttrDescription:         s.Description,
		AttrExpectedDate:        s.ExpectedDate,
		AttrLatestEvent:         s.LatestEvent,
		AttrLatestEventLocation: s.LatestEventLocation,
		AttrLatestEventTime:     s.LatestEventTime,
		AttrEvents:              events,
	}
}
