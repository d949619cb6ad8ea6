// Package sensors projects the coordinator's delivery records into sensor
// entities keyed by tracking number.
package sensors

import (
	"go.uber.org/zap"
	"parcel-tracking-service/workers/parcel/coordinator"
	"slices"
	"strings"
	"sync"
)

// Source is the part of the coordinator the projection depends on.
type Source interface {
	Subscribe(listener coordinator.Listener) func()
	Snapshot() coordinator.Snapshot
}

// Change lists the unique ids touched by one reconciliation.
type Change struct {
	Added   []string `json:"added"`
	Updated []string `json:"updated"`
	Removed []string `json:"removed"`
}

func (c Change) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

type Platform struct {
	entryID string
	device  DeviceInfo
	logger  *zap.Logger

	mu          sync.RWMutex
	sensors     map[string]*Sensor
	cycle       uint64
	unsubscribe func()
}

func NewPlatform(entryID string, logger *zap.Logger) *Platform {
	return &Platform{
		entryID: entryID,
		device: DeviceInfo{
			Identifier:   "parcel_tracker",
			Name:         "Parcel Package Tracker",
			Manufacturer: "Parcel",
			Model:        "Package Tracker",
		},
		logger:  logger.Named("sensors").With(zap.String("entry", entryID)),
		sensors: make(map[string]*Sensor),
	}
}

// Start builds the sensors from the source's current data and follows every
// later cycle.
func (p *Platform) Start(source Source) Change {
	unsubscribe := source.Subscribe(func(s coordinator.Snapshot) {
		p.Apply(s)
	})

	p.mu.Lock()
	p.unsubscribe = unsubscribe
	p.mu.Unlock()

	return p.Apply(source.Snapshot())
}

// Apply reconciles the sensors with one snapshot. Survivors keep their
// identity; a failed cycle only marks every sensor unavailable since the
// snapshot still carries the last good data. Snapshots older than the last
// applied cycle are ignored.
func (p *Platform) Apply(s coordinator.Snapshot) Change {
	var change Change
	if !s.HasData {
		return change
	}

	p.mu.Lock()
	if s.Cycle < p.cycle {
		p.mu.Unlock()
		return change
	}
	p.cycle = s.Cycle

	seen := make(map[string]struct{}, len(s.Deliveries))
	for _, d := range s.Deliveries {
		seen[d.TrackingNumber] = struct{}{}

		sensor, exists := p.sensors[d.TrackingNumber]
		if !exists {
			sensor = newSensor(d)
			sensor.update(d)
			sensor.Available = s.LastUpdateSuccess
			p.sensors[d.TrackingNumber] = sensor
			change.Added = append(change.Added, sensor.UniqueID)
			continue
		}

		changed := sensor.update(d)
		if sensor.Available != s.LastUpdateSuccess {
			sensor.Available = s.LastUpdateSuccess
			changed = true
		}
		if changed {
			change.Updated = append(change.Updated, sensor.UniqueID)
		}
	}

	for tn, sensor := range p.sensors {
		if _, ok := seen[tn]; !ok {
			delete(p.sensors, tn)
			change.Removed = append(change.Removed, sensor.UniqueID)
		}
	}

	p.mu.Unlock()

	slices.Sort(change.Added)
	slices.Sort(change.Updated)
	slices.Sort(change.Removed)

	if len(change.Added) > 0 || len(change.Removed) > 0 {
		p.logger.Info("Sensors changed",
			zap.Strings("added", change.Added),
			zap.Strings("removed", change.Removed),
		)
	}

	return change
}

// Sensors returns copies of all sensors ordered by unique id.
func (p *Platform) Sensors() []Sensor {
	p.mu.RLock()
	out := make([]Sensor, 0, len(p.sensors))
	for _, s := range p.sensors {
		out = append(out, s.clone())
	}
	p.mu.RUnlock()

	slices.SortFunc(out, func(a, b Sensor) int {
		return strings.Compare(a.UniqueID, b.UniqueID)
	})
	return out
}

func (p *Platform) Sensor(trackingNumber string) (Sensor, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s, ok := p.sensors[trackingNumber]
	if !ok {
		return Sensor{}, false
	}
	return s.clone(), true
}

func (p *Platform) Device() DeviceInfo {
	return p.device
}

// Close stops following the source. Sensors keep their last values.
func (p *Platform) Close() {
	p.mu.Lock()
	unsubscribe := p.unsubscribe
	p.unsubscribe = nil
	p.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}
