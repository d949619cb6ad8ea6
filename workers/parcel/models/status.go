package models

// StatusCode is the delivery lifecycle stage reported by the Parcel API.
type StatusCode int

const (
	StatusCompleted StatusCode = iota
	StatusFrozen
	StatusInTransit
	StatusReadyForPickup
	StatusOutForDelivery
	StatusNotFound
	StatusDeliveryAttemptFailed
	StatusException
	StatusWaitingForCarrier
)

const defaultIcon = "mdi:package-variant"

var statusLabels = map[StatusCode]string{
	StatusCompleted:             "Completed",
	StatusFrozen:                "Frozen",
	StatusInTransit:             "In Transit",
	StatusReadyForPickup:        "Ready for Pickup",
	StatusOutForDelivery:        "Out for Delivery",
	StatusNotFound:              "Not Found",
	StatusDeliveryAttemptFailed: "Delivery Attempt Failed",
	StatusException:             "Exception",
	StatusWaitingForCarrier:     "Waiting for Carrier",
}

var statusIcons = map[StatusCode]string{
	StatusCompleted:             "mdi:package-variant-closed-check",
	StatusFrozen:                "mdi:package-variant-closed-remove",
	StatusInTransit:             "mdi:truck-delivery",
	StatusReadyForPickup:        "mdi:store",
	StatusOutForDelivery:        "mdi:truck-fast",
	StatusNotFound:              "mdi:help-circle",
	StatusDeliveryAttemptFailed: "mdi:package-variant-closed-alert",
	StatusException:             "mdi:alert-circle",
	StatusWaitingForCarrier:     "mdi:package-variant-closed-clock",
}

func (s StatusCode) String() string {
	label, ok := statusLabels[s]
	if !ok {
		return "Unknown"
	}
	return label
}

func (s StatusCode) Icon() string {
	icon, ok := statusIcons[s]
	if !ok {
		return defaultIcon
	}
	return icon
}

// IsFinal reports whether no further carrier updates are expected.
func (s StatusCode) IsFinal() bool {
	return s == StatusCompleted
}
