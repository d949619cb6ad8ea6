package client

type Event struct {
	Event    string `json:"event"`
	Location string `json:"location"`
	Date     string `json:"date"`
}

type Delivery struct {
	TrackingNumber    string  `json:"tracking_number"`
	CarrierCode       string  `json:"carrier_code"`
	Description       string  `json:"description"`
	StatusCode        *int    `json:"status_code"`
	DateExpected      string  `json:"date_expected"`
	TimestampExpected *int64  `json:"timestamp_expected"`
	Events            []Event `json:"events"`
}

type ApiResponse struct {
	Success      bool       `json:"success"`
	Deliveries   []Delivery `json:"deliveries"`
	ErrorMessage string     `json:"error_message"`
}
