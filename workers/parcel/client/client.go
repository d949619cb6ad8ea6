package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"io"
	"net/http"
	"net/url"
	"parcel-tracking-service/config"
	"parcel-tracking-service/metrics"
	"parcel-tracking-service/workers/parcel/models"
	"time"
)

const (
	defaultRequestTimeout = 10 * time.Second
	maxResponseSize       = 10 << 20
	unknownErrorMessage   = "Unknown error"
)

// Client fetches deliveries from the Parcel API. It never retries; a failed
// request fails the whole call.
type Client struct {
	endpoint   string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg config.ParcelApiConfig, logger *zap.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.ApiKey,
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// FetchAll fetches every mode in order and merges the results. If any request
// fails no records are returned. A tracking number present in more than one
// view keeps the record of the first mode that reported it.
func (c *Client) FetchAll(ctx context.Context, modes ...models.FilterMode) ([]models.DeliveryRecord, error) {
	var merged []models.DeliveryRecord
	seen := make(map[string]struct{})

	for _, mode := range modes {
		records, err := c.Fetch(ctx, mode)
		if err != nil {
			return nil, err
		}

		for _, r := range records {
			if _, dup := seen[r.TrackingNumber]; dup {
				continue
			}
			seen[r.TrackingNumber] = struct{}{}
			merged = append(merged, r)
		}
	}

	if merged == nil {
		merged = []models.DeliveryRecord{}
	}
	return merged, nil
}

// Fetch requests one filter mode.
func (c *Client) Fetch(ctx context.Context, mode models.FilterMode) ([]models.DeliveryRecord, error) {
	records, err := c.fetch(ctx, mode)
	metrics.ApiRequestsTotal.WithLabelValues(string(mode), outcome(err)).Inc()
	return records, err
}

func outcome(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &apiErr):
		return "api_error"
	default:
		return "transport_error"
	}
}

func (c *Client) fetch(ctx context.Context, mode models.FilterMode) ([]models.DeliveryRecord, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, &TransportError{Op: "build request", URL: c.endpoint, Err: err}
	}

	q := u.Query()
	q.Set("filter_mode", string(mode))
	u.RawQuery = q.Encode()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &TransportError{Op: "build request", URL: u.String(), Err: err}
	}

	requestID := uuid.New().String()
	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "request", URL: u.String(), Err: err}
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &TransportError{Op: "read response", URL: u.String(), Err: err}
	}

	var apiResponse ApiResponse
	decodeErr := json.Unmarshal(body, &apiResponse)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decodeErr == nil && !apiResponse.Success && apiResponse.ErrorMessage != "" {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: apiResponse.ErrorMessage}
		}
		return nil, &TransportError{
			Op:  "request",
			URL: u.String(),
			Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 256)),
		}
	}

	if decodeErr != nil {
		return nil, &TransportError{Op: "decode", URL: u.String(), Err: fmt.Errorf("failed to decode response: %w", decodeErr)}
	}

	if !apiResponse.Success {
		msg := apiResponse.ErrorMessage
		if msg == "" {
			msg = unknownErrorMessage
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	records, err := toRecords(apiResponse.Deliveries)
	if err != nil {
		return nil, &TransportError{Op: "decode", URL: u.String(), Err: err}
	}

	c.logger.Debug("Fetched deliveries",
		zap.String("filter_mode", string(mode)),
		zap.String("request_id", requestID),
		zap.Int("count", len(records)),
	)

	return records, nil
}

var errMissingTrackingNumber = errors.New("delivery without tracking_number")

func toRecords(deliveries []Delivery) ([]models.DeliveryRecord, error) {
	records := make([]models.DeliveryRecord, 0, len(deliveries))

	for i, d := range deliveries {
		if d.TrackingNumber == "" {
			return nil, fmt.Errorf("deliveries[%d]: %w", i, errMissingTrackingNumber)
		}

		record := models.DeliveryRecord{
			TrackingNumber: d.TrackingNumber,
			CarrierCode:    d.CarrierCode,
			Description:    d.Description,
			StatusCode:     models.StatusNotFound,
			DateExpected:   d.DateExpected,
			Events:         make([]models.Event, 0, len(d.Events)),
		}

		if d.StatusCode != nil {
			record.StatusCode = models.StatusCode(*d.StatusCode)
		}

		if d.TimestampExpected != nil {
			utc := time.Unix(*d.TimestampExpected, 0).UTC()
			record.ExpectedAt = &utc
		}

		for _, e := range d.Events {
			record.Events = append(record.Events, models.Event{
				Event:    e.Event,
				Location: e.Location,
				Date:     e.Date,
			})
		}

		records = append(records, record)
	}

	return records, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
