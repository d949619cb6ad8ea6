package client

import (
	"context"
	"errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"net/http"
	"net/http/httptest"
	"parcel-tracking-service/config"
	"parcel-tracking-service/metrics"
	"parcel-tracking-service/workers/parcel/models"
	"sync/atomic"
	"testing"
	"time"
)

const (
	testApiKey = "test-api-key"

	outForDeliveryBody = `{"success": true, "deliveries": [{"tracking_number":"T1","status_code":4,"events":[{"event":"Out for delivery","location":"Depot A","date":"2024-01-01"}]}]}`
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := NewClient(config.ParcelApiConfig{
		Endpoint:       server.URL + "/external/deliveries/",
		ApiKey:         testApiKey,
		RequestTimeout: time.Second,
	}, zap.NewNop())
	return c, server
}

func TestFetch_Success(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/external/deliveries/", r.URL.Path)
		assert.Equal(t, "active", r.URL.Query().Get("filter_mode"))
		assert.Equal(t, testApiKey, r.Header.Get("api-key"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))

		_, _ = w.Write([]byte(outForDeliveryBody))
	})

	records, err := c.Fetch(context.Background(), models.FilterModeActive)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "T1", r.TrackingNumber)
	assert.Equal(t, models.StatusOutForDelivery, r.StatusCode)
	assert.Equal(t, "Out for Delivery", r.StatusCode.String())

	latest, ok := r.LatestEvent()
	require.True(t, ok)
	assert.Equal(t, models.Event{Event: "Out for delivery", Location: "Depot A", Date: "2024-01-01"}, latest)
}

func TestFetch_NormalisesExpectedTimestamp(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"deliveries":[{"tracking_number":"T2","carrier_code":"ups","description":"Shoes","status_code":2,"date_expected":"2024-01-05","timestamp_expected":1704412800,"events":[]}]}`))
	})

	records, err := c.Fetch(context.Background(), models.FilterModeRecent)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "2024-01-05", r.DateExpected)
	require.NotNil(t, r.ExpectedAt)
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), *r.ExpectedAt)
	assert.Empty(t, r.Events)
}

func TestFetch_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		body       string
		apiMessage string
		apiStatus  int
		transport  string
	}{
		{
			name:       "success false with message",
			status:     http.StatusOK,
			body:       `{"success": false, "error_message":"bad key"}`,
			apiMessage: "bad key",
			apiStatus:  http.StatusOK,
		},
		{
			name:       "success false without message",
			status:     http.StatusOK,
			body:       `{"success": false}`,
			apiMessage: "Unknown error",
			apiStatus:  http.StatusOK,
		},
		{
			name:       "error envelope on 401",
			status:     http.StatusUnauthorized,
			body:       `{"success": false, "error_message":"invalid api key"}`,
			apiMessage: "invalid api key",
			apiStatus:  http.StatusUnauthorized,
		},
		{
			name:      "plain 500",
			status:    http.StatusInternalServerError,
			body:      "Internal Server Error",
			transport: "request",
		},
		{
			name:      "rate limited without envelope",
			status:    http.StatusTooManyRequests,
			body:      "slow down",
			transport: "request",
		},
		{
			name:      "malformed json",
			status:    http.StatusOK,
			body:      `{"success": true, "deliveries": [`,
			transport: "decode",
		},
		{
			name:      "delivery without tracking number",
			status:    http.StatusOK,
			body:      `{"success": true, "deliveries": [{"status_code": 2}]}`,
			transport: "decode",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			records, err := c.Fetch(context.Background(), models.FilterModeActive)
			require.Error(t, err)
			assert.Nil(t, records)

			if tt.apiMessage != "" {
				var apiErr *APIError
				require.True(t, errors.As(err, &apiErr), "expected APIError, got %T", err)
				assert.Equal(t, tt.apiMessage, apiErr.Message)
				assert.Equal(t, tt.apiStatus, apiErr.StatusCode)
				return
			}

			var transportErr *TransportError
			require.True(t, errors.As(err, &transportErr), "expected TransportError, got %T", err)
			assert.Equal(t, tt.transport, transportErr.Op)
		})
	}
}

func TestFetch_TimeoutIsTransportError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
		_, _ = w.Write([]byte(outForDeliveryBody))
	}))
	t.Cleanup(server.Close)

	c := NewClient(config.ParcelApiConfig{
		Endpoint:       server.URL,
		ApiKey:         testApiKey,
		RequestTimeout: 50 * time.Millisecond,
	}, zap.NewNop())

	_, err := c.Fetch(context.Background(), models.FilterModeActive)

	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.True(t, transportErr.Timeout())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetch_UnreachableHost(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := server.URL
	server.Close()

	c := NewClient(config.ParcelApiConfig{Endpoint: endpoint, ApiKey: testApiKey}, zap.NewNop())
	_, err := c.Fetch(context.Background(), models.FilterModeActive)

	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, "request", transportErr.Op)
	assert.False(t, transportErr.Timeout())
}

func TestFetchAll_MergesModesInOrder(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Query().Get("filter_mode") {
		case "active":
			_, _ = w.Write([]byte(`{"success":true,"deliveries":[{"tracking_number":"A1","status_code":2,"events":[]},{"tracking_number":"SHARED","description":"from active","status_code":4,"events":[]}]}`))
		case "recent":
			_, _ = w.Write([]byte(`{"success":true,"deliveries":[{"tracking_number":"SHARED","description":"from recent","status_code":0,"events":[]},{"tracking_number":"R1","status_code":0,"events":[]}]}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	records, err := c.FetchAll(context.Background(), models.FilterModeActive, models.FilterModeRecent)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	require.Len(t, records, 3)
	assert.Equal(t, "A1", records[0].TrackingNumber)
	assert.Equal(t, "SHARED", records[1].TrackingNumber)
	assert.Equal(t, "from active", records[1].Description)
	assert.Equal(t, "R1", records[2].TrackingNumber)
}

func TestFetchAll_AnyFailureFailsCycle(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("filter_mode") == "recent" {
			_, _ = w.Write([]byte(`{"success": false, "error_message":"rate limited"}`))
			return
		}
		_, _ = w.Write([]byte(outForDeliveryBody))
	})

	records, err := c.FetchAll(context.Background(), models.FilterModeActive, models.FilterModeRecent)
	assert.Nil(t, records)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "rate limited", apiErr.Message)
}

func TestFetchAll_EmptyIsNotNil(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success": true, "deliveries": []}`))
	})

	records, err := c.FetchAll(context.Background(), models.FilterModeActive)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestFetch_CountsRequestsByOutcome(t *testing.T) {
	// Not parallel: reads the shared request counter.
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("filter_mode") == "recent" {
			_, _ = w.Write([]byte(`{"success": false, "error_message":"bad key"}`))
			return
		}
		_, _ = w.Write([]byte(outForDeliveryBody))
	})

	okBefore := testutil.ToFloat64(metrics.ApiRequestsTotal.WithLabelValues("active", "ok"))
	apiBefore := testutil.ToFloat64(metrics.ApiRequestsTotal.WithLabelValues("recent", "api_error"))

	_, _ = c.Fetch(context.Background(), models.FilterModeActive)
	_, _ = c.Fetch(context.Background(), models.FilterModeRecent)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(metrics.ApiRequestsTotal.WithLabelValues("active", "ok")))
	assert.Equal(t, apiBefore+1, testutil.ToFloat64(metrics.ApiRequestsTotal.WithLabelValues("recent", "api_error")))
}

func TestFetch_MissingStatusCodeIsNotFound(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"deliveries":[{"tracking_number":"T3","events":[]}]}`))
	})

	records, err := c.Fetch(context.Background(), models.FilterModeActive)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.StatusNotFound, records[0].StatusCode)
}
