package api

import (
	"context"
	"github.com/labstack/echo/v4"
	"net/http"
	"parcel-tracking-service/workers/parcel"
	"parcel-tracking-service/workers/parcel/coordinator"
	"parcel-tracking-service/workers/parcel/models"
	"parcel-tracking-service/workers/parcel/sensors"
	"time"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// Registry is the read and refresh surface of parcel.Registry.
type Registry interface {
	Entries() []parcel.EntryStatus
	Sensors(id string) ([]sensors.Sensor, error)
	Device(id string) (sensors.DeviceInfo, error)
	Refresh(ctx context.Context, id string) (coordinator.Result, error)
	RefreshAll(ctx context.Context) map[string]coordinator.Result
}

type HistoryReader interface {
	RecentCycles(ctx context.Context, entryID string, limit int) ([]models.RefreshCycle, error)
}

type Handler struct {
	registry Registry
	history  HistoryReader
}

func NewHandler(registry Registry, history HistoryReader) *Handler {
	return &Handler{registry: registry, history: history}
}

// --- Response types ---

type entryHealth struct {
	State             string `json:"state"`
	LastUpdateSuccess bool   `json:"last_update_success"`
	Error             string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status  string                 `json:"status"`
	Entries map[string]entryHealth `json:"entries"`
}

type sensorResponse struct {
	UniqueID   string         `json:"unique_id"`
	Name       string         `json:"name"`
	State      string         `json:"state"`
	Icon       string         `json:"icon"`
	Available  bool           `json:"available"`
	Final      bool           `json:"final"`
	ExpectedAt *time.Time     `json:"expected_at,omitempty"`
	Attributes map[string]any `json:"attributes"`
}

type sensorsResponse struct {
	Entry   string             `json:"entry"`
	Device  sensors.DeviceInfo `json:"device"`
	Sensors []sensorResponse   `json:"sensors"`
}

type refreshResponse struct {
	Entry      string `json:"entry"`
	Success    bool   `json:"success"`
	Deliveries int    `json:"deliveries"`
	Error      string `json:"error,omitempty"`
}

type historyResponse struct {
	Entry  string         `json:"entry"`
	Cycles []historyCycle `json:"cycles"`
}

type historyCycle struct {
	Cycle         uint64    `json:"cycle"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Success       bool      `json:"success"`
	Result        string    `json:"result"`
	Error         string    `json:"error,omitempty"`
	DeliveryCount int       `json:"delivery_count"`
}

// --- Handlers ---

func (h *Handler) Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Readiness is ok only when at least one entry is configured and every entry
// is loaded with a successful last update.
func (h *Handler) Readiness(c echo.Context) error {
	entries := h.registry.Entries()

	resp := readinessResponse{
		Status:  "ok",
		Entries: make(map[string]entryHealth, len(entries)),
	}
	healthy := len(entries) > 0

	for _, e := range entries {
		resp.Entries[e.ID] = entryHealth{
			State:             e.State,
			LastUpdateSuccess: e.LastUpdateSuccess,
			Error:             e.LastError,
		}
		if e.State != parcel.EntryStateLoaded || !e.LastUpdateSuccess {
			healthy = false
		}
	}

	httpStatus := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, resp)
}

func (h *Handler) ListEntries(c echo.Context) error {
	return c.JSON(http.StatusOK, h.registry.Entries())
}

func (h *Handler) ListSensors(c echo.Context) error {
	id := c.Param("id")

	list, err := h.registry.Sensors(id)
	if err != nil {
		return err
	}
	device, err := h.registry.Device(id)
	if err != nil {
		return err
	}

	resp := sensorsResponse{
		Entry:   id,
		Device:  device,
		Sensors: make([]sensorResponse, 0, len(list)),
	}
	for _, s := range list {
		resp.Sensors = append(resp.Sensors, sensorResponse{
			UniqueID:   s.UniqueID,
			Name:       s.Name,
			State:      s.State,
			Icon:       s.Icon,
			Available:  s.Available,
			Final:      s.Final,
			ExpectedAt: s.ExpectedAt,
			Attributes: s.Attributes(),
		})
	}

	return c.JSON(http.StatusOK, resp)
}

// RefreshEntry triggers an out-of-band cycle. A failed cycle answers 502
// with the upstream error.
func (h *Handler) RefreshEntry(c echo.Context) error {
	id := c.Param("id")

	res, err := h.registry.Refresh(c.Request().Context(), id)
	if err != nil {
		return err
	}

	resp := toRefreshResponse(id, res)
	if !res.OK() {
		return c.JSON(http.StatusBadGateway, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// RefreshAll refreshes every loaded entry and reports each outcome.
func (h *Handler) RefreshAll(c echo.Context) error {
	results := h.registry.RefreshAll(c.Request().Context())

	resp := make([]refreshResponse, 0, len(results))
	for _, e := range h.registry.Entries() {
		res, ok := results[e.ID]
		if !ok {
			continue
		}
		resp = append(resp, toRefreshResponse(e.ID, res))
	}

	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListHistory(c echo.Context) error {
	if h.history == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "cycle history is not configured")
	}

	id := c.Param("id")
	if !h.hasEntry(id) {
		return parcel.ErrEntryNotFound
	}

	limit := defaultHistoryLimit
	if err := echo.QueryParamsBinder(c).Int("limit", &limit).BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "limit must be an integer")
	}
	if limit <= 0 || limit > maxHistoryLimit {
		return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 100")
	}

	cycles, err := h.history.RecentCycles(c.Request().Context(), id, limit)
	if err != nil {
		return err
	}

	resp := historyResponse{Entry: id, Cycles: make([]historyCycle, 0, len(cycles))}
	for _, cy := range cycles {
		resp.Cycles = append(resp.Cycles, historyCycle{
			Cycle:         cy.Cycle,
			StartedAt:     cy.StartedAt,
			FinishedAt:    cy.FinishedAt,
			Success:       cy.Success,
			Result:        cy.Result,
			Error:         cy.ErrorMessage,
			DeliveryCount: cy.DeliveryCount,
		})
	}

	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) hasEntry(id string) bool {
	for _, e := range h.registry.Entries() {
		if e.ID == id {
			return true
		}
	}
	return false
}

func toRefreshResponse(id string, res coordinator.Result) refreshResponse {
	resp := refreshResponse{
		Entry:      id,
		Success:    res.OK(),
		Deliveries: len(res.Deliveries),
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	return resp
}
