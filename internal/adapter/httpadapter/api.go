package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/couchcryptid/wildfire-risk-engine/internal/alert"
	"github.com/couchcryptid/wildfire-risk-engine/internal/domain"
	"github.com/couchcryptid/wildfire-risk-engine/internal/engine"
	"github.com/couchcryptid/wildfire-risk-engine/internal/geo"
	"github.com/couchcryptid/wildfire-risk-engine/internal/spread"
	"github.com/couchcryptid/wildfire-risk-engine/internal/zone"
)

const maxBodyBytes = 1 << 20

// errBadRequest marks malformed query parameters and bodies.
var errBadRequest = errors.New("bad request")

// Service is the slice of the engine the API serves.
type Service interface {
	UpsertObservation(ctx context.Context, obs domain.Observation) (domain.RiskZone, error)
	QueryZone(lat, lon, tolerance float64) (domain.RiskZone, error)
	QueryZones(f zone.Filter) []domain.RiskZone
	ZonesInBox(b geo.BoundingBox) ([]domain.RiskZone, error)
	GetZone(id string) (domain.RiskZone, error)
	ForecastSpread(ctx context.Context, zoneID string, horizonHours, stepHours int) (spread.Forecast, error)
	ListAlerts(ctx context.Context, subscriberID string, filter domain.AlertFilter, offset, limit int) ([]domain.Alert, error)
	GetAlert(ctx context.Context, subscriberID, alertID string) (domain.Alert, error)
	MarkAlertRead(ctx context.Context, alertID string) (domain.Alert, error)
	MarkAllAlertsRead(ctx context.Context, subscriberID string) (int, error)
	Redeliver(ctx context.Context, alertID string) ([]domain.Channel, error)
	FailedDeliveries(ctx context.Context, limit int) ([]domain.Alert, error)
	RegisterSubscriber(sub domain.Subscriber) error
}

// API maps HTTP requests onto the engine's operations.
type API struct {
	svc      Service
	validate *validator.Validate
	logger   *slog.Logger
}

// NewAPI returns an API backed by svc.
func NewAPI(svc Service, logger *slog.Logger) *API {
	return &API{svc: svc, validate: validator.New(), logger: logger}
}

// Register mounts the API routes on r.
func (a *API) Register(r chi.Router) {
	r.Post("/observations", a.handleUpsertObservation)

	r.Route("/zones", func(r chi.Router) {
		r.Get("/", a.handleQueryZones)
		r.Get("/by-coordinates", a.handleQueryZone)
		r.Get("/in-box", a.handleZonesInBox)
		r.Get("/{zoneID}", a.handleGetZone)
		r.Post("/{zoneID}/spread", a.handleForecastSpread)
	})

	r.Route("/subscribers/{subscriberID}", func(r chi.Router) {
		r.Put("/", a.handleRegisterSubscriber)
		r.Get("/alerts", a.handleListAlerts)
		r.Post("/alerts/read-all", a.handleMarkAllRead)
		r.Get("/alerts/{alertID}", a.handleGetAlert)
	})

	r.Route("/alerts", func(r chi.Router) {
		r.Get("/failed", a.handleFailedDeliveries)
		r.Post("/{alertID}/read", a.handleMarkRead)
		r.Post("/{alertID}/redeliver", a.handleRedeliver)
	})
}

type observationRequest struct {
	Latitude      *float64   `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude     *float64   `json:"longitude" validate:"required,gte=-180,lte=180"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
	Temperature   *float64   `json:"temperature,omitempty"`
	Humidity      *float64   `json:"humidity,omitempty" validate:"omitempty,gte=0,lte=100"`
	WindSpeed     *float64   `json:"wind_speed,omitempty" validate:"omitempty,gte=0"`
	WindDirection *float64   `json:"wind_direction,omitempty"`
	DrynessIndex  *float64   `json:"dryness_index,omitempty" validate:"omitempty,gte=0"`
	Source        string     `json:"source" validate:"max=128"`
	RegionName    string     `json:"region_name,omitempty" validate:"max=256"`
}

func (req observationRequest) observation() domain.Observation {
	obs := domain.Observation{
		Latitude:      *req.Latitude,
		Longitude:     *req.Longitude,
		Temperature:   req.Temperature,
		Humidity:      req.Humidity,
		WindSpeed:     req.WindSpeed,
		WindDirection: req.WindDirection,
		DrynessIndex:  req.DrynessIndex,
		Source:        req.Source,
		RegionName:    req.RegionName,
	}
	if req.Timestamp != nil {
		obs.Timestamp = req.Timestamp.UTC()
	}
	return obs
}

type spreadRequest struct {
	HorizonHours int `json:"horizon_hours"`
	StepHours    int `json:"step_hours"`
}

type subscriberRequest struct {
	Latitude       *float64         `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude      *float64         `json:"longitude" validate:"required,gte=-180,lte=180"`
	AlertThreshold *float64         `json:"alert_threshold" validate:"required,gte=0,lte=1"`
	Channels       []domain.Channel `json:"channels" validate:"dive,oneof=app email sms"`
}

func (a *API) handleUpsertObservation(w http.ResponseWriter, r *http.Request) {
	var req observationRequest
	if err := a.decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	z, err := a.svc.UpsertObservation(r.Context(), req.observation())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, z)
}

func (a *API) handleQueryZones(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f zone.Filter
	var err error
	if f.MinRisk, err = optionalFloat(q.Get("min_risk_level"), "min_risk_level"); err != nil {
		a.writeError(w, r, err)
		return
	}
	if f.MaxRisk, err = optionalFloat(q.Get("max_risk_level"), "max_risk_level"); err != nil {
		a.writeError(w, r, err)
		return
	}
	if c := q.Get("category"); c != "" {
		cat, ok := domain.ParseRiskCategory(c)
		if !ok {
			a.writeError(w, r, fmt.Errorf("%w: unknown category %q", errBadRequest, c))
			return
		}
		f.Category = cat
	}
	f.Region = q.Get("region")
	if f.Offset, f.Limit, err = paging(q.Get("offset"), q.Get("limit")); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"zones": a.svc.QueryZones(f)})
}

func (a *API) handleQueryZone(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := requiredFloat(q.Get("latitude"), "latitude")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	lon, err := requiredFloat(q.Get("longitude"), "longitude")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var tolerance float64
	if tol, err := optionalFloat(q.Get("tolerance"), "tolerance"); err != nil {
		a.writeError(w, r, err)
		return
	} else if tol != nil {
		tolerance = *tol
	}
	z, err := a.svc.QueryZone(lat, lon, tolerance)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, z)
}

func (a *API) handleZonesInBox(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var b geo.BoundingBox
	for _, p := range []struct {
		name string
		dst  *float64
	}{
		{"min_latitude", &b.MinLat},
		{"min_longitude", &b.MinLon},
		{"max_latitude", &b.MaxLat},
		{"max_longitude", &b.MaxLon},
	} {
		v, err := requiredFloat(q.Get(p.name), p.name)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		*p.dst = v
	}
	zones, err := a.svc.ZonesInBox(b)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"zones": zones})
}

func (a *API) handleGetZone(w http.ResponseWriter, r *http.Request) {
	z, err := a.svc.GetZone(chi.URLParam(r, "zoneID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, z)
}

func (a *API) handleForecastSpread(w http.ResponseWriter, r *http.Request) {
	var req spreadRequest
	if err := a.decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	f, err := a.svc.ForecastSpread(r.Context(), chi.URLParam(r, "zoneID"), req.HorizonHours, req.StepHours)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (a *API) handleRegisterSubscriber(w http.ResponseWriter, r *http.Request) {
	var req subscriberRequest
	if err := a.decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	sub := domain.Subscriber{
		ID:             chi.URLParam(r, "subscriberID"),
		Latitude:       *req.Latitude,
		Longitude:      *req.Longitude,
		AlertThreshold: *req.AlertThreshold,
		Channels:       req.Channels,
	}
	if err := a.svc.RegisterSubscriber(sub); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, ok := domain.ParseAlertFilter(q.Get("filter"))
	if !ok {
		a.writeError(w, r, fmt.Errorf("%w: filter must be all, unread or read", errBadRequest))
		return
	}
	offset, limit, err := paging(q.Get("offset"), q.Get("limit"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	alerts, err := a.svc.ListAlerts(r.Context(), chi.URLParam(r, "subscriberID"), filter, offset, limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (a *API) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	al, err := a.svc.GetAlert(r.Context(), chi.URLParam(r, "subscriberID"), chi.URLParam(r, "alertID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, al)
}

func (a *API) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	al, err := a.svc.MarkAlertRead(r.Context(), chi.URLParam(r, "alertID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, al)
}

func (a *API) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := a.svc.MarkAllAlertsRead(r.Context(), chi.URLParam(r, "subscriberID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": n})
}

func (a *API) handleRedeliver(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "alertID")
	channels, err := a.svc.Redeliver(r.Context(), alertID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if channels == nil {
		channels = []domain.Channel{}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"alert_id": alertID, "channels": channels})
}

func (a *API) handleFailedDeliveries(w http.ResponseWriter, r *http.Request) {
	_, limit, err := paging("", r.URL.Query().Get("limit"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	alerts, err := a.svc.FailedDeliveries(r.Context(), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

// decode reads a size-capped JSON body into dst, rejecting unknown fields,
// then runs struct validation.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode body: %w", errBadRequest, err)
	}
	if err := a.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.logger.Error("api request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrZoneNotFound), errors.Is(err, domain.ErrAlertNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, domain.ErrInvalidCoordinate),
		errors.Is(err, domain.ErrInvalidHorizon),
		errors.Is(err, domain.ErrInvalidObservation),
		errors.Is(err, alert.ErrInvalidSubscriber),
		errors.Is(err, geo.ErrInvalidBoundingBox):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrReadOnlyDirectory):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requiredFloat(raw, name string) (float64, error) {
	if raw == "" {
		return 0, fmt.Errorf("%w: %s is required", errBadRequest, name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", errBadRequest, name, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s must be a finite number", errBadRequest, name)
	}
	return v, nil
}

func optionalFloat(raw, name string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := requiredFloat(raw, name)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// paging parses offset and limit. Absent values are zero, which the engine
// treats as "from the start" and "default page size".
func paging(rawOffset, rawLimit string) (offset, limit int, err error) {
	if rawOffset != "" {
		if offset, err = strconv.Atoi(rawOffset); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("%w: offset must be a non-negative integer", errBadRequest)
		}
	}
	if rawLimit != "" {
		if limit, err = strconv.Atoi(rawLimit); err != nil || limit < 0 {
			return 0, 0, fmt.Errorf("%w: limit must be a non-negative integer", errBadRequest)
		}
	}
	return offset, limit, nil
}
