package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"qhome-metering/internal/auth"
	"qhome-metering/internal/metering/application"
	metering "qhome-metering/internal/metering/domain"
)

// MeterService is the application surface the meter handler needs.
type MeterService interface {
	Create(ctx context.Context, tenantID string, input application.CreateMeterInput) (*metering.Meter, error)
	Get(ctx context.Context, id string) (*metering.Meter, error)
	List(ctx context.Context) ([]metering.Meter, error)
	ListByUnit(ctx context.Context, unitID string) ([]metering.Meter, error)
	ListByService(ctx context.Context, serviceID string) ([]metering.Meter, error)
	ListByBuilding(ctx context.Context, buildingID string) ([]metering.Meter, error)
	Update(ctx context.Context, id string, input application.UpdateMeterInput) (*metering.Meter, error)
	Deactivate(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	ListMissing(ctx context.Context, serviceID, buildingID string) ([]metering.UnitWithoutMeter, error)
	BulkCreateMissing(ctx context.Context, tenantID, serviceID, buildingID string) (*application.BulkResult, error)
}

// MeterHandler serves meter management under /api/meters.
type MeterHandler struct {
	service MeterService
}

// NewMeterHandler constructs a handler.
func NewMeterHandler(service MeterService) (*MeterHandler, error) {
	if service == nil {
		return nil, errors.New("meter handler: nil service")
	}
	return &MeterHandler{service: service}, nil
}

// ServeHTTP routes meter requests.
func (h *MeterHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/api/meters" && r.Method == http.MethodGet:
		h.handleList(w, r)
	case path == "/api/meters" && r.Method == http.MethodPost:
		h.handleCreate(w, r)
	case path == "/api/meters/missing" && r.Method == http.MethodGet:
		h.handleMissing(w, r)
	case path == "/api/meters/missing" && r.Method == http.MethodPost:
		h.handleCreateMissing(w, r)
	case strings.HasPrefix(path, "/api/meters/unit/") && r.Method == http.MethodGet:
		h.handleListByUnit(w, r, strings.TrimPrefix(path, "/api/meters/unit/"))
	case strings.HasPrefix(path, "/api/meters/service/") && r.Method == http.MethodGet:
		h.handleListByService(w, r, strings.TrimPrefix(path, "/api/meters/service/"))
	case strings.HasPrefix(path, "/api/meters/building/") && r.Method == http.MethodGet:
		h.handleListByBuilding(w, r, strings.TrimPrefix(path, "/api/meters/building/"))
	case strings.HasPrefix(path, "/api/meters/") && strings.HasSuffix(path, "/deactivate") && r.Method == http.MethodPatch:
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/api/meters/"), "/deactivate")
		h.handleDeactivate(w, r, id)
	case strings.HasPrefix(path, "/api/meters/"):
		id := strings.TrimPrefix(path, "/api/meters/")
		if id == "" || strings.Contains(id, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			h.handleGet(w, r, id)
		case http.MethodPut:
			h.handleUpdate(w, r, id)
		case http.MethodDelete:
			h.handleDelete(w, r, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *MeterHandler) handleMissing(w http.ResponseWriter, r *http.Request) {
	serviceID := r.URL.Query().Get("serviceId")
	if serviceID == "" {
		http.Error(w, "serviceId is required", http.StatusBadRequest)
		return
	}
	units, err := h.service.ListMissing(r.Context(), serviceID, r.URL.Query().Get("buildingId"))
	if err != nil {
		http.Error(w, "missing-meter lookup failed", http.StatusInternalServerError)
		return
	}
	if units == nil {
		units = []metering.UnitWithoutMeter{}
	}
	writeJSON(w, http.StatusOK, units)
}

func (h *MeterHandler) handleCreateMissing(w http.ResponseWriter, r *http.Request) {
	serviceID := r.URL.Query().Get("serviceId")
	if serviceID == "" {
		http.Error(w, "serviceId is required", http.StatusBadRequest)
		return
	}
	tenantID := auth.TenantIDFromContext(r.Context())
	result, err := h.service.BulkCreateMissing(r.Context(), tenantID, serviceID, r.URL.Query().Get("buildingId"))
	if err != nil {
		http.Error(w, "bulk meter creation failed", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *MeterHandler) handleList(w http.ResponseWriter, r *http.Request) {
	meters, err := h.service.List(r.Context())
	if err != nil {
		http.Error(w, "meter lookup failed", http.StatusInternalServerError)
		return
	}
	writeMeters(w, meters)
}

func (h *MeterHandler) handleListByUnit(w http.ResponseWriter, r *http.Request, unitID string) {
	if unitID == "" {
		http.Error(w, "unit id is required", http.StatusBadRequest)
		return
	}
	meters, err := h.service.ListByUnit(r.Context(), unitID)
	if err != nil {
		http.Error(w, "meter lookup failed", http.StatusInternalServerError)
		return
	}
	writeMeters(w, meters)
}

func (h *MeterHandler) handleListByService(w http.ResponseWriter, r *http.Request, serviceID string) {
	if serviceID == "" {
		http.Error(w, "service id is required", http.StatusBadRequest)
		return
	}
	meters, err := h.service.ListByService(r.Context(), serviceID)
	if err != nil {
		http.Error(w, "meter lookup failed", http.StatusInternalServerError)
		return
	}
	writeMeters(w, meters)
}

func (h *MeterHandler) handleListByBuilding(w http.ResponseWriter, r *http.Request, buildingID string) {
	if buildingID == "" {
		http.Error(w, "building id is required", http.StatusBadRequest)
		return
	}
	meters, err := h.service.ListByBuilding(r.Context(), buildingID)
	if err != nil {
		http.Error(w, "meter lookup failed", http.StatusInternalServerError)
		return
	}
	writeMeters(w, meters)
}

type createMeterRequest struct {
	UnitID       string `json:"unitId"`
	ServiceID    string `json:"serviceId"`
	SerialNumber string `json:"serialNumber"`
	Source       string `json:"source"`
}

func (h *MeterHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createMeterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UnitID == "" || req.ServiceID == "" {
		http.Error(w, "unitId and serviceId are required", http.StatusBadRequest)
		return
	}
	tenantID := auth.TenantIDFromContext(r.Context())
	meter, err := h.service.Create(r.Context(), tenantID, application.CreateMeterInput{
		UnitID:       req.UnitID,
		ServiceID:    req.ServiceID,
		SerialNumber: req.SerialNumber,
		Source:       req.Source,
	})
	if err != nil {
		if errors.Is(err, metering.ErrDuplicateActiveMeter) {
			http.Error(w, "unit already has an active meter for this service", http.StatusConflict)
			return
		}
		http.Error(w, "meter creation failed", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, meter)
}

type updateMeterRequest struct {
	SerialNumber string `json:"serialNumber"`
	Source       string `json:"source"`
}

func (h *MeterHandler) handleUpdate(w http.ResponseWriter, r *http.Request, id string) {
	var req updateMeterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	meter, err := h.service.Update(r.Context(), id, application.UpdateMeterInput{
		SerialNumber: req.SerialNumber,
		Source:       req.Source,
	})
	if err != nil {
		if errors.Is(err, metering.ErrMeterNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "meter update failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, meter)
}

func (h *MeterHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	meter, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, metering.ErrMeterNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "meter lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, meter)
}

func (h *MeterHandler) handleDeactivate(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.service.Deactivate(r.Context(), id); err != nil {
		if errors.Is(err, metering.ErrMeterNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "meter deactivation failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MeterHandler) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.service.Delete(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, metering.ErrMeterNotFound):
			http.Error(w, "not found", http.StatusNotFound)
		case errors.Is(err, metering.ErrMeterHasReadings):
			http.Error(w, "meter has recorded readings, deactivate it instead", http.StatusConflict)
		default:
			http.Error(w, "meter deletion failed", http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeMeters(w http.ResponseWriter, meters []metering.Meter) {
	if meters == nil {
		meters = []metering.Meter{}
	}
	writeJSON(w, http.StatusOK, meters)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
