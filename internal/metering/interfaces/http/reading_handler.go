package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"qhome-metering/internal/auth"
	"qhome-metering/internal/metering/application"
	metering "qhome-metering/internal/metering/domain"
)

// ReadingService is the application surface the reading handler needs.
type ReadingService interface {
	Record(ctx context.Context, tenantID string, input application.RecordReadingInput) (*metering.MeterReading, error)
	Get(ctx context.Context, id string) (*metering.MeterReading, error)
	UpdateValue(ctx context.Context, id string, value float64) (*metering.MeterReading, error)
	ListByCycle(ctx context.Context, cycleID string) ([]metering.MeterReading, error)
	ListByUnit(ctx context.Context, unitID string) ([]metering.MeterReading, error)
	ListByAssignment(ctx context.Context, assignmentID string) ([]metering.MeterReading, error)
}

// ReadingHandler serves meter readings under /api/meter-readings.
type ReadingHandler struct {
	service ReadingService
}

// NewReadingHandler constructs a handler.
func NewReadingHandler(service ReadingService) (*ReadingHandler, error) {
	if service == nil {
		return nil, errors.New("reading handler: nil service")
	}
	return &ReadingHandler{service: service}, nil
}

// ServeHTTP routes reading requests.
func (h *ReadingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/api/meter-readings" && r.Method == http.MethodGet:
		h.handleList(w, r)
	case path == "/api/meter-readings" && r.Method == http.MethodPost:
		h.handleRecord(w, r)
	case strings.HasPrefix(path, "/api/meter-readings/"):
		id := strings.TrimPrefix(path, "/api/meter-readings/")
		if id == "" || strings.Contains(id, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			h.handleGet(w, r, id)
		case http.MethodPut:
			h.handleUpdate(w, r, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *ReadingHandler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var (
		readings []metering.MeterReading
		err      error
	)
	switch {
	case query.Get("cycleId") != "":
		readings, err = h.service.ListByCycle(r.Context(), query.Get("cycleId"))
	case query.Get("unitId") != "":
		readings, err = h.service.ListByUnit(r.Context(), query.Get("unitId"))
	case query.Get("assignmentId") != "":
		readings, err = h.service.ListByAssignment(r.Context(), query.Get("assignmentId"))
	default:
		http.Error(w, "cycleId, unitId or assignmentId is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, "reading lookup failed", http.StatusInternalServerError)
		return
	}
	if readings == nil {
		readings = []metering.MeterReading{}
	}
	writeJSON(w, http.StatusOK, readings)
}

type recordReadingRequest struct {
	MeterID      string  `json:"meterId"`
	CycleID      string  `json:"cycleId"`
	AssignmentID string  `json:"assignmentId"`
	Value        float64 `json:"value"`
	ReadAt       string  `json:"readAt"`
}

func (h *ReadingHandler) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req recordReadingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.MeterID == "" || req.CycleID == "" {
		http.Error(w, "meterId and cycleId are required", http.StatusBadRequest)
		return
	}
	var readAt time.Time
	if req.ReadAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.ReadAt)
		if err != nil {
			http.Error(w, "readAt must be RFC3339", http.StatusBadRequest)
			return
		}
		readAt = parsed
	}
	tenantID := auth.TenantIDFromContext(r.Context())
	recordedBy := auth.SubjectFromContext(r.Context())
	reading, err := h.service.Record(r.Context(), tenantID, application.RecordReadingInput{
		MeterID:      req.MeterID,
		CycleID:      req.CycleID,
		AssignmentID: req.AssignmentID,
		Value:        req.Value,
		ReadAt:       readAt,
		RecordedBy:   recordedBy,
	})
	if err != nil {
		switch {
		case errors.Is(err, application.ErrDuplicateReading):
			http.Error(w, "meter already read in this cycle", http.StatusConflict)
		case errors.Is(err, application.ErrCycleNotRecordable):
			http.Error(w, "cycle does not accept readings", http.StatusConflict)
		case errors.Is(err, metering.ErrMeterNotFound):
			http.Error(w, "unknown meter", http.StatusBadRequest)
		case errors.Is(err, metering.ErrNegativeValue):
			http.Error(w, "value must be non-negative", http.StatusBadRequest)
		default:
			http.Error(w, "reading creation failed", http.StatusBadRequest)
		}
		return
	}
	writeJSON(w, http.StatusCreated, reading)
}

func (h *ReadingHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	reading, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, metering.ErrReadingNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "reading lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

type updateReadingRequest struct {
	Value float64 `json:"value"`
}

func (h *ReadingHandler) handleUpdate(w http.ResponseWriter, r *http.Request, id string) {
	var req updateReadingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	reading, err := h.service.UpdateValue(r.Context(), id, req.Value)
	if err != nil {
		switch {
		case errors.Is(err, metering.ErrReadingNotFound):
			http.Error(w, "not found", http.StatusNotFound)
		case errors.Is(err, metering.ErrNegativeValue):
			http.Error(w, "value must be non-negative", http.StatusBadRequest)
		default:
			http.Error(w, "reading update failed", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, reading)
}
