package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"qhome-metering/internal/auth"
	"qhome-metering/internal/coverage"
	"qhome-metering/internal/cycles/application"
	cycles "qhome-metering/internal/cycles/domain"
)

// UnassignedResolver computes the coverage gaps of a cycle.
type UnassignedResolver interface {
	Unassigned(ctx context.Context, cycleID string, onlyWithOwner bool) (*coverage.UnassignedInfo, error)
}

// CycleHandler serves reading cycle management under /api/reading-cycles.
type CycleHandler struct {
	service  *application.CycleService
	coverage UnassignedResolver
}

// NewCycleHandler constructs a handler.
func NewCycleHandler(service *application.CycleService, coverageService UnassignedResolver) (*CycleHandler, error) {
	if service == nil {
		return nil, errors.New("cycle handler: nil service")
	}
	if coverageService == nil {
		return nil, errors.New("cycle handler: nil coverage service")
	}
	return &CycleHandler{service: service, coverage: coverageService}, nil
}

// ServeHTTP routes cycle requests.
func (h *CycleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/api/reading-cycles" && r.Method == http.MethodGet:
		h.handleList(w, r)
	case path == "/api/reading-cycles" && r.Method == http.MethodPost:
		h.handleCreate(w, r)
	case path == "/api/reading-cycles/period" && r.Method == http.MethodGet:
		h.handleListByPeriod(w, r)
	case strings.HasPrefix(path, "/api/reading-cycles/status/") && r.Method == http.MethodGet:
		h.handleListByStatus(w, r, strings.TrimPrefix(path, "/api/reading-cycles/status/"))
	case strings.HasPrefix(path, "/api/reading-cycles/"):
		rest := strings.TrimPrefix(path, "/api/reading-cycles/")
		parts := strings.Split(rest, "/")
		id := parts[0]
		if id == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch {
		case len(parts) == 1 && r.Method == http.MethodGet:
			h.handleGet(w, r, id)
		case len(parts) == 1 && r.Method == http.MethodPut:
			h.handleUpdate(w, r, id)
		case len(parts) == 1 && r.Method == http.MethodDelete:
			h.handleDelete(w, r, id)
		case len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodPatch:
			h.handleChangeStatus(w, r, id)
		case len(parts) == 2 && parts[1] == "unassigned" && r.Method == http.MethodGet:
			h.handleUnassigned(w, r, id)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *CycleHandler) handleList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	list, err := h.service.List(r.Context(), status)
	if err != nil {
		if errors.Is(err, cycles.ErrUnknownStatus) {
			http.Error(w, "unknown status", http.StatusBadRequest)
			return
		}
		http.Error(w, "cycle lookup failed", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []cycles.ReadingCycle{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *CycleHandler) handleListByStatus(w http.ResponseWriter, r *http.Request, status string) {
	if status == "" || strings.Contains(status, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	list, err := h.service.List(r.Context(), status)
	if err != nil {
		if errors.Is(err, cycles.ErrUnknownStatus) {
			http.Error(w, "unknown status", http.StatusBadRequest)
			return
		}
		http.Error(w, "cycle lookup failed", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []cycles.ReadingCycle{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *CycleHandler) handleListByPeriod(w http.ResponseWriter, r *http.Request) {
	from, err := parseDay(r.URL.Query().Get("from"))
	if err != nil {
		http.Error(w, "from must be a date", http.StatusBadRequest)
		return
	}
	to, err := parseDay(r.URL.Query().Get("to"))
	if err != nil {
		http.Error(w, "to must be a date", http.StatusBadRequest)
		return
	}
	list, err := h.service.ListByPeriod(r.Context(), from, to)
	if err != nil {
		if errors.Is(err, cycles.ErrInvalidPeriod) {
			http.Error(w, "from must not be after to", http.StatusBadRequest)
			return
		}
		http.Error(w, "cycle lookup failed", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []cycles.ReadingCycle{}
	}
	writeJSON(w, http.StatusOK, list)
}

type createCycleRequest struct {
	Name       string `json:"name"`
	ServiceID  string `json:"serviceId"`
	PeriodFrom string `json:"periodFrom"`
	PeriodTo   string `json:"periodTo"`
}

func (h *CycleHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createCycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	from, err := parseDay(req.PeriodFrom)
	if err != nil {
		http.Error(w, "periodFrom must be a date", http.StatusBadRequest)
		return
	}
	to, err := parseDay(req.PeriodTo)
	if err != nil {
		http.Error(w, "periodTo must be a date", http.StatusBadRequest)
		return
	}
	tenantID := auth.TenantIDFromContext(r.Context())
	createdBy := auth.SubjectFromContext(r.Context())
	cycle, err := h.service.Create(r.Context(), tenantID, application.CreateCycleInput{
		Name:       req.Name,
		ServiceID:  req.ServiceID,
		PeriodFrom: from,
		PeriodTo:   to,
		CreatedBy:  createdBy,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, cycle)
}

func (h *CycleHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	cycle, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, application.ErrCycleNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "cycle lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cycle)
}

type updateCycleRequest struct {
	Name       string `json:"name"`
	PeriodFrom string `json:"periodFrom"`
	PeriodTo   string `json:"periodTo"`
}

func (h *CycleHandler) handleUpdate(w http.ResponseWriter, r *http.Request, id string) {
	var req updateCycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	from, err := parseDay(req.PeriodFrom)
	if err != nil {
		http.Error(w, "periodFrom must be a date", http.StatusBadRequest)
		return
	}
	to, err := parseDay(req.PeriodTo)
	if err != nil {
		http.Error(w, "periodTo must be a date", http.StatusBadRequest)
		return
	}
	updatedBy := auth.SubjectFromContext(r.Context())
	cycle, err := h.service.Update(r.Context(), id, application.UpdateCycleInput{
		Name:       req.Name,
		PeriodFrom: from,
		PeriodTo:   to,
		UpdatedBy:  updatedBy,
	})
	if err != nil {
		if errors.Is(err, application.ErrCycleNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, cycle)
}

type changeStatusRequest struct {
	Status string `json:"status"`
}

func (h *CycleHandler) handleChangeStatus(w http.ResponseWriter, r *http.Request, id string) {
	status := r.URL.Query().Get("status")
	if status == "" {
		var req changeStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "status query parameter is required", http.StatusBadRequest)
			return
		}
		status = req.Status
	}
	changedBy := auth.SubjectFromContext(r.Context())
	cycle, err := h.service.ChangeStatus(r.Context(), id, status, changedBy)
	if err != nil {
		switch {
		case errors.Is(err, application.ErrCycleNotFound):
			http.Error(w, "not found", http.StatusNotFound)
		case errors.Is(err, cycles.ErrUnknownStatus):
			http.Error(w, "unknown status", http.StatusBadRequest)
		case errors.Is(err, cycles.ErrStatusNotAdvanceable),
			errors.Is(err, cycles.ErrTransitionNotAllowed),
			errors.Is(err, cycles.ErrOutsideCurrentMonth):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, "status change failed", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, cycle)
}

func (h *CycleHandler) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	deletedBy := auth.SubjectFromContext(r.Context())
	if err := h.service.Delete(r.Context(), id, deletedBy); err != nil {
		switch {
		case errors.Is(err, application.ErrCycleNotFound):
			http.Error(w, "not found", http.StatusNotFound)
		case errors.Is(err, application.ErrCycleHasAssignments):
			http.Error(w, "assignments exist for this cycle", http.StatusConflict)
		default:
			http.Error(w, "cycle delete failed", http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CycleHandler) handleUnassigned(w http.ResponseWriter, r *http.Request, id string) {
	// Ownerless units are excluded unless explicitly requested.
	onlyWithOwner := r.URL.Query().Get("onlyWithOwner") != "false"
	info, err := h.coverage.Unassigned(r.Context(), id, onlyWithOwner)
	if err != nil {
		if errors.Is(err, coverage.ErrUnknownCycle) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "coverage lookup failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func parseDay(value string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
