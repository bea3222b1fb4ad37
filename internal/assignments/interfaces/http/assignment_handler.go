package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"qhome-metering/internal/assignments/application"
	assignments "qhome-metering/internal/assignments/domain"
	"qhome-metering/internal/assignments/interfaces"
	"qhome-metering/internal/auth"
	cycles "qhome-metering/internal/cycles/domain"
)

// AssignmentHandler serves assignment management under
// /api/meter-reading-assignments.
type AssignmentHandler struct {
	service *application.AssignmentService
	cycles  application.CycleLookup
}

// NewAssignmentHandler constructs a handler.
func NewAssignmentHandler(service *application.AssignmentService, cycleLookup application.CycleLookup) (*AssignmentHandler, error) {
	if service == nil {
		return nil, errors.New("assignment handler: nil service")
	}
	if cycleLookup == nil {
		return nil, errors.New("assignment handler: nil cycle lookup")
	}
	return &AssignmentHandler{service: service, cycles: cycleLookup}, nil
}

// ServeHTTP routes assignment requests.
func (h *AssignmentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/api/meter-reading-assignments" && r.Method == http.MethodGet:
		h.handleList(w, r)
	case path == "/api/meter-reading-assignments" && r.Method == http.MethodPost:
		h.handleCreate(w, r)
	case strings.HasPrefix(path, "/api/meter-reading-assignments/"):
		rest := strings.TrimPrefix(path, "/api/meter-reading-assignments/")
		parts := strings.Split(rest, "/")
		id := parts[0]
		if id == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch {
		case len(parts) == 1 && r.Method == http.MethodGet:
			h.handleGet(w, r, id)
		case len(parts) == 1 && r.Method == http.MethodDelete:
			h.handleDelete(w, r, id)
		case len(parts) == 2 && parts[1] == "progress" && r.Method == http.MethodGet:
			h.handleProgress(w, r, id)
		case len(parts) == 2 && parts[1] == "complete" && r.Method == http.MethodPatch:
			h.handleComplete(w, r, id)
		case len(parts) == 2 && parts[1] == "sheet.pdf" && r.Method == http.MethodGet:
			h.handleSheet(w, r, id)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *AssignmentHandler) handleList(w http.ResponseWriter, r *http.Request) {
	cycleID := r.URL.Query().Get("cycleId")
	if cycleID == "" {
		http.Error(w, "cycleId is required", http.StatusBadRequest)
		return
	}
	list, err := h.service.ListByCycle(r.Context(), cycleID)
	if err != nil {
		http.Error(w, "assignment lookup failed", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []assignments.MeterReadingAssignment{}
	}
	writeJSON(w, http.StatusOK, list)
}

type createAssignmentRequest struct {
	CycleID    string   `json:"cycleId"`
	AssignedTo string   `json:"assignedTo"`
	BuildingID string   `json:"buildingId"`
	FloorFrom  *int     `json:"floorFrom"`
	FloorTo    *int     `json:"floorTo"`
	UnitIDs    []string `json:"unitIds"`
	Note       string   `json:"note"`
}

func (h *AssignmentHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	tenantID := auth.TenantIDFromContext(r.Context())
	createdBy := auth.SubjectFromContext(r.Context())
	assignment, err := h.service.Create(r.Context(), tenantID, application.CreateAssignmentInput{
		CycleID:    req.CycleID,
		AssignedTo: req.AssignedTo,
		Scope: assignments.Scope{
			BuildingID: req.BuildingID,
			FloorFrom:  req.FloorFrom,
			FloorTo:    req.FloorTo,
			UnitIDs:    req.UnitIDs,
		},
		Note:      req.Note,
		CreatedBy: createdBy,
	})
	if err != nil {
		switch {
		case errors.Is(err, assignments.ErrOverlappingScope):
			http.Error(w, "scope overlaps an existing assignment", http.StatusConflict)
		case errors.Is(err, cycles.ErrCycleNotAssignable), errors.Is(err, cycles.ErrOutsideCurrentMonth):
			http.Error(w, "cycle does not accept assignments", http.StatusConflict)
		case errors.Is(err, assignments.ErrScopeConflict), errors.Is(err, assignments.ErrInvalidFloorRange),
			errors.Is(err, assignments.ErrFloorRangeWithoutBuilding), errors.Is(err, assignments.ErrEmptyScope):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, application.ErrUnknownCycle):
			http.Error(w, "unknown cycle", http.StatusBadRequest)
		default:
			http.Error(w, "assignment creation failed", http.StatusBadRequest)
		}
		return
	}
	writeJSON(w, http.StatusCreated, assignment)
}

func (h *AssignmentHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	assignment, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, assignments.ErrAssignmentNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "assignment lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

func (h *AssignmentHandler) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	deletedBy := auth.SubjectFromContext(r.Context())
	if err := h.service.Delete(r.Context(), id, deletedBy); err != nil {
		switch {
		case errors.Is(err, assignments.ErrAssignmentNotFound):
			http.Error(w, "not found", http.StatusNotFound)
		case errors.Is(err, assignments.ErrAssignmentHasReadings):
			http.Error(w, "readings exist for this assignment", http.StatusConflict)
		default:
			http.Error(w, "assignment delete failed", http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AssignmentHandler) handleProgress(w http.ResponseWriter, r *http.Request, id string) {
	progress, err := h.service.Progress(r.Context(), id)
	if err != nil {
		if errors.Is(err, assignments.ErrAssignmentNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "progress lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (h *AssignmentHandler) handleComplete(w http.ResponseWriter, r *http.Request, id string) {
	completedBy := auth.SubjectFromContext(r.Context())
	progress, err := h.service.Complete(r.Context(), id, completedBy)
	if err != nil {
		switch {
		case errors.Is(err, assignments.ErrAssignmentNotFound):
			http.Error(w, "not found", http.StatusNotFound)
		case errors.Is(err, assignments.ErrAssignmentIncomplete):
			http.Error(w, "not all meters in scope are read", http.StatusConflict)
		default:
			http.Error(w, "completion failed", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (h *AssignmentHandler) handleSheet(w http.ResponseWriter, r *http.Request, id string) {
	assignment, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, assignments.ErrAssignmentNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "assignment lookup failed", http.StatusInternalServerError)
		return
	}
	cycle, err := h.cycles.Get(r.Context(), assignment.CycleID)
	if err != nil || cycle == nil {
		http.Error(w, "cycle lookup failed", http.StatusInternalServerError)
		return
	}
	units, err := h.service.ListUnits(r.Context(), id, cycle.ServiceID)
	if err != nil {
		http.Error(w, "unit lookup failed", http.StatusInternalServerError)
		return
	}
	pdf, err := interfaces.BuildAssignmentSheetPDF(assignment, cycle, units)
	if err != nil {
		http.Error(w, "sheet rendering failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="reading-sheet-`+id+`.pdf"`)
	_, _ = w.Write(pdf)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
