package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"qhome-metering/internal/auth"
	masterdata "qhome-metering/internal/masterdata/domain"
)

// BuildingHandler serves building lookups under /api/buildings. Single
// building routes enforce tenant ownership.
type BuildingHandler struct {
	buildings masterdata.BuildingRepository
	units     masterdata.UnitRepository
	tenants   auth.BuildingTenantChecker
}

// NewBuildingHandler constructs a handler.
func NewBuildingHandler(buildings masterdata.BuildingRepository, units masterdata.UnitRepository, tenants auth.BuildingTenantChecker) (*BuildingHandler, error) {
	if buildings == nil {
		return nil, errors.New("building handler: nil building repo")
	}
	if units == nil {
		return nil, errors.New("building handler: nil unit repo")
	}
	return &BuildingHandler{buildings: buildings, units: units, tenants: tenants}, nil
}

// ServeHTTP routes building requests.
func (h *BuildingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := r.URL.Path
	if path == "/api/buildings" {
		h.handleList(w, r)
		return
	}
	if strings.HasPrefix(path, "/api/buildings/") {
		rest := strings.TrimPrefix(path, "/api/buildings/")
		parts := strings.Split(rest, "/")
		id := parts[0]
		if id == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if !h.ensureTenant(w, r, id) {
			return
		}
		switch {
		case len(parts) == 1:
			h.handleGet(w, r, id)
		case len(parts) == 2 && parts[1] == "units":
			h.handleUnits(w, r, id)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *BuildingHandler) ensureTenant(w http.ResponseWriter, r *http.Request, buildingID string) bool {
	if h.tenants == nil {
		return true
	}
	tenantID := auth.TenantIDFromContext(r.Context())
	err := h.tenants.EnsureBuildingTenant(r.Context(), tenantID, buildingID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, auth.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, auth.ErrTenantMismatch):
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		http.Error(w, "building lookup failed", http.StatusInternalServerError)
	}
	return false
}

func (h *BuildingHandler) handleList(w http.ResponseWriter, r *http.Request) {
	buildings, err := h.buildings.List(r.Context())
	if err != nil {
		http.Error(w, "building lookup failed", http.StatusInternalServerError)
		return
	}
	if buildings == nil {
		buildings = []masterdata.Building{}
	}
	respond(w, buildings)
}

func (h *BuildingHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	building, err := h.buildings.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "building lookup failed", http.StatusInternalServerError)
		return
	}
	if building == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	respond(w, building)
}

func (h *BuildingHandler) handleUnits(w http.ResponseWriter, r *http.Request, id string) {
	units, err := h.units.ListByBuilding(r.Context(), id)
	if err != nil {
		http.Error(w, "unit lookup failed", http.StatusInternalServerError)
		return
	}
	if units == nil {
		units = []masterdata.Unit{}
	}
	respond(w, units)
}

func respond(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
