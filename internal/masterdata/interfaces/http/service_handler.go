package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	masterdata "qhome-metering/internal/masterdata/domain"
)

// ServiceHandler serves billable service lookups under /api/services.
type ServiceHandler struct {
	repo masterdata.ServiceRepository
}

// NewServiceHandler constructs a handler.
func NewServiceHandler(repo masterdata.ServiceRepository) (*ServiceHandler, error) {
	if repo == nil {
		return nil, errors.New("service handler: nil repo")
	}
	return &ServiceHandler{repo: repo}, nil
}

// ServeHTTP routes service requests.
func (h *ServiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := r.URL.Path
	if path == "/api/services" {
		h.respondList(w, r, false)
		return
	}
	if path == "/api/services/active" {
		h.respondList(w, r, true)
		return
	}
	if strings.HasPrefix(path, "/api/services/code/") {
		code := strings.TrimPrefix(path, "/api/services/code/")
		svc, err := h.repo.GetByCode(r.Context(), code)
		h.respondOne(w, svc, err)
		return
	}
	if strings.HasPrefix(path, "/api/services/") {
		id := strings.TrimPrefix(path, "/api/services/")
		if id == "" || strings.Contains(id, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		svc, err := h.repo.Get(r.Context(), id)
		h.respondOne(w, svc, err)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *ServiceHandler) respondList(w http.ResponseWriter, r *http.Request, activeOnly bool) {
	var (
		services []masterdata.BillableService
		err      error
	)
	if activeOnly {
		services, err = h.repo.ListActive(r.Context())
	} else {
		services, err = h.repo.List(r.Context())
	}
	if err != nil {
		http.Error(w, "service lookup failed", http.StatusInternalServerError)
		return
	}
	if services == nil {
		services = []masterdata.BillableService{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(services)
}

func (h *ServiceHandler) respondOne(w http.ResponseWriter, svc *masterdata.BillableService, err error) {
	if err != nil {
		http.Error(w, "service lookup failed", http.StatusInternalServerError)
		return
	}
	if svc == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(svc)
}
