// Package httpapi exposes the admin and farmer REST surfaces.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/AquaGrid-Network/allocation_layer/internal/app/faults"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/metrics"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/services/approval"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/services/decision"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/services/registry"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	approvals *approval.Service
	decisions *decision.Service
	farmers   *registry.Service
}

// NewHandler returns a router exposing the REST API. Farmer resources sit
// behind bearer-token auth; the admin surface is expected to be fronted by
// the deployment's own access control.
func NewHandler(approvals *approval.Service, decisions *decision.Service, farmers *registry.Service) http.Handler {
	h := &handler{approvals: approvals, decisions: decisions, farmers: farmers}

	r := mux.NewRouter()
	r.Use(instrument)

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/allocations/pending", h.pendingAllocations).Methods(http.MethodGet)
	admin.HandleFunc("/allocations/approved", h.approvedAllocations).Methods(http.MethodGet)
	admin.HandleFunc("/allocations/{id}", h.getAllocation).Methods(http.MethodGet)
	admin.HandleFunc("/allocations/{id}/approve", h.approveAllocation).Methods(http.MethodPost)
	admin.HandleFunc("/allocations/{id}/reject", h.rejectAllocation).Methods(http.MethodPost)
	admin.HandleFunc("/topups/pending", h.pendingTopUps).Methods(http.MethodGet)
	admin.HandleFunc("/topups/{id}/approve", h.approveTopUp).Methods(http.MethodPost)
	admin.HandleFunc("/topups/{id}/reject", h.rejectTopUp).Methods(http.MethodPost)
	admin.HandleFunc("/sensors/live", h.liveSensors).Methods(http.MethodGet)
	admin.HandleFunc("/decisions/last", h.lastDecision).Methods(http.MethodGet)
	admin.HandleFunc("/farmers", h.listFarmers).Methods(http.MethodGet)

	r.HandleFunc("/farmers/register", h.register).Methods(http.MethodPost)
	r.HandleFunc("/farmers/login", h.login).Methods(http.MethodPost)

	me := r.PathPrefix("/farmers/me").Subrouter()
	me.Use(h.requireFarmer)
	me.HandleFunc("", h.profile).Methods(http.MethodGet)
	me.HandleFunc("/allocations", h.myAllocations).Methods(http.MethodGet)
	me.HandleFunc("/topups", h.requestTopUp).Methods(http.MethodPost)

	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Admin surface ----------------------------------------------------------

func (h *handler) pendingAllocations(w http.ResponseWriter, r *http.Request) {
	records, err := h.approvals.ListPendingAllocations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *handler) approvedAllocations(w http.ResponseWriter, r *http.Request) {
	records, err := h.approvals.ListApproved(r.Context(), r.URL.Query().Get("farmerId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *handler) getAllocation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.approvals.GetAllocation(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeFaulted(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) approveAllocation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.approvals.ApproveAllocation(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeFaulted(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) rejectAllocation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.approvals.RejectAllocation(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeFaulted(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) pendingTopUps(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.approvals.ListPendingTopUps(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (h *handler) approveTopUp(w http.ResponseWriter, r *http.Request) {
	req, err := h.approvals.ApproveTopUp(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeFaulted(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *handler) rejectTopUp(w http.ResponseWriter, r *http.Request) {
	req, err := h.approvals.RejectTopUp(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeFaulted(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *handler) liveSensors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.decisions.LiveReadings())
}

func (h *handler) lastDecision(w http.ResponseWriter, _ *http.Request) {
	preview, ok := h.decisions.LastDecision()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no decision recorded yet"))
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (h *handler) listFarmers(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.farmers.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

// Farmer surface ---------------------------------------------------------

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name     string  `json:"name"`
		Phone    string  `json:"phone"`
		Email    string  `json:"email"`
		Password string  `json:"password"`
		Zone     string  `json:"zone"`
		LandSize float64 `json:"landSize"`
		CropType string  `json:"cropType"`
		PH       float64 `json:"ph"`
		SoilType string  `json:"soilType"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	profile, err := h.farmers.Register(r.Context(), registry.Registration{
		Name:     payload.Name,
		Phone:    payload.Phone,
		Email:    payload.Email,
		Password: payload.Password,
		Zone:     payload.Zone,
		LandSize: payload.LandSize,
		CropType: payload.CropType,
		PH:       payload.PH,
		SoilType: payload.SoilType,
	})
	if err != nil {
		writeFaulted(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		FarmerID string `json:"farmerId"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	token, profile, err := h.farmers.Login(r.Context(), payload.FarmerID, payload.Password)
	if err != nil {
		if errors.Is(err, faults.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "farmer": profile})
}

func (h *handler) profile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.farmers.Lookup(r.Context(), farmerFromContext(r))
	if err != nil {
		writeFaulted(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *handler) myAllocations(w http.ResponseWriter, r *http.Request) {
	records, err := h.approvals.ListAllocationsByFarmer(r.Context(), farmerFromContext(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *handler) requestTopUp(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		BaseAllocationID string  `json:"baseAllocationId"`
		RequestedVolume  float64 `json:"requestedVolume"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	req, err := h.approvals.CreateTopUp(r.Context(), farmerFromContext(r), payload.BaseAllocationID, payload.RequestedVolume)
	if err != nil {
		writeFaulted(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// Helpers ----------------------------------------------------------------

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.Instrument(route, next).ServeHTTP(w, r)
	})
}

// writeFaulted maps domain sentinel errors onto HTTP statuses.
func writeFaulted(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, faults.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	// Post-commit conflicts also wrap the store's conflict sentinel, so this
	// case must run before the plain conflict mapping.
	case errors.Is(err, faults.ErrPostCommitConflict):
		writeError(w, http.StatusInternalServerError, err)
	case errors.Is(err, faults.ErrInvalidState), errors.Is(err, faults.ErrConflict):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, faults.ErrLedgerUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, faults.ErrLedgerRejected):
		writeError(w, http.StatusBadGateway, err)
	case errors.Is(err, faults.ErrInference):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
