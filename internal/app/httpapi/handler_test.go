package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AquaGrid-Network/allocation_layer/internal/app/domain/allocation"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/domain/telemetry"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/notify"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/services/approval"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/services/decision"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/services/registry"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/storage/memory"
)

type stubGateway struct{}

func (stubGateway) CommitAllocation(_ context.Context, id, _ string, _ int64, _ time.Time) (string, error) {
	return "tx-" + id, nil
}

func (stubGateway) CommitTopUp(_ context.Context, baseID string, _ int64, _ time.Time) (string, error) {
	return "tx-topup-" + baseID, nil
}

func newStubScorers(t *testing.T) (*decision.HTTPScorer, *decision.HTTPScorer) {
	t.Helper()

	fertilitySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]float64{"fertility_score": 0.8})
	}))
	t.Cleanup(fertilitySrv.Close)
	indexSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]float64{"allocation_index": 0.5})
	}))
	t.Cleanup(indexSrv.Close)

	fertility, err := decision.NewHTTPScorer(fertilitySrv.Client(), fertilitySrv.URL, nil)
	if err != nil {
		t.Fatalf("fertility scorer: %v", err)
	}
	index, err := decision.NewHTTPScorer(indexSrv.Client(), indexSrv.URL, nil)
	if err != nil {
		t.Fatalf("index scorer: %v", err)
	}
	return fertility, index
}

func newTestHandler(t *testing.T) (http.Handler, *decision.Service, *registry.Service) {
	t.Helper()
	store := memory.New()

	fertility, index := newStubScorers(t)
	farmers := registry.New(store, []byte("test-secret"), nil)
	decisions := decision.New(store, store, fertility, index, notify.NewMemory(), nil)
	approvals := approval.New(store, store, stubGateway{}, notify.NewMemory(), "", nil)

	return NewHandler(approvals, decisions, farmers), decisions, farmers
}

func do(t *testing.T, handler http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func TestHandlerLifecycle(t *testing.T) {
	handler, decisions, _ := newTestHandler(t)

	resp := do(t, handler, http.MethodGet, "/health", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 health, got %d", resp.Code)
	}

	resp = do(t, handler, http.MethodPost, "/farmers/register", "", map[string]any{
		"name":     "Wanjiru",
		"phone":    "0711000000",
		"password": "s3cret",
		"zone":     "NORTH",
		"landSize": 10,
		"cropType": "rice",
		"ph":       6.4,
		"soilType": "loam",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 register, got %d: %s", resp.Code, resp.Body.String())
	}
	var profile map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &profile); err != nil {
		t.Fatalf("unmarshal profile: %v", err)
	}
	farmerID := profile["farmerId"].(string)

	resp = do(t, handler, http.MethodPost, "/farmers/login", "", map[string]any{
		"farmerId": farmerID,
		"password": "s3cret",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 login, got %d: %s", resp.Code, resp.Body.String())
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}

	// Drive one telemetry decision through the pipeline.
	rec, created, err := decisions.Decide(context.Background(), telemetry.Event{
		FarmerID:     farmerID,
		Temperature:  27,
		Humidity:     60,
		SoilMoisture: 30,
		Sunlight:     7,
	})
	if err != nil || !created {
		t.Fatalf("decide: created=%v err=%v", created, err)
	}

	resp = do(t, handler, http.MethodGet, "/admin/allocations/pending", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 pending, got %d", resp.Code)
	}
	var pending []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &pending); err != nil {
		t.Fatalf("unmarshal pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending allocation, got %d", len(pending))
	}

	resp = do(t, handler, http.MethodPost, "/admin/allocations/"+rec.ID+"/approve", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 approve, got %d: %s", resp.Code, resp.Body.String())
	}
	var approved map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &approved); err != nil {
		t.Fatalf("unmarshal approved: %v", err)
	}
	if approved["status"] != "APPROVED" || approved["txRef"] == "" {
		t.Fatalf("unexpected approval response: %v", approved)
	}

	// A repeat approval conflicts.
	resp = do(t, handler, http.MethodPost, "/admin/allocations/"+rec.ID+"/approve", "", nil)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 repeat approve, got %d", resp.Code)
	}

	// Farmer surface requires a token.
	resp = do(t, handler, http.MethodGet, "/farmers/me/allocations", "", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.Code)
	}

	resp = do(t, handler, http.MethodGet, "/farmers/me/allocations", login.Token, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 my allocations, got %d", resp.Code)
	}
	var mine []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &mine); err != nil {
		t.Fatalf("unmarshal my allocations: %v", err)
	}
	if len(mine) != 1 {
		t.Fatalf("expected 1 allocation, got %d", len(mine))
	}

	resp = do(t, handler, http.MethodPost, "/farmers/me/topups", login.Token, map[string]any{
		"baseAllocationId": rec.ID,
		"requestedVolume":  3.5,
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 top-up, got %d: %s", resp.Code, resp.Body.String())
	}
	var topUp map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &topUp); err != nil {
		t.Fatalf("unmarshal top-up: %v", err)
	}
	topUpID := topUp["topUpId"].(string)

	resp = do(t, handler, http.MethodPost, "/admin/topups/"+topUpID+"/approve", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 top-up approve, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = do(t, handler, http.MethodGet, fmt.Sprintf("/admin/allocations/%s", rec.ID), "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 get allocation, got %d", resp.Code)
	}
	var final map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &final); err != nil {
		t.Fatalf("unmarshal final: %v", err)
	}
	if final["totalAllocatedVolume"] != 8.5 {
		t.Fatalf("expected total 8.5 after top-up, got %v", final["totalAllocatedVolume"])
	}

	resp = do(t, handler, http.MethodGet, "/admin/sensors/live", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 live sensors, got %d", resp.Code)
	}
	resp = do(t, handler, http.MethodGet, "/admin/decisions/last", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 last decision, got %d", resp.Code)
	}

	resp = do(t, handler, http.MethodGet, "/metrics", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 metrics, got %d", resp.Code)
	}
	if resp.Body.Len() == 0 {
		t.Fatalf("expected metrics output to be non-empty")
	}
}

func TestHandlerErrorMapping(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	resp := do(t, handler, http.MethodPost, "/admin/allocations/AL_MISSING/approve", "", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown allocation, got %d", resp.Code)
	}

	resp = do(t, handler, http.MethodPost, "/farmers/login", "", map[string]any{
		"farmerId": "FARMER_GHOST_0000",
		"password": "nope",
	})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown farmer login, got %d", resp.Code)
	}

	resp = do(t, handler, http.MethodPost, "/farmers/register", "", map[string]any{
		"unknownField": true,
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.Code)
	}

	resp = do(t, handler, http.MethodGet, "/farmers/me", "garbage-token", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", resp.Code)
	}
}

// losingStore rejects the record during the approval's own transition, so the
// handler sees a conflict that follows a durable ledger write.
type losingStore struct {
	*memory.Store
}

func (s *losingStore) TransitionAllocation(ctx context.Context, id string, from, to allocation.Status, mutate func(*allocation.Record) error) (allocation.Record, error) {
	if to == allocation.StatusApproved {
		if _, err := s.Store.TransitionAllocation(ctx, id, allocation.StatusPending, allocation.StatusRejected, nil); err != nil {
			return allocation.Record{}, err
		}
	}
	return s.Store.TransitionAllocation(ctx, id, from, to, mutate)
}

func TestHandlerPostCommitConflictStatus(t *testing.T) {
	inner := memory.New()
	fertility, index := newStubScorers(t)

	farmers := registry.New(inner, []byte("test-secret"), nil)
	decisions := decision.New(inner, inner, fertility, index, notify.NewMemory(), nil)
	approvals := approval.New(&losingStore{Store: inner}, inner, stubGateway{}, notify.NewMemory(), "", nil)
	handler := NewHandler(approvals, decisions, farmers)

	if _, err := inner.CreateAllocation(context.Background(), allocation.Record{
		ID:              "AL_PC",
		FarmerID:        "FARMER_NORTH_AB12",
		Zone:            "NORTH",
		LandSize:        10,
		AllocationIndex: 0.5,
		AllocatedVolume: 5,
		Period:          "DAY",
		Status:          allocation.StatusPending,
		DecisionAt:      time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed allocation: %v", err)
	}

	// A conflict after the ledger write is a reconciliation problem, not an
	// ordinary already-resolved 409.
	resp := do(t, handler, http.MethodPost, "/admin/allocations/AL_PC/approve", "", nil)
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 post-commit conflict, got %d: %s", resp.Code, resp.Body.String())
	}

	// An ordinary stale approval still maps to 409.
	resp = do(t, handler, http.MethodPost, "/admin/allocations/AL_PC/approve", "", nil)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 resolved record, got %d: %s", resp.Code, resp.Body.String())
	}
}
