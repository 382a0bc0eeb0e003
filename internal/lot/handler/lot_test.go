package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stocktrace/stocktrace-backend/internal/lot/handler"
	"github.com/stocktrace/stocktrace-backend/internal/lot/repository"
	"github.com/stocktrace/stocktrace-backend/internal/lot/service"
	"github.com/stocktrace/stocktrace-backend/pkg/httputil"
	"github.com/stocktrace/stocktrace-backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	router   chi.Router
	lots     *repository.MemoryLotStore
	sessions *repository.MemorySessionStore
}

func newTestEnv() *testEnv {
	lots := repository.NewMemoryLotStore()
	sessions := repository.NewMemorySessionStore()
	log := logger.New("handler-test", "test")

	lotService := service.NewLotService(lots, sessions, nil, nil, log)
	sessionService := service.NewSessionService(lots, sessions, nil, nil, log)

	lotHandler := handler.NewLotHandler(lotService, log)
	sessionHandler := handler.NewSessionHandler(sessionService, log)

	r := chi.NewRouter()
	r.Use(httputil.ActorMiddleware)
	r.Route("/api/v1/lots", func(r chi.Router) {
		r.Get("/", lotHandler.List)
		r.Post("/", lotHandler.Create)
		r.Get("/expiring", lotHandler.ListExpiring)
		r.Post("/allocation", lotHandler.SuggestAllocation)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", lotHandler.Get)
			r.Post("/move", lotHandler.Move)
			r.Post("/block", lotHandler.Block)
			r.Post("/split", lotHandler.Split)
			r.Post("/consume", lotHandler.Consume)
		})
	})
	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Post("/", sessionHandler.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Post("/locations/{locationId}/scan", sessionHandler.Scan)
			r.Get("/reconciliation", sessionHandler.Reconciliation)
			r.Post("/finalize", sessionHandler.Finalize)
		})
	})

	return &testEnv{router: r, lots: lots, sessions: sessions}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Name", "test operator")

	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.True(t, resp.Success, "expected success response, body: %s", rr.Body.String())
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "expected object data, body: %s", rr.Body.String())
	return data
}

func createLotViaAPI(t *testing.T, env *testEnv, material string, quantity float64, location string) string {
	t.Helper()
	rr := env.do(t, "POST", "/api/v1/lots", map[string]interface{}{
		"kind":          "raw_material",
		"material_name": material,
		"quantity":      quantity,
		"location":      location,
		"batch_number":  "B-100",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	data := decodeData(t, rr)
	id, _ := data["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestCreateLotEndpoint(t *testing.T) {
	env := newTestEnv()

	rr := env.do(t, "POST", "/api/v1/lots", map[string]interface{}{
		"kind":          "raw_material",
		"material_name": "wheat flour T550",
		"quantity":      500.0,
		"location":      "MS01",
		"expiry_date":   "2027-03-01",
		"batch_number":  "B-2026-042",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	data := decodeData(t, rr)
	assert.Equal(t, "wheat flour T550", data["material_name"])
	assert.Equal(t, 500.0, data["quantity"])
	assert.Equal(t, "available", data["status"])
	assert.Len(t, data["id"], 18)
	assert.Contains(t, data["display_code"], "RAW-")

	block, ok := data["block_state"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, block["is_blocked"])
}

func TestCreateLotEndpoint_RejectsBadKind(t *testing.T) {
	env := newTestEnv()

	rr := env.do(t, "POST", "/api/v1/lots", map[string]interface{}{
		"kind":          "mystery",
		"material_name": "wheat flour T550",
		"quantity":      500.0,
		"location":      "MS01",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMoveEndpoint(t *testing.T) {
	env := newTestEnv()
	id := createLotViaAPI(t, env, "wheat flour T550", 500, "MS01")

	rr := env.do(t, "POST", "/api/v1/lots/"+id+"/move", map[string]interface{}{
		"target_location": "PS02",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	data := decodeData(t, rr)
	assert.Equal(t, "PS02", data["current_location"])
}

func TestMoveEndpoint_BlockedLotRejected(t *testing.T) {
	env := newTestEnv()
	id := createLotViaAPI(t, env, "wheat flour T550", 500, "MS01")

	rr := env.do(t, "POST", "/api/v1/lots/"+id+"/block", map[string]interface{}{
		"reason": "QA hold",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.do(t, "POST", "/api/v1/lots/"+id+"/move", map[string]interface{}{
		"target_location": "PS02",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
}

func TestSplitEndpoint(t *testing.T) {
	env := newTestEnv()
	id := createLotViaAPI(t, env, "rye flour R1150", 1000, "MS01")

	rr := env.do(t, "POST", "/api/v1/lots/"+id+"/split", map[string]interface{}{
		"quantities": []float64{300, 200},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	data := decodeData(t, rr)
	newLots, ok := data["new_lots"].([]interface{})
	require.True(t, ok)
	assert.Len(t, newLots, 2)
	assert.Equal(t, false, data["source_consumed"])

	source, ok := data["source"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 500.0, source["quantity"])
}

func TestConsumeEndpoint_InsufficientQuantity(t *testing.T) {
	env := newTestEnv()
	id := createLotViaAPI(t, env, "rye flour R1150", 100, "MS01")

	rr := env.do(t, "POST", "/api/v1/lots/"+id+"/consume", map[string]interface{}{
		"amount":  250.0,
		"context": "order 42",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
}

func TestAllocationEndpoint(t *testing.T) {
	env := newTestEnv()
	createLotViaAPI(t, env, "spelt flour", 400, "MS01")
	createLotViaAPI(t, env, "spelt flour", 400, "MS02")

	rr := env.do(t, "POST", "/api/v1/lots/allocation", map[string]interface{}{
		"material_name": "spelt flour",
		"needed":        600.0,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	data := decodeData(t, rr)
	suggestions, ok := data["suggestions"].([]interface{})
	require.True(t, ok)
	assert.Len(t, suggestions, 2)
	assert.Equal(t, 800.0, data["covered"])
	assert.Equal(t, 0.0, data["shortfall"])
}

func TestSessionFlowOverHTTP(t *testing.T) {
	env := newTestEnv()
	lotID := createLotViaAPI(t, env, "wheat flour T550", 500, "A01")

	rr := env.do(t, "POST", "/api/v1/sessions", map[string]interface{}{
		"name":      "March count",
		"locations": []string{"A01"},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	sessionID, _ := decodeData(t, rr)["id"].(string)
	require.NotEmpty(t, sessionID)

	// Counting a location under inventory blocks moves out of it.
	rr = env.do(t, "POST", "/api/v1/lots/"+lotID+"/move", map[string]interface{}{
		"target_location": "B01",
	})
	assert.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())

	rr = env.do(t, "POST", "/api/v1/sessions/"+sessionID+"/locations/A01/scan", map[string]interface{}{
		"lot_id":           lotID,
		"counted_quantity": 500.0,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.do(t, "GET", "/api/v1/sessions/"+sessionID+"/reconciliation", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	report := decodeData(t, rr)
	matches, _ := report["matches"].([]interface{})
	assert.Len(t, matches, 1)
	discrepancies, _ := report["discrepancies"].([]interface{})
	assert.Empty(t, discrepancies)

	rr = env.do(t, "POST", "/api/v1/sessions/"+sessionID+"/finalize", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// Lock is lifted once the session completes.
	rr = env.do(t, "POST", "/api/v1/lots/"+lotID+"/move", map[string]interface{}{
		"target_location": "B01",
	})
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}
