package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderingest/core/internal/auth"
	"github.com/orderingest/core/internal/errorrepo"
	"github.com/orderingest/core/internal/feed"
	"github.com/orderingest/core/internal/orderrepo"
	"github.com/orderingest/core/internal/partner"
	"github.com/orderingest/core/internal/persist"
	"github.com/orderingest/core/internal/ratelimit"
	"github.com/orderingest/core/internal/sequence"
	"github.com/orderingest/core/internal/streambus"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	seqPath := t.TempDir() + "/sequences.json"
	sequences, err := sequence.New(seqPath)
	require.NoError(t, err)

	orders, err := orderrepo.NewEmbedded()
	require.NoError(t, err)
	errs, err := errorrepo.NewEmbedded()
	require.NoError(t, err)

	bus := streambus.NewLocal()
	bus.Subscribe(streambus.KindValidOrder, persist.OrderSink(orders))
	bus.Subscribe(streambus.KindErrorOrder, persist.ErrorSink(errs))

	coordinator := feed.New(sequences, bus, nil)

	s := New(Config{
		CORSAllowedOrigins: []string{"*"},
		Feed:               coordinator,
		Orders:             orders,
		Errors:             errs,
		Bus:                bus,
		AuthGate:           auth.NewGate(false, "", nil),
		Limiter:            ratelimit.New(1000, 1000),
	})
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

func validPartnerAPayload() map[string]any {
	return map[string]any{
		"orderId":           "ord-1",
		"skuId":             "sku-1",
		"customerId":        "cust-1",
		"quantity":          2,
		"unitPrice":         9.99,
		"taxRate":           0.08,
		"transactionTimeMs": time.Now().UnixMilli(),
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	rr := doJSON(t, s.router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestIngestSingle_AcceptsValidPartnerAPayload(t *testing.T) {
	s := newTestServer(t)
	rr := doJSON(t, s.router, http.MethodPost, "/api/feed/partner-a", validPartnerAPayload())
	require.Equal(t, http.StatusAccepted, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "accepted", body["status"])
	assert.EqualValues(t, 1, body["sequenceNumber"])
}

func TestIngestSingle_RejectsMissingField(t *testing.T) {
	s := newTestServer(t)
	payload := validPartnerAPayload()
	delete(payload, "skuId")

	rr := doJSON(t, s.router, http.MethodPost, "/api/feed/partner-a", payload)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "rejected", body["status"])

	errs, ok := body["errors"].([]any)
	require.True(t, ok, "errors must serialize as a JSON array")
	require.NotEmpty(t, errs)
	for _, e := range errs {
		_, isString := e.(string)
		assert.True(t, isString, "each error must be a plain string, got %T", e)
	}
}

func TestIngestSingle_MalformedJSONIs400(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/feed/partner-a", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestIngestBatch_MixedAcceptReject(t *testing.T) {
	s := newTestServer(t)
	bad := validPartnerAPayload()
	delete(bad, "customerId")
	batch := []any{validPartnerAPayload(), bad}

	rr := doJSON(t, s.router, http.MethodPost, "/api/feed/partner-a/batch", batch)
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.EqualValues(t, 2, body["total"])
	assert.EqualValues(t, 1, body["accepted"])
	assert.EqualValues(t, 1, body["rejected"])
}

func TestListOrders_ReturnsIngestedOrder(t *testing.T) {
	s := newTestServer(t)
	rr := doJSON(t, s.router, http.MethodPost, "/api/feed/partner-a", validPartnerAPayload())
	require.Equal(t, http.StatusAccepted, rr.Code)

	rr = doJSON(t, s.router, http.MethodGet, "/api/orders", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body["total"])
}

func TestOrdersByPartner_UnknownPartnerSegmentIs400(t *testing.T) {
	s := newTestServer(t)
	rr := doJSON(t, s.router, http.MethodGet, "/api/orders/by-partner/PARTNER_ZZZ", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAuthGate_MissingKeyRejectsIngestion(t *testing.T) {
	seqPath := t.TempDir() + "/sequences.json"
	sequences, err := sequence.New(seqPath)
	require.NoError(t, err)
	orders, err := orderrepo.NewEmbedded()
	require.NoError(t, err)
	errs, err := errorrepo.NewEmbedded()
	require.NoError(t, err)
	bus := streambus.NewLocal()
	coordinator := feed.New(sequences, bus, nil)

	hash, err := auth.HashKey("secret-a", 4)
	require.NoError(t, err)
	gate := auth.NewGate(true, "", map[partner.ID]string{partner.A: hash})

	s := New(Config{
		CORSAllowedOrigins: []string{"*"},
		Feed:               coordinator,
		Orders:             orders,
		Errors:             errs,
		Bus:                bus,
		AuthGate:           gate,
		Limiter:            ratelimit.New(1000, 1000),
	})
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	rr := doJSON(t, s.router, http.MethodPost, "/api/feed/partner-a", validPartnerAPayload())
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
