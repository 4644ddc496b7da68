package main

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sale-vesting-engine/internal/allocation"
	"sale-vesting-engine/internal/feed"
	"sale-vesting-engine/internal/identity"
	"sale-vesting-engine/internal/ledger"
	"sale-vesting-engine/internal/observability"
	"sale-vesting-engine/internal/storage/memory"
)

const (
	testStart = int64(1700000000)
	testToken = "secret"
)

type testServer struct {
	*httptest.Server
	now *atomic.Int64 // Unix seconds
	hub *feed.Hub
}

func newTestServer(t *testing.T, adminToken string) *testServer {
	t.Helper()

	now := new(atomic.Int64)
	now.Store(testStart)
	logger := log.New(io.Discard, "", 0)
	metrics := observability.NewMetricsWith(prometheus.NewRegistry(), "test")
	claims := memory.NewClaimEventStore()
	hub := feed.NewHub(feed.Options{})

	l := ledger.New(ledger.Options{
		Store:     memory.NewLedgerStore(),
		StartTime: testStart,
		OnClaim:   claimRecorder(claims, hub, metrics, logger),
	})
	sales := allocation.New(allocation.Options{
		Ledger:      l,
		Investments: memory.NewInvestmentStore(),
		Pools:       memory.NewPoolStore(),
		OnPurchase:  metrics.RecordPurchase,
	})

	s := NewServer(ServerOptions{
		Ledger:         l,
		Sales:          sales,
		Claims:         claims,
		Feed:           hub,
		Metrics:        metrics,
		AdminToken:     adminToken,
		CheckAddresses: true,
		Backend:        "memory",
		Logger:         logger,
		Now:            func() time.Time { return time.Unix(now.Load(), 0) },
	})

	server := httptest.NewServer(s.Routes())
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return &testServer{Server: server, now: now, hub: hub}
}

func (ts *testServer) advance(seconds int64) {
	ts.now.Add(seconds)
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

// testAddress returns a wallet address derived from a fixed seed byte.
func testAddress(t *testing.T, b byte) string {
	t.Helper()

	key := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{b}, ed25519.SeedSize))
	addr, err := identity.EncodeAddress(key.Public().(ed25519.PublicKey))
	require.NoError(t, err)
	return addr
}

func TestServer_PurchaseAndClaim(t *testing.T) {
	ts := newTestServer(t, testToken)
	alice := testAddress(t, 1)

	code, body := ts.do(t, http.MethodPost, "/v1/purchases", testToken, map[string]string{
		"investor_id": alice,
		"category":    "SEED",
		"amount":      "5000",
		"reference":   "wire-1",
	})
	require.Equal(t, http.StatusCreated, code, string(body))
	purchase := decode[PurchaseResponse](t, body)
	assert.Equal(t, uint64(61882), purchase.Tokens)
	assert.Equal(t, "5000", purchase.PoolSize.String())
	require.NotNil(t, purchase.Entry)
	assert.Equal(t, uint64(61882), purchase.Entry.Seed)

	// Same reference again is a duplicate
	code, _ = ts.do(t, http.MethodPost, "/v1/purchases", testToken, map[string]string{
		"investor_id": alice,
		"category":    "SEED",
		"amount":      "5000",
		"reference":   "wire-1",
	})
	assert.Equal(t, http.StatusConflict, code)

	// Half of the 18 month seed vesting
	ts.advance(23652000)

	code, body = ts.do(t, http.MethodGet, "/v1/investors/"+alice+"/claimable", "", nil)
	require.Equal(t, http.StatusOK, code, string(body))
	pos := decode[ClaimableResponse](t, body)
	assert.Equal(t, uint64(30941), pos.Vested)
	assert.Equal(t, uint64(30941), pos.Claimable)
	assert.Equal(t, uint64(0), pos.Claimed)

	code, body = ts.do(t, http.MethodPost, "/v1/investors/"+alice+"/claim", "", nil)
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Equal(t, uint64(30941), decode[ClaimResponse](t, body).Amount)

	// Second claim at the same time moves nothing
	code, _ = ts.do(t, http.MethodPost, "/v1/investors/"+alice+"/claim", "", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, body = ts.do(t, http.MethodGet, "/v1/investors/"+alice+"/claims", "", nil)
	require.Equal(t, http.StatusOK, code)
	claims := decode[[]feed.ClaimMessage](t, body)
	require.Len(t, claims, 1)
	assert.Equal(t, uint64(30941), claims[0].Amount)
	assert.Equal(t, int64(23652000), claims[0].ElapsedSec)

	// Projection to the end of vesting
	code, body = ts.do(t, http.MethodGet, "/v1/investors/"+alice+"/claimable?at=1800000000", "", nil)
	require.Equal(t, http.StatusOK, code)
	pos = decode[ClaimableResponse](t, body)
	assert.Equal(t, uint64(61882), pos.Vested)
	assert.Equal(t, uint64(30941), pos.Claimable)
}

func TestServer_ClaimableUnallocated(t *testing.T) {
	ts := newTestServer(t, testToken)
	bob := testAddress(t, 2)

	code, body := ts.do(t, http.MethodGet, "/v1/investors/"+bob+"/claimable", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, ClaimableResponse{InvestorID: bob, At: testStart}, decode[ClaimableResponse](t, body))

	code, _ = ts.do(t, http.MethodPost, "/v1/investors/"+bob+"/claim", "", nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestServer_AllocationLockedAfterClaim(t *testing.T) {
	ts := newTestServer(t, testToken)
	carol := testAddress(t, 3)
	path := "/v1/investors/" + carol + "/allocation"

	code, body := ts.do(t, http.MethodPut, path, testToken, AllocationRequest{Seed: 1000})
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Equal(t, testStart, decode[EntryResponse](t, body).StartTime)

	ts.advance(47304000)
	code, _ = ts.do(t, http.MethodPost, "/v1/investors/"+carol+"/claim", "", nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = ts.do(t, http.MethodPut, path, testToken, AllocationRequest{Seed: 500})
	assert.Equal(t, http.StatusConflict, code)

	later := testStart + 100
	code, _ = ts.do(t, http.MethodPut, path, testToken, AllocationRequest{Seed: 1000, StartTime: &later})
	assert.Equal(t, http.StatusConflict, code)

	code, body = ts.do(t, http.MethodPut, path, testToken, AllocationRequest{Seed: 2000})
	require.Equal(t, http.StatusOK, code)
	entry := decode[EntryResponse](t, body)
	assert.Equal(t, uint64(2000), entry.Seed)
	assert.Equal(t, uint64(1000), entry.Claimed)
}

func TestServer_AdminAuth(t *testing.T) {
	alice := testAddress(t, 1)
	req := AllocationRequest{Seed: 1}

	ts := newTestServer(t, testToken)
	code, _ := ts.do(t, http.MethodPut, "/v1/investors/"+alice+"/allocation", "", req)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = ts.do(t, http.MethodPut, "/v1/investors/"+alice+"/allocation", "wrong", req)
	assert.Equal(t, http.StatusUnauthorized, code)

	disabled := newTestServer(t, "")
	code, _ = disabled.do(t, http.MethodPut, "/v1/investors/"+alice+"/allocation", testToken, req)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestServer_RejectsInvalidInvestor(t *testing.T) {
	ts := newTestServer(t, testToken)

	code, body := ts.do(t, http.MethodGet, "/v1/investors/not-an-address/claimable", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, decode[ErrorResponse](t, body).Error, "invalid address")
}

func TestServer_PurchaseErrors(t *testing.T) {
	ts := newTestServer(t, testToken)
	alice := testAddress(t, 1)

	tests := []struct {
		name     string
		category string
		amount   string
		want     int
	}{
		{"unknown category", "GOLD", "100", http.StatusBadRequest},
		{"zero amount", "SEED", "0", http.StatusBadRequest},
		{"pool exhausted", "SEED", "250001", http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := ts.do(t, http.MethodPost, "/v1/purchases", testToken, map[string]string{
				"investor_id": alice,
				"category":    tt.category,
				"amount":      tt.amount,
			})
			assert.Equal(t, tt.want, code, string(body))
		})
	}
}

func TestServer_AverageMonths(t *testing.T) {
	ts := newTestServer(t, testToken)

	code, body := ts.do(t, http.MethodPost, "/v1/average-months", "", map[string]interface{}{
		"seed": map[string]string{"amount": "1000", "pool_size": "6000"},
	})
	require.Equal(t, http.StatusOK, code, string(body))
	assert.InDelta(t, 18.0, decode[AverageMonthsResponse](t, body).Months, 1e-9)

	code, _ = ts.do(t, http.MethodPost, "/v1/average-months", "", map[string]interface{}{})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = ts.do(t, http.MethodPost, "/v1/average-months", "", map[string]interface{}{"unknown": 1})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestServer_LockMonths(t *testing.T) {
	ts := newTestServer(t, testToken)
	alice := testAddress(t, 1)

	code, _ := ts.do(t, http.MethodGet, "/v1/investors/"+alice+"/lock-months", "", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = ts.do(t, http.MethodPost, "/v1/purchases", testToken, map[string]string{
		"investor_id": alice,
		"category":    "PRIVATE",
		"amount":      "2000",
	})
	require.Equal(t, http.StatusCreated, code)

	code, body := ts.do(t, http.MethodGet, "/v1/investors/"+alice+"/lock-months", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 12.0, decode[LockMonthsResponse](t, body).Months, 1e-9)
}

func TestServer_HealthAndStatus(t *testing.T) {
	ts := newTestServer(t, testToken)

	code, body := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", string(body))

	code, body = ts.do(t, http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusOK, code)
	status := decode[StatusResponse](t, body)
	assert.Equal(t, "memory", status.Storage)
	assert.Equal(t, testStart, status.StartTime)
}

func TestServer_FeedReceivesClaims(t *testing.T) {
	ts := newTestServer(t, testToken)
	alice := testAddress(t, 1)

	code, _ := ts.do(t, http.MethodPut, "/v1/investors/"+alice+"/allocation", testToken, AllocationRequest{Private: 1000})
	require.Equal(t, http.StatusOK, code)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/feed?investor=" + alice
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return ts.hub.Subscribers() == 1
	}, 2*time.Second, 10*time.Millisecond)

	ts.advance(31536000)
	code, _ = ts.do(t, http.MethodPost, "/v1/investors/"+alice+"/claim", "", nil)
	require.Equal(t, http.StatusOK, code)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg feed.Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.NotNil(t, msg.Claim)
	assert.Equal(t, alice, msg.Claim.InvestorID)
	assert.Equal(t, uint64(1000), msg.Claim.Amount)
}
