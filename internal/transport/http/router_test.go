package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sos/internal/platform/metrics"
	audit "sos/pkg/platform/audit"
	auditmemory "sos/pkg/platform/audit/store/memory"
	"sos/pkg/testutil"
)

type stubIssuer struct {
	account common.Address
	ttl     time.Duration
}

func (s *stubIssuer) GenerateAccessToken(account common.Address, ttl time.Duration) (string, error) {
	s.account, s.ttl = account, ttl
	return "signed-token", nil
}

type pingModule struct{}

func (pingModule) Register(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func newRouter(t *testing.T, issuer TokenIssuer, health map[string]HealthCheck) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	events := auditmemory.NewInMemoryStore()
	require.NoError(t, events.Append(context.Background(), audit.Event{Action: "fund_created", Subject: "0xf0"}))

	return NewRouter(Config{
		Logger:     logger,
		Latency:    metrics.New(reg),
		Gatherer:   reg,
		AdminToken: "operator",
		Admin:      NewAdminHandler(issuer, events, map[string]common.Address{"GOVERNOR": testutil.Account(0x60)}, logger),
		Health:     health,
	}, pingModule{})
}

func TestRouter(t *testing.T) {
	issuer := &stubIssuer{}
	router := newRouter(t, issuer, map[string]HealthCheck{
		"ledger": func(context.Context) error { return nil },
	})

	t.Run("mounts modules and sets a request id", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/ping"))
		testutil.AssertStatus(t, rr, http.StatusNoContent)
		assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	})

	t.Run("exposes metrics", func(t *testing.T) {
		testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/ping"))
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
		testutil.AssertStatusOK(t, rr)
		assert.Contains(t, rr.Body.String(), "sos_http_request_duration_seconds")
	})

	t.Run("health", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/health"))
		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "ledger", "ok")
	})

	t.Run("admin routes require the operator token", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/admin/components"))
		testutil.AssertStatus(t, rr, http.StatusForbidden)

		req := testutil.NewRequest(t, http.MethodGet, "/admin/components")
		req.Header.Set("X-Admin-Token", "operator")
		rr = testutil.DoRequest(router, req)
		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "GOVERNOR", testutil.Account(0x60).Hex())
	})

	t.Run("issues tokens", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/admin/tokens", issueTokenRequest{Account: testutil.Account(0x0a).Hex(), TTLSeconds: 60})
		req.Header.Set("X-Admin-Token", "operator")
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatus(t, rr, http.StatusCreated)
		resp := testutil.UnmarshalResponse[issueTokenResponse](t, rr)
		assert.Equal(t, "signed-token", resp.AccessToken)
		assert.Equal(t, testutil.Account(0x0a), issuer.account)
		assert.Equal(t, time.Minute, issuer.ttl)
	})

	t.Run("lists audit events", func(t *testing.T) {
		req := testutil.NewRequest(t, http.MethodGet, "/admin/audit?limit=5")
		req.Header.Set("X-Admin-Token", "operator")
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatusOK(t, rr)
		resp := testutil.UnmarshalResponse[[]auditEventDTO](t, rr)
		require.Len(t, *resp, 1)
		assert.Equal(t, "fund_created", (*resp)[0].Action)
	})
}

func TestHealthReportsFailures(t *testing.T) {
	router := newRouter(t, &stubIssuer{}, map[string]HealthCheck{
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	})
	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/health"))
	testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
	testutil.AssertJSONContains(t, rr, "postgres", "connection refused")
}
