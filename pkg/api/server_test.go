package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/monedita/pkg/async"
	"github.com/platinummonkey/monedita/pkg/billing"
	"github.com/platinummonkey/monedita/pkg/observability"
	"github.com/platinummonkey/monedita/pkg/payments"
	"github.com/platinummonkey/monedita/pkg/scheduler"
	"github.com/platinummonkey/monedita/pkg/storage/memory"
	"github.com/platinummonkey/monedita/pkg/whatsapp"
)

const (
	testVerifyToken = "verify-me"
	testAppSecret   = "app-secret"
	testAdminToken  = "admin-token"
	testPhone       = "573001112233"
)

// recordingHandler collects handled events
type recordingHandler struct {
	mu     sync.Mutex
	events []whatsapp.Event
}

func (h *recordingHandler) Handle(ctx context.Context, ev whatsapp.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return nil
}

func (h *recordingHandler) handled() []whatsapp.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]whatsapp.Event(nil), h.events...)
}

type testServer struct {
	server   *Server
	events   *recordingHandler
	runner   *async.Runner
	billing  *billing.Service
	store    *memory.Store
	registry *prometheus.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	store := memory.New()
	catalog := billing.DefaultCatalog()
	svc := billing.NewService(catalog, store)
	recurring := payments.NewRecurringService(catalog, store, svc, nil)
	sched := scheduler.New(scheduler.Config{Pacing: -1}, store, recurring)
	registry := prometheus.NewRegistry()

	ts := &testServer{
		events:   &recordingHandler{},
		runner:   async.NewRunner(logger, time.Second),
		billing:  svc,
		store:    store,
		registry: registry,
	}
	ts.server = NewServer(Dependencies{
		Events:   ts.events,
		Runner:   ts.runner,
		Billing:  svc,
		Sources:  recurring,
		Sweeps:   sched,
		Health:   observability.NewHealthChecker("test",
			observability.Dependency{Name: "store", Critical: true, Pinger: store}),
		Metrics:  observability.NewMetrics(registry),
		Gatherer: registry,
		Logger:   logger,
	}, Options{
		VerifyToken: testVerifyToken,
		AppSecret:   testAppSecret,
		AdminToken:  testAdminToken,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body []byte, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) admin(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, method, path, []byte(body), http.Header{"Authorization": {"Bearer " + testAdminToken}})
}

func textPayload(from, body string) []byte {
	return []byte(`{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{"messages":[` +
		`{"from":"` + from + `","id":"wamid.1","timestamp":"1717228800","type":"text","text":{"body":"` + body + `"}}` +
		`]}}]}]}`)
}

func signed(body []byte) http.Header {
	return http.Header{whatsapp.SignatureHeader: {whatsapp.Sign(body, testAppSecret)}}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", nil, nil).Code)

	ready := ts.do(t, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusOK, ready.Code)
	assert.Contains(t, ready.Body.String(), `"store"`)

	metrics := ts.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "monedita_http_requests_total")
}

func TestWebhookVerify(t *testing.T) {
	ts := newTestServer(t)

	ok := ts.do(t, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token="+testVerifyToken+"&hub.challenge=12345", nil, nil)
	assert.Equal(t, http.StatusOK, ok.Code)
	assert.Equal(t, "12345", ok.Body.String())

	bad := ts.do(t, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil, nil)
	assert.Equal(t, http.StatusForbidden, bad.Code)

	missing := ts.do(t, http.MethodGet, "/webhook", nil, nil)
	assert.Equal(t, http.StatusBadRequest, missing.Code)
}

func TestWebhookReceive(t *testing.T) {
	ts := newTestServer(t)
	body := textPayload(testPhone, "spent 20000 on lunch")

	rec := ts.do(t, http.MethodPost, "/webhook", body, signed(body))
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, ts.runner.Shutdown(context.Background()))
	events := ts.events.handled()
	require.Len(t, events, 1)
	text, ok := events[0].(whatsapp.TextEvent)
	require.True(t, ok)
	assert.Equal(t, testPhone, text.Sender())
	assert.Equal(t, "spent 20000 on lunch", text.Body)

	metrics := ts.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Contains(t, metrics.Body.String(), `monedita_webhook_events_total{kind="text"} 1`)
}

func TestWebhookReceiveRejections(t *testing.T) {
	ts := newTestServer(t)
	body := textPayload(testPhone, "hi")

	unsigned := ts.do(t, http.MethodPost, "/webhook", body, nil)
	assert.Equal(t, http.StatusForbidden, unsigned.Code)

	other := []byte(`{"object":"page","entry":[]}`)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/webhook", other, signed(other)).Code)

	garbage := []byte(`{not json`)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/webhook", garbage, signed(garbage)).Code)

	huge := []byte(strings.Repeat("x", DefaultMaxBodyBytes+1))
	tooLarge := ts.do(t, http.MethodPost, "/webhook", huge, signed(huge))
	assert.Equal(t, http.StatusRequestEntityTooLarge, tooLarge.Code)
	assert.Contains(t, tooLarge.Body.String(), `"code":"payload_too_large"`)

	require.NoError(t, ts.runner.Shutdown(context.Background()))
	assert.Empty(t, ts.events.handled())
}

func TestWebhookStatusUpdateIsAcked(t *testing.T) {
	ts := newTestServer(t)
	body := []byte(`{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{"statuses":[{"id":"wamid.1","status":"read"}]}}]}]}`)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/webhook", body, signed(body)).Code)
	require.NoError(t, ts.runner.Shutdown(context.Background()))
	assert.Empty(t, ts.events.handled())
}

func TestAdminRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/admin/users/"+testPhone+"/subscription", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/admin/users/"+testPhone+"/subscription", nil,
		http.Header{"Authorization": {"Bearer nope"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminSubscriptionLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.admin(t, http.MethodGet, "/admin/users/+57%20300%20111%202233/subscription", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status billing.SubscriptionStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, billing.PlanFree, status.Plan.ID)
	assert.Equal(t, billing.StateFree, status.State)

	rec = ts.admin(t, http.MethodPost, "/admin/users/"+testPhone+"/upgrade", `{"plan_id":"gold"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"unknown_plan"`)

	rec = ts.admin(t, http.MethodPost, "/admin/users/"+testPhone+"/upgrade", `{"plan_id":"premium"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, billing.PlanPremium, status.Plan.ID)
	assert.Equal(t, billing.StatePaidActive, status.State)

	rec = ts.admin(t, http.MethodPost, "/admin/users/"+testPhone+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, billing.StatePaidCancelled, status.State)

	rec = ts.admin(t, http.MethodPost, "/admin/users/"+testPhone+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"already_cancelled"`)

	rec = ts.admin(t, http.MethodPost, "/admin/users/"+testPhone+"/reactivate", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "reactivation needs a card on file")
	assert.Contains(t, rec.Body.String(), `"code":"no_payment_source"`)

	rec = ts.admin(t, http.MethodPut, "/admin/users/"+testPhone+"/payment-source",
		`{"token":"pm_123","card_brand":"VISA","card_last_four":"4242"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.admin(t, http.MethodPost, "/admin/users/"+testPhone+"/reactivate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, billing.StatePaidActive, status.State)
	assert.Equal(t, "4242", status.CardLastFour)

	rec = ts.admin(t, http.MethodDelete, "/admin/users/"+testPhone+"/payment-source", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAdminUsage(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	_, err := ts.billing.UpgradePlan(ctx, testPhone, billing.PlanPremium)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := ts.billing.Increment(ctx, testPhone, billing.UsageVoice)
		require.NoError(t, err)
	}

	rec := ts.admin(t, http.MethodGet, "/admin/users/"+testPhone+"/usage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report UsageReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, billing.PlanPremium, report.PlanID)
	require.Len(t, report.Usage, len(billing.UsageTypes))

	byType := map[billing.UsageType]*billing.LimitCheck{}
	for _, c := range report.Usage {
		byType[c.UsageType] = c
	}
	assert.Equal(t, 3, byType[billing.UsageVoice].Used)
	assert.Equal(t, 97, byType[billing.UsageVoice].Remaining)
	assert.Equal(t, -1, byType[billing.UsageText].Limit)
	assert.True(t, byType[billing.UsageText].Unlimited)

	rec = ts.admin(t, http.MethodPost, "/admin/users/"+testPhone+"/usage/reset", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	used, err := ts.billing.GetUsage(ctx, testPhone, billing.UsageVoice)
	require.NoError(t, err)
	assert.Equal(t, 0, used)
}

func TestAdminRejectsInvalidPhone(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.admin(t, http.MethodGet, "/admin/users/12ab/usage", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid phone number")
	assert.Contains(t, rec.Body.String(), `"code":"invalid_phone"`)
}

func TestAdminSweeps(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.admin(t, http.MethodPost, "/admin/billing/renewals", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"processed":0,"success":0,"failed":0}`, rec.Body.String())

	rec = ts.admin(t, http.MethodPost, "/admin/billing/retries", "")
	require.Equal(t, http.StatusOK, rec.Code)

	plans := ts.admin(t, http.MethodGet, "/admin/plans", "")
	require.Equal(t, http.StatusOK, plans.Code)
	assert.True(t, strings.Contains(plans.Body.String(), `"id":"basic"`))
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{in: "+57 300 123 4567", want: "573001234567"},
		{in: "573001234567", want: "573001234567"},
		{in: "3001234567", want: "3001234567"},
		{in: "(+57) 300-123-4567", want: "573001234567"},
		{in: "300123", err: true},
		{in: "1234567890123456", err: true},
		{in: "57300abc4567", err: true},
		{in: "", err: true},
	}

	for _, tt := range tests {
		got, err := NormalizePhone(tt.in)
		if tt.err {
			assert.ErrorIs(t, err, ErrInvalidPhone, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
