package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httpHandler "payhub/internal/adapter/http/handler"
	redisStorage "payhub/internal/adapter/storage/redis"
	"payhub/internal/core/ports"
	"payhub/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWebhookSecret = "whsec_integration"
	testUploadKey     = "upload-key-integration"
	testJWTSecret     = "jwt-integration-secret"
)

// testApp wires the real HTTP layer, middleware, services, and Redis stores
// over in-memory repositories and miniredis.
type testApp struct {
	server      *httptest.Server
	destination *httptest.Server
	redis       *miniredis.Miniredis

	paymentRepo  *memPaymentRepo
	idemRepo     *memIdempotencyRepo
	eventRepo    *memWebhookEventRepo
	deliveryRepo *memWebhookDeliveryRepo
	reconRepo    *memReconciliationRepo

	tokenSvc ports.TokenService
	sigSvc   ports.SignatureService
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	// Stub destination for outbound re-deliveries.
	destination := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(destination.Close)

	app := &testApp{
		destination:  destination,
		redis:        mr,
		paymentRepo:  newMemPaymentRepo(),
		idemRepo:     newMemIdempotencyRepo(),
		eventRepo:    newMemWebhookEventRepo(),
		deliveryRepo: newMemWebhookDeliveryRepo(),
		reconRepo:    newMemReconciliationRepo(),
	}

	log := zerolog.Nop()
	transactor := &memTransactor{}
	app.sigSvc = service.NewHMACSignatureService()
	app.tokenSvc = service.NewJWTTokenService(testJWTSecret, time.Hour, "payhub")
	hashSvc := service.NewArgon2HashService()
	uploadKeyHash, err := hashSvc.Hash(testUploadKey)
	require.NoError(t, err)

	ledger := service.NewIdempotencyLedger(
		app.idemRepo,
		redisStorage.NewResponseCache(client),
		transactor,
		15*time.Minute,
		24*time.Hour,
		log,
	)
	// Amount mode: amounts ending in 99 decline, everything else approves.
	gateway := service.NewStubGateway(service.GatewayModeAmount, 99, log)
	paymentSvc := service.NewPaymentService(
		app.paymentRepo, ledger, gateway, transactor, nil, []string{"USD", "EUR", "VND"}, log,
	)
	webhookSvc := service.NewWebhookDispatcher(
		app.eventRepo, app.deliveryRepo, app.paymentRepo,
		app.sigSvc, transactor, nil,
		testWebhookSecret, 5, time.Minute, time.Hour, log,
	)
	retrySvc := service.NewRetryScheduler(
		app.deliveryRepo,
		redisStorage.NewSweepLock(client),
		app.sigSvc, nil, http.DefaultClient,
		service.RetrySchedulerConfig{
			DestinationURL: destination.URL,
			Secret:         testWebhookSecret,
			MaxAttempts:    5,
			BaseDelay:      time.Minute,
			MaxDelay:       time.Hour,
			BatchSize:      50,
			LeaseTTL:       30 * time.Second,
		},
		log,
	)
	reconSvc := service.NewReconciliationMatcher(app.reconRepo, app.paymentRepo, nil, log)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		PaymentSvc:    paymentSvc,
		WebhookSvc:    webhookSvc,
		RetrySvc:      retrySvc,
		ReconSvc:      reconSvc,
		TokenSvc:      app.tokenSvc,
		HashSvc:       hashSvc,
		UploadKeyHash: uploadKeyHash,
		Logger:        log,
	})

	app.server = httptest.NewServer(router)
	t.Cleanup(app.server.Close)
	return app
}

func (a *testApp) createPayment(t *testing.T, key, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, a.server.URL+"/api/v1/payments", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, payload
}

func (a *testApp) sendWebhook(t *testing.T, payload []byte, signature string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, a.server.URL+"/api/v1/webhooks", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("x-webhook-signature", signature)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}

func TestPaymentIntake_IdempotentLifecycle(t *testing.T) {
	app := newTestApp(t)

	body := `{"amount_minor_units":10000,"currency":"USD","payment_method":"card_visa","metadata":{"order_id":"ord_1"}}`

	resp, first := app.createPayment(t, "key-lifecycle", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var payment struct {
		ID                string `json:"id"`
		Status            string `json:"status"`
		AmountMinorUnits  int64  `json:"amount_minor_units"`
		ExternalPaymentID string `json:"external_payment_id"`
	}
	require.NoError(t, json.Unmarshal(first, &payment))
	assert.Equal(t, "succeeded", payment.Status)
	assert.Equal(t, int64(10000), payment.AmountMinorUnits)
	assert.NotEmpty(t, payment.ExternalPaymentID)

	// Same key, same body: byte-identical replay, no new payment row.
	resp, replay := app.createPayment(t, "key-lifecycle", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, first, replay)
	assert.Equal(t, 1, app.paymentRepo.count())
	assert.Equal(t, 1, app.idemRepo.count())

	// Same key, different body: 409.
	resp, conflict := app.createPayment(t, "key-lifecycle",
		`{"amount_minor_units":99999,"currency":"USD","payment_method":"card_visa"}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	var errBody struct {
		ErrorCode string `json:"error_code"`
	}
	require.NoError(t, json.Unmarshal(conflict, &errBody))
	assert.Equal(t, "IDEM_002", errBody.ErrorCode)
	assert.Equal(t, 1, app.paymentRepo.count())
}

func TestPaymentIntake_MissingIdempotencyKey(t *testing.T) {
	app := newTestApp(t)

	resp, body := app.createPayment(t, "", `{"amount_minor_units":100,"currency":"USD","payment_method":"card"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var errBody struct {
		ErrorCode string `json:"error_code"`
	}
	require.NoError(t, json.Unmarshal(body, &errBody))
	assert.Equal(t, "VAL_003", errBody.ErrorCode)
}

func TestPaymentIntake_GatewayDecline(t *testing.T) {
	app := newTestApp(t)

	resp, body := app.createPayment(t, "key-decline",
		`{"amount_minor_units":10099,"currency":"USD","payment_method":"card_visa"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var payment struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(body, &payment))
	assert.Equal(t, "failed", payment.Status)
}

func TestPaymentIntake_GetByID(t *testing.T) {
	app := newTestApp(t)

	_, created := app.createPayment(t, "key-get",
		`{"amount_minor_units":2500,"currency":"EUR","payment_method":"card_mc"}`)
	var payment struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(created, &payment))

	resp, err := http.Get(app.server.URL + "/api/v1/payments/" + payment.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(app.server.URL + "/api/v1/payments/00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebhook_StatusTransitionAndDedup(t *testing.T) {
	app := newTestApp(t)

	_, created := app.createPayment(t, "key-webhook",
		`{"amount_minor_units":5000,"currency":"USD","payment_method":"card_visa"}`)
	var payment struct {
		ID                string `json:"id"`
		ExternalPaymentID string `json:"external_payment_id"`
	}
	require.NoError(t, json.Unmarshal(created, &payment))

	event := fmt.Sprintf(
		`{"event_type":"payment.refunded","data":{"external_payment_id":%q},"timestamp":%d,"event_id":"evt_refund_1"}`,
		payment.ExternalPaymentID, time.Now().Unix(),
	)
	sig := app.sigSvc.Sign(testWebhookSecret, []byte(event))

	resp := app.sendWebhook(t, []byte(event), sig)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// succeeded -> refunded applied.
	getResp, err := http.Get(app.server.URL + "/api/v1/payments/" + payment.ID)
	require.NoError(t, err)
	body, _ := io.ReadAll(getResp.Body)
	getResp.Body.Close()
	var envelope struct {
		Data struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	assert.Equal(t, "refunded", envelope.Data.Status)

	// Re-delivery of the same event id acknowledges without re-applying.
	resp = app.sendWebhook(t, []byte(event), sig)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPaymentLifecycle_EndToEnd(t *testing.T) {
	app := newTestApp(t)

	body := `{"amount_minor_units":10000,"currency":"USD","payment_method":"card_visa"}`
	resp, first := app.createPayment(t, "K1", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var payment struct {
		ID                string `json:"id"`
		Status            string `json:"status"`
		ExternalPaymentID string `json:"external_payment_id"`
	}
	require.NoError(t, json.Unmarshal(first, &payment))
	require.Equal(t, "succeeded", payment.Status)

	// The gateway's confirmation event arrives for the same external id.
	event := fmt.Sprintf(
		`{"event_type":"payment.succeeded","data":{"external_payment_id":%q},"timestamp":%d,"event_id":"evt_e2e_1"}`,
		payment.ExternalPaymentID, time.Now().Unix(),
	)
	sig := app.sigSvc.Sign(testWebhookSecret, []byte(event))
	wresp := app.sendWebhook(t, []byte(event), sig)
	require.Equal(t, http.StatusOK, wresp.StatusCode)

	// Payment remains succeeded.
	stored, err := app.paymentRepo.GetByID(t.Context(), mustUUID(t, payment.ID))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "succeeded", string(stored.Status))

	// Replaying the original creation returns the identical response and
	// creates no new payment row.
	resp, replay := app.createPayment(t, "K1", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, first, replay)
	assert.Equal(t, 1, app.paymentRepo.count())
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	app := newTestApp(t)

	event := []byte(`{"event_type":"payment.succeeded","data":{"external_payment_id":"PAY_x"},"event_id":"evt_x"}`)

	resp := app.sendWebhook(t, event, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = app.sendWebhook(t, event, "sha256=0000")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestInternal_RetrySweepRequiresServiceToken(t *testing.T) {
	app := newTestApp(t)

	req, err := http.NewRequest(http.MethodPost, app.server.URL+"/api/v1/internal/retry-webhooks", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, _, err := app.tokenSvc.Generate("ops", ports.ScopeInternal)
	require.NoError(t, err)

	req, err = http.NewRequest(http.MethodPost, app.server.URL+"/api/v1/internal/retry-webhooks", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Data ports.SweepResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	assert.Zero(t, envelope.Data.Processed)
}

func TestReconciliation_UploadAndMatch(t *testing.T) {
	app := newTestApp(t)

	_, created := app.createPayment(t, "key-recon",
		`{"amount_minor_units":10000,"currency":"USD","payment_method":"card_visa"}`)
	var payment struct {
		ExternalPaymentID string `json:"external_payment_id"`
	}
	require.NoError(t, json.Unmarshal(created, &payment))

	upload := fmt.Sprintf(`{"records":[
		{"external_transaction_id":%q,"amount":10000,"currency":"USD","transaction_date":"2026-08-29T00:00:00Z"},
		{"external_transaction_id":"gw_orphan","amount":777,"currency":"USD","transaction_date":"2026-08-29T00:00:00Z"}
	]}`, payment.ExternalPaymentID)

	req, err := http.NewRequest(http.MethodPost, app.server.URL+"/api/v1/internal/reconciliation/records", bytes.NewBufferString(upload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", testUploadKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	req, err = http.NewRequest(http.MethodPost, app.server.URL+"/api/v1/internal/reconciliation/run", nil)
	require.NoError(t, err)
	req.Header.Set("X-Api-Key", testUploadKey)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Data ports.MatchSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	assert.Equal(t, 2, envelope.Data.Total)
	assert.Equal(t, 1, envelope.Data.Matched)
	assert.Equal(t, 1, envelope.Data.Unmatched)
	assert.Equal(t, 0.5, envelope.Data.MatchRate)

	// The matched record is consumed; only the orphan remains eligible.
	remaining, err := app.reconRepo.ListUnmatched(t.Context())
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "gw_orphan", remaining[0].ExternalTransactionID)
}

func TestReconciliation_RejectsWrongAPIKey(t *testing.T) {
	app := newTestApp(t)

	req, err := http.NewRequest(http.MethodPost, app.server.URL+"/api/v1/internal/reconciliation/run", nil)
	require.NoError(t, err)
	req.Header.Set("X-Api-Key", "not-the-key")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealth_Endpoint(t *testing.T) {
	app := newTestApp(t)

	resp, err := http.Get(app.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
