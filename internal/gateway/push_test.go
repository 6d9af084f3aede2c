package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"immoledger/server/internal/errs"
	"immoledger/server/internal/models"
)

func newPushServer(t *testing.T, handler http.HandlerFunc) (*PushGateway, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	g := NewPushGateway(PushConfig{BaseURL: server.URL, APIToken: "token", Timeout: time.Second})
	return g, server
}

func pushRequest() PaymentRequest {
	return PaymentRequest{
		Reference:    "5b1c1f1e-8a41-4c55-9a0d-6f7e2f3b9a10",
		Amount:       15000,
		Currency:     "XOF",
		Country:      "CI",
		Method:       "orange",
		ProviderCode: "ORANGE_CIV",
		Phone:        "2250707123456",
		Description:  "Abonnement Pro (mensuel)",
	}
}

func TestPushGateway_InitiatePayment(t *testing.T) {
	var got depositRequest
	g, _ := newPushServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/deposits", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"depositId":"` + got.DepositID + `","status":"ACCEPTED","created":"2026-10-18T10:00:00Z"}`))
	})

	res, err := g.InitiatePayment(context.Background(), pushRequest())
	require.NoError(t, err)
	assert.Equal(t, "ACCEPTED", res.Status)
	assert.Empty(t, res.PaymentURL)

	assert.Equal(t, "15000", got.Amount)
	assert.Equal(t, "ORANGE_CIV", got.Correspondent)
	assert.Equal(t, "MSISDN", got.Payer.Type)
	assert.Equal(t, "2250707123456", got.Payer.Address.Value)
	assert.Equal(t, "Abonnement Pro mensuel", got.StatementDescription)
}

func TestPushGateway_DuplicateIsAccepted(t *testing.T) {
	g, _ := newPushServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"depositId":"x","status":"DUPLICATE_IGNORED"}`))
	})
	res, err := g.InitiatePayment(context.Background(), pushRequest())
	require.NoError(t, err)
	assert.Equal(t, "DUPLICATE_IGNORED", res.Status)
}

func TestPushGateway_Rejected(t *testing.T) {
	g, _ := newPushServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"depositId":"x","status":"REJECTED","rejectionReason":{"rejectionCode":"INVALID_PAYER_FORMAT","rejectionMessage":"bad msisdn"}}`))
	})
	_, err := g.InitiatePayment(context.Background(), pushRequest())
	require.Error(t, err)

	var ge *errs.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "pawapay", ge.Provider)
	assert.Contains(t, ge.Message, "bad msisdn")
	assert.False(t, ge.Timeout)
}

func TestPushGateway_HTTPError(t *testing.T) {
	g, _ := newPushServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})
	_, err := g.InitiatePayment(context.Background(), pushRequest())
	assert.True(t, errs.IsGateway(err))
	assert.Contains(t, err.Error(), "HTTP 502")
}

func TestPushGateway_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()
	g := NewPushGateway(PushConfig{BaseURL: server.URL, Timeout: 20 * time.Millisecond})

	_, err := g.InitiatePayment(context.Background(), pushRequest())
	var ge *errs.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.True(t, ge.Timeout)
}

func TestPushGateway_FetchStatus(t *testing.T) {
	g, _ := newPushServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/deposits/ref-1", r.URL.Path)
		_, _ = w.Write([]byte(`[{"depositId":"ref-1","status":"FAILED","failureReason":{"failureCode":"PAYER_LIMIT_REACHED","failureMessage":"limit"}}]`))
	})
	st, err := g.FetchStatus(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionFailed, st.Status)
	assert.Equal(t, "PAYER_LIMIT_REACHED: limit", st.Message)
}

func TestPushGateway_FetchStatusInFlight(t *testing.T) {
	g, _ := newPushServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"depositId":"ref-1","status":"SUBMITTED"}]`))
	})
	st, err := g.FetchStatus(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Empty(t, st.Status)
}

func TestPushGateway_ParseWebhook(t *testing.T) {
	g := NewPushGateway(PushConfig{WebhookSecret: "s3cret"})
	payload := []byte(`{"depositId":"ref-1","status":"COMPLETED"}`)

	headers := http.Header{}
	headers.Set("X-Signature", Sign("s3cret", payload))
	ev, err := g.ParseWebhook(payload, headers)
	require.NoError(t, err)
	assert.Equal(t, "ref-1", ev.Reference)
	assert.Equal(t, models.TransactionCompleted, ev.Status)
	assert.False(t, ev.NeedsFetch)

	headers.Set("X-Signature", "deadbeef")
	_, err = g.ParseWebhook(payload, headers)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = NewPushGateway(PushConfig{}).ParseWebhook([]byte(`{"status":"COMPLETED"}`), http.Header{})
	assert.Error(t, err)
}
