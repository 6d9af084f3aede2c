package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"immoledger/server/internal/errs"
	"immoledger/server/internal/models"
)

func newRedirectServer(t *testing.T, handler http.HandlerFunc) *RedirectGateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewRedirectGateway(RedirectConfig{
		BaseURL:   server.URL,
		APIKey:    "key",
		SiteID:    "site",
		NotifyURL: "https://ledger.example/api/webhooks/cinetpay",
		ReturnURL: "https://app.example/billing",
		Timeout:   time.Second,
	})
}

func TestRedirectGateway_InitiatePayment(t *testing.T) {
	var got checkoutRequest
	g := newRedirectServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/payment", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"code":"201","message":"CREATED","data":{"payment_token":"tok","payment_url":"https://checkout.example/pay/tok"}}`))
	})

	res, err := g.InitiatePayment(context.Background(), PaymentRequest{
		Reference:    "ref-1",
		Amount:       25000,
		Currency:     "XOF",
		ProviderCode: "CREDIT_CARD",
		Phone:        "0707123456",
		Description:  strings.Repeat("x", 150),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.example/pay/tok", res.PaymentURL)
	assert.Equal(t, "tok", res.ProviderToken)

	assert.Equal(t, "key", got.APIKey)
	assert.Equal(t, "ref-1", got.TransactionID)
	assert.Equal(t, int64(25000), got.Amount)
	assert.Equal(t, "CREDIT_CARD", got.Channels)
	assert.Equal(t, "0707123456", got.CustomerPhone)
	assert.Len(t, got.Description, 100)
	assert.Equal(t, "fr", got.Lang)
}

func TestRedirectGateway_Refused(t *testing.T) {
	g := newRedirectServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"608","message":"MINIMUM_REQUIRED_FIELDS","description":"amount too low"}`))
	})
	_, err := g.InitiatePayment(context.Background(), PaymentRequest{Reference: "ref-1", Amount: 10})
	var ge *errs.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "cinetpay", ge.Provider)
	assert.Contains(t, ge.Message, "amount too low")
}

func TestRedirectGateway_FetchStatus(t *testing.T) {
	statuses := map[string]models.TransactionStatus{
		"ACCEPTED": models.TransactionCompleted,
		"REFUSED":  models.TransactionFailed,
		"CANCELED": models.TransactionFailed,
		"PENDING":  "",
	}
	for raw, want := range statuses {
		t.Run(raw, func(t *testing.T) {
			g := newRedirectServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v2/payment/check", r.URL.Path)
				var body checkRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "ref-1", body.TransactionID)
				_, _ = w.Write([]byte(`{"code":"00","message":"SUCCES","data":{"status":"` + raw + `","amount":"100"}}`))
			})
			st, err := g.FetchStatus(context.Background(), "ref-1")
			require.NoError(t, err)
			assert.Equal(t, want, st.Status)
		})
	}
}

func TestRedirectGateway_ParseWebhook(t *testing.T) {
	g := NewRedirectGateway(RedirectConfig{SiteID: "site"})

	ev, err := g.ParseWebhook([]byte("cpm_trans_id=ref-1&cpm_site_id=site"), http.Header{"Content-Type": {"application/x-www-form-urlencoded"}})
	require.NoError(t, err)
	assert.Equal(t, "ref-1", ev.Reference)
	assert.True(t, ev.NeedsFetch)
	assert.Empty(t, ev.Status)

	ev, err = g.ParseWebhook([]byte(`{"transaction_id":"ref-2"}`), http.Header{"Content-Type": {"application/json"}})
	require.NoError(t, err)
	assert.Equal(t, "ref-2", ev.Reference)

	_, err = g.ParseWebhook([]byte("cpm_trans_id=ref-1&cpm_site_id=other"), http.Header{})
	assert.Error(t, err)

	_, err = g.ParseWebhook([]byte("cpm_site_id=site"), http.Header{})
	assert.Error(t, err)
}

func TestRedirectGateway_ParseWebhookSignature(t *testing.T) {
	g := NewRedirectGateway(RedirectConfig{SecretKey: "k"})
	payload := []byte("cpm_trans_id=ref-1")

	_, err := g.ParseWebhook(payload, http.Header{"X-Token": {Sign("k", payload)}})
	require.NoError(t, err)

	_, err = g.ParseWebhook(payload, http.Header{"X-Token": {"nope"}})
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
