package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"immoledger/server/internal/errs"
	"immoledger/server/internal/models"
)

// RedirectConfig configures a hosted-checkout provider.
type RedirectConfig struct {
	Name      string
	BaseURL   string
	APIKey    string
	SiteID    string
	SecretKey string
	NotifyURL string
	ReturnURL string
	Lang      string
	Timeout   time.Duration
}

// RedirectGateway returns a hosted checkout URL the customer opens. The
// callback only names the payment; its status is read from the check API.
type RedirectGateway struct {
	config     RedirectConfig
	httpClient *http.Client
}

const descriptionLimit = 100

func NewRedirectGateway(config RedirectConfig) *RedirectGateway {
	if config.Name == "" {
		config.Name = "cinetpay"
	}
	if config.Lang == "" {
		config.Lang = "fr"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &RedirectGateway{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

func (g *RedirectGateway) Name() string { return g.config.Name }

func (g *RedirectGateway) Kind() Kind { return KindRedirect }

func (g *RedirectGateway) ResolveProviderCode(country, method string) (string, error) {
	return redirectCorridors.resolve(g.config.Name, country, method)
}

// FormatCustomerPhone returns the national number without country code.
func (g *RedirectGateway) FormatCustomerPhone(country, raw string) string {
	return NationalNumber(country, raw)
}

func (g *RedirectGateway) Currency(country string) (string, error) {
	return CurrencyFor(g.config.Name, country)
}

type checkoutRequest struct {
	APIKey        string `json:"apikey"`
	SiteID        string `json:"site_id"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Description   string `json:"description"`
	NotifyURL     string `json:"notify_url"`
	ReturnURL     string `json:"return_url"`
	Channels      string `json:"channels"`
	Lang          string `json:"lang"`
	CustomerID    string `json:"customer_id,omitempty"`
	CustomerPhone string `json:"customer_phone_number,omitempty"`
	Metadata      string `json:"metadata,omitempty"`
}

type checkoutResponse struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Description string `json:"description"`
	Data        struct {
		PaymentToken string `json:"payment_token"`
		PaymentURL   string `json:"payment_url"`
	} `json:"data"`
}

type checkRequest struct {
	APIKey        string `json:"apikey"`
	SiteID        string `json:"site_id"`
	TransactionID string `json:"transaction_id"`
}

type checkResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Status string `json:"status"`
		Amount string `json:"amount"`
	} `json:"data"`
}

// InitiatePayment creates a hosted checkout session and returns its URL.
func (g *RedirectGateway) InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	body := checkoutRequest{
		APIKey:        g.config.APIKey,
		SiteID:        g.config.SiteID,
		TransactionID: req.Reference,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Description:   Truncate(req.Description, descriptionLimit),
		NotifyURL:     g.config.NotifyURL,
		ReturnURL:     g.config.ReturnURL,
		Channels:      req.ProviderCode,
		Lang:          g.config.Lang,
		CustomerID:    req.CustomerID,
		CustomerPhone: req.Phone,
		Metadata:      req.Reference,
	}

	var resp checkoutResponse
	if err := doJSON(ctx, g.httpClient, g.config.Name, http.MethodPost, g.config.BaseURL+"/v2/payment", nil, body, &resp); err != nil {
		return nil, err
	}
	if resp.Code != "201" || resp.Data.PaymentURL == "" {
		msg := resp.Description
		if msg == "" {
			msg = resp.Message
		}
		return nil, &errs.GatewayError{Provider: g.config.Name, Message: fmt.Sprintf("%s %s", resp.Code, msg)}
	}
	return &PaymentResult{
		ProviderToken: resp.Data.PaymentToken,
		PaymentURL:    resp.Data.PaymentURL,
		Status:        resp.Message,
	}, nil
}

// FetchStatus asks the check API for the payment status.
func (g *RedirectGateway) FetchStatus(ctx context.Context, reference string) (*StatusResult, error) {
	body := checkRequest{APIKey: g.config.APIKey, SiteID: g.config.SiteID, TransactionID: reference}
	var resp checkResponse
	if err := doJSON(ctx, g.httpClient, g.config.Name, http.MethodPost, g.config.BaseURL+"/v2/payment/check", nil, body, &resp); err != nil {
		return nil, err
	}
	res := &StatusResult{Reference: reference, Status: mapCheckoutStatus(resp.Data.Status), Raw: resp.Data.Status}
	if res.Status == models.TransactionFailed {
		res.Message = strings.TrimSpace(resp.Code + " " + resp.Message)
	}
	return res, nil
}

// ParseWebhook accepts the form-encoded notification (cpm_trans_id) or a
// JSON body with transaction_id. With a secret key configured the X-Token
// header must carry the body's HMAC-SHA256.
func (g *RedirectGateway) ParseWebhook(payload []byte, headers http.Header) (*WebhookEvent, error) {
	if err := verifySignature(g.config.SecretKey, payload, headers.Get("X-Token")); err != nil {
		return nil, err
	}

	var ref, site string
	if strings.HasPrefix(headers.Get("Content-Type"), "application/json") {
		var body struct {
			TransactionID string `json:"transaction_id"`
			SiteID        string `json:"site_id"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, fmt.Errorf("failed to parse notification: %w", err)
		}
		ref, site = body.TransactionID, body.SiteID
	} else {
		form, err := url.ParseQuery(string(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to parse notification: %w", err)
		}
		ref, site = form.Get("cpm_trans_id"), form.Get("cpm_site_id")
	}

	if ref == "" {
		return nil, fmt.Errorf("notification without transaction id")
	}
	if site != "" && g.config.SiteID != "" && site != g.config.SiteID {
		return nil, fmt.Errorf("notification for foreign site %s", site)
	}
	return &WebhookEvent{Reference: ref, NeedsFetch: true}, nil
}

func mapCheckoutStatus(s string) models.TransactionStatus {
	switch strings.ToUpper(s) {
	case "ACCEPTED":
		return models.TransactionCompleted
	case "REFUSED", "CANCELED", "CANCELLED":
		return models.TransactionFailed
	default:
		return ""
	}
}
