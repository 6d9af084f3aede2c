package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"immoledger/server/internal/errs"
	"immoledger/server/internal/models"
)

// PushConfig configures a deposit-API provider.
type PushConfig struct {
	Name          string
	BaseURL       string
	APIToken      string
	WebhookSecret string
	Timeout       time.Duration
}

// PushGateway sends a payment prompt to the customer's phone through a
// correspondent network. Completion is confirmed by webhook only.
type PushGateway struct {
	config     PushConfig
	httpClient *http.Client
}

// statementLimit is the deposit API's statement description limit.
const statementLimit = 22

func NewPushGateway(config PushConfig) *PushGateway {
	if config.Name == "" {
		config.Name = "pawapay"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &PushGateway{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

func (g *PushGateway) Name() string { return g.config.Name }

func (g *PushGateway) Kind() Kind { return KindPush }

func (g *PushGateway) ResolveProviderCode(country, method string) (string, error) {
	return pushCorridors.resolve(g.config.Name, country, method)
}

// FormatCustomerPhone returns the international MSISDN without "+".
func (g *PushGateway) FormatCustomerPhone(country, raw string) string {
	return MSISDN(country, raw)
}

func (g *PushGateway) Currency(country string) (string, error) {
	return CurrencyFor(g.config.Name, country)
}

type depositRequest struct {
	DepositID            string        `json:"depositId"`
	Amount               string        `json:"amount"`
	Currency             string        `json:"currency"`
	Correspondent        string        `json:"correspondent"`
	Payer                depositPayer  `json:"payer"`
	CustomerTimestamp    string        `json:"customerTimestamp"`
	StatementDescription string        `json:"statementDescription"`
	Metadata             []depositMeta `json:"metadata,omitempty"`
}

type depositPayer struct {
	Type    string         `json:"type"`
	Address depositAddress `json:"address"`
}

type depositAddress struct {
	Value string `json:"value"`
}

type depositMeta struct {
	FieldName  string `json:"fieldName"`
	FieldValue string `json:"fieldValue"`
}

type depositResponse struct {
	DepositID       string `json:"depositId"`
	Status          string `json:"status"`
	Created         string `json:"created"`
	RejectionReason *struct {
		RejectionCode    string `json:"rejectionCode"`
		RejectionMessage string `json:"rejectionMessage"`
	} `json:"rejectionReason,omitempty"`
}

type depositStatus struct {
	DepositID     string `json:"depositId"`
	Status        string `json:"status"`
	FailureReason *struct {
		FailureCode    string `json:"failureCode"`
		FailureMessage string `json:"failureMessage"`
	} `json:"failureReason,omitempty"`
}

func (g *PushGateway) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + g.config.APIToken}
}

// InitiatePayment requests a deposit. ACCEPTED means the prompt was sent;
// the outcome arrives by webhook.
func (g *PushGateway) InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	body := depositRequest{
		DepositID:     req.Reference,
		Amount:        strconv.FormatInt(req.Amount, 10),
		Currency:      req.Currency,
		Correspondent: req.ProviderCode,
		Payer: depositPayer{
			Type:    "MSISDN",
			Address: depositAddress{Value: req.Phone},
		},
		CustomerTimestamp:    time.Now().UTC().Format(time.RFC3339),
		StatementDescription: statementText(req.Description, statementLimit),
	}
	if req.CustomerID != "" {
		body.Metadata = []depositMeta{{FieldName: "customerId", FieldValue: req.CustomerID}}
	}

	var resp depositResponse
	if err := doJSON(ctx, g.httpClient, g.config.Name, http.MethodPost, g.config.BaseURL+"/deposits", g.headers(), body, &resp); err != nil {
		return nil, err
	}

	switch resp.Status {
	case "ACCEPTED", "DUPLICATE_IGNORED":
		return &PaymentResult{ProviderToken: resp.DepositID, Status: resp.Status}, nil
	case "REJECTED":
		msg := "deposit rejected"
		if resp.RejectionReason != nil {
			msg = fmt.Sprintf("%s: %s", resp.RejectionReason.RejectionCode, resp.RejectionReason.RejectionMessage)
		}
		return nil, &errs.GatewayError{Provider: g.config.Name, Message: msg}
	default:
		return nil, &errs.GatewayError{Provider: g.config.Name, Message: "unexpected deposit status " + resp.Status}
	}
}

// FetchStatus polls a deposit by reference.
func (g *PushGateway) FetchStatus(ctx context.Context, reference string) (*StatusResult, error) {
	var list []depositStatus
	endpoint := g.config.BaseURL + "/deposits/" + url.PathEscape(reference)
	if err := doJSON(ctx, g.httpClient, g.config.Name, http.MethodGet, endpoint, g.headers(), nil, &list); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return &StatusResult{Reference: reference}, nil
	}
	return g.toStatus(list[0]), nil
}

// ParseWebhook reads a deposit callback. When a webhook secret is set the
// X-Signature header must carry the body's HMAC-SHA256.
func (g *PushGateway) ParseWebhook(payload []byte, headers http.Header) (*WebhookEvent, error) {
	if err := verifySignature(g.config.WebhookSecret, payload, headers.Get("X-Signature")); err != nil {
		return nil, err
	}
	var cb depositStatus
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, fmt.Errorf("failed to parse deposit callback: %w", err)
	}
	if cb.DepositID == "" {
		return nil, fmt.Errorf("deposit callback without depositId")
	}
	st := g.toStatus(cb)
	return &WebhookEvent{Reference: st.Reference, Status: st.Status, Message: st.Message, Raw: cb.Status}, nil
}

func (g *PushGateway) toStatus(d depositStatus) *StatusResult {
	res := &StatusResult{Reference: d.DepositID, Status: mapDepositStatus(d.Status), Raw: d.Status}
	if d.FailureReason != nil {
		res.Message = strings.TrimSpace(d.FailureReason.FailureCode + ": " + d.FailureReason.FailureMessage)
	}
	return res
}

func mapDepositStatus(s string) models.TransactionStatus {
	switch strings.ToUpper(s) {
	case "COMPLETED":
		return models.TransactionCompleted
	case "FAILED", "REJECTED":
		return models.TransactionFailed
	case "REFUNDED":
		return models.TransactionRefunded
	default:
		return ""
	}
}
