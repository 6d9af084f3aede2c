// Package gateway puts heterogeneous payment providers behind one contract.
// Two shapes exist: redirect gateways return a hosted checkout URL, push
// gateways prompt the customer's phone and confirm only by webhook.
package gateway

import (
	"context"
	"net/http"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"immoledger/server/internal/models"
)

type Kind string

const (
	KindRedirect Kind = "redirect"
	KindPush     Kind = "push"
)

// Gateway is implemented by every payment provider adapter.
type Gateway interface {
	Name() string
	Kind() Kind
	// ResolveProviderCode maps a corridor to the provider's correspondent or
	// channel code. Unmapped corridors return *errs.UnsupportedCorridorError.
	ResolveProviderCode(country, method string) (string, error)
	// FormatCustomerPhone returns the provider's MSISDN shape, or "" when
	// raw does not match an expected length for country.
	FormatCustomerPhone(country, raw string) string
	// Currency is derived from the country, never from tenant input.
	Currency(country string) (string, error)
	InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error)
	FetchStatus(ctx context.Context, reference string) (*StatusResult, error)
	ParseWebhook(payload []byte, headers http.Header) (*WebhookEvent, error)
}

// PaymentRequest is what the orchestrator hands to an adapter. Reference is
// generated and persisted before dispatch so an early webhook finds it.
type PaymentRequest struct {
	Reference    string
	Amount       int64
	Currency     string
	Country      string
	Method       string
	ProviderCode string
	Phone        string
	Description  string
	CustomerID   string
}

// PaymentResult is a provider acknowledgment. PaymentURL is set by redirect
// gateways only.
type PaymentResult struct {
	ProviderToken string
	PaymentURL    string
	Status        string
}

// StatusResult is the provider's view of a payment. An empty Status means
// the payment is still in flight.
type StatusResult struct {
	Reference string
	Status    models.TransactionStatus
	Message   string
	Raw       string
}

// WebhookEvent is a parsed callback. When NeedsFetch is set the callback
// only identifies the payment and the status must be fetched.
type WebhookEvent struct {
	Reference  string
	Status     models.TransactionStatus
	Message    string
	Raw        string
	NeedsFetch bool
}

// Truncate cuts s to at most limit runes.
func Truncate(s string, limit int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= limit {
		return string(r)
	}
	return strings.TrimSpace(string(r[:limit]))
}

// statementText keeps ASCII letters, digits and single spaces, the
// character set mobile-money statements accept. Accents are folded first.
func statementText(s string, limit int) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	space := false
	for _, r := range folded {
		switch {
		case r <= unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			space = false
		case !space && b.Len() > 0:
			b.WriteRune(' ')
			space = true
		}
	}
	return Truncate(b.String(), limit)
}
