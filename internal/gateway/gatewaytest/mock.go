// Package gatewaytest provides a testify mock of gateway.Gateway.
package gatewaytest

import (
	"context"
	"net/http"

	"github.com/stretchr/testify/mock"

	"immoledger/server/internal/errs"
	"immoledger/server/internal/gateway"
)

// Mock records calls. Corridor and phone handling delegate to Corridors
// and FormatPhone so tests only stub the network calls.
type Mock struct {
	mock.Mock

	GatewayName string
	GatewayKind gateway.Kind
	// Corridors maps "CC:method" to a provider code.
	Corridors   map[string]string
	FormatPhone func(country, raw string) string
	Currencies  map[string]string
}

// New returns a mock supporting CI and SN orange money and CI card.
func New(name string, kind gateway.Kind) *Mock {
	return &Mock{
		GatewayName: name,
		GatewayKind: kind,
		Corridors: map[string]string{
			"CI:orange": "ORANGE_CIV",
			"SN:orange": "ORANGE_SEN",
			"CI:card":   "CREDIT_CARD",
		},
		FormatPhone: gateway.MSISDN,
		Currencies:  map[string]string{"CI": "XOF", "SN": "XOF", "CM": "XAF"},
	}
}

func (m *Mock) Name() string { return m.GatewayName }

func (m *Mock) Kind() gateway.Kind { return m.GatewayKind }

func (m *Mock) ResolveProviderCode(country, method string) (string, error) {
	if code, ok := m.Corridors[country+":"+method]; ok {
		return code, nil
	}
	return "", corridorError(m.GatewayName, country, method)
}

func (m *Mock) FormatCustomerPhone(country, raw string) string {
	return m.FormatPhone(country, raw)
}

func (m *Mock) Currency(country string) (string, error) {
	if c, ok := m.Currencies[country]; ok {
		return c, nil
	}
	return "", corridorError(m.GatewayName, country, "")
}

func (m *Mock) InitiatePayment(ctx context.Context, req gateway.PaymentRequest) (*gateway.PaymentResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*gateway.PaymentResult)
	return res, args.Error(1)
}

func (m *Mock) FetchStatus(ctx context.Context, reference string) (*gateway.StatusResult, error) {
	args := m.Called(ctx, reference)
	res, _ := args.Get(0).(*gateway.StatusResult)
	return res, args.Error(1)
}

func (m *Mock) ParseWebhook(payload []byte, headers http.Header) (*gateway.WebhookEvent, error) {
	args := m.Called(payload, headers)
	ev, _ := args.Get(0).(*gateway.WebhookEvent)
	return ev, args.Error(1)
}

func corridorError(provider, country, method string) error {
	return &errs.UnsupportedCorridorError{Provider: provider, Country: country, Method: method}
}
