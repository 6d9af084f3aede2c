package gateway

import (
	"strings"

	"immoledger/server/internal/errs"
)

// country describes the numbering plan and currency of a country.
type country struct {
	dial     string
	national int
	// trunk is set where a leading 0 is dialled domestically but dropped
	// in international format.
	trunk    bool
	currency string
}

var countries = map[string]country{
	"CI": {dial: "225", national: 10, currency: "XOF"},
	"SN": {dial: "221", national: 9, currency: "XOF"},
	"BJ": {dial: "229", national: 10, currency: "XOF"},
	"BF": {dial: "226", national: 8, currency: "XOF"},
	"TG": {dial: "228", national: 8, currency: "XOF"},
	"ML": {dial: "223", national: 8, currency: "XOF"},
	"NE": {dial: "227", national: 8, currency: "XOF"},
	"CM": {dial: "237", national: 9, currency: "XAF"},
	"CG": {dial: "242", national: 9, currency: "XAF"},
	"GA": {dial: "241", national: 8, trunk: true, currency: "XAF"},
}

func lookupCountry(code string) (country, bool) {
	c, ok := countries[strings.ToUpper(strings.TrimSpace(code))]
	return c, ok
}

// CurrencyFor returns the settlement currency of a country.
func CurrencyFor(provider, code string) (string, error) {
	c, ok := lookupCountry(code)
	if !ok {
		return "", &errs.UnsupportedCorridorError{Provider: provider, Country: code}
	}
	return c.currency, nil
}

// corridorKey normalizes a (country, method) pair.
func corridorKey(countryCode, method string) string {
	return strings.ToUpper(strings.TrimSpace(countryCode)) + ":" + strings.ToLower(strings.TrimSpace(method))
}

// CorridorTable is a static (country, method) → provider code lookup.
type CorridorTable map[string]string

func (t CorridorTable) resolve(provider, countryCode, method string) (string, error) {
	if code, ok := t[corridorKey(countryCode, method)]; ok {
		return code, nil
	}
	return "", &errs.UnsupportedCorridorError{
		Provider: provider,
		Country:  strings.ToUpper(countryCode),
		Method:   strings.ToLower(method),
	}
}

// pushCorridors are correspondent codes of the deposit API.
var pushCorridors = CorridorTable{
	"CI:orange": "ORANGE_CIV",
	"CI:mtn":    "MTN_MOMO_CIV",
	"CI:moov":   "MOOV_CIV",
	"CI:wave":   "WAVE_CIV",
	"SN:orange": "ORANGE_SEN",
	"SN:free":   "FREE_SEN",
	"SN:wave":   "WAVE_SEN",
	"BJ:mtn":    "MTN_MOMO_BEN",
	"BJ:moov":   "MOOV_BEN",
	"BF:orange": "ORANGE_BFA",
	"BF:moov":   "MOOV_BFA",
	"TG:moov":   "MOOV_TGO",
	"TG:tmoney": "TMONEY_TGO",
	"CM:mtn":    "MTN_MOMO_CMR",
	"CM:orange": "ORANGE_CMR",
	"CG:mtn":    "MTN_MOMO_COG",
	"CG:airtel": "AIRTEL_COG",
	"GA:airtel": "AIRTEL_GAB",
}

// redirectCorridors are channel modes of the hosted checkout.
var redirectCorridors = CorridorTable{
	"CI:orange": "MOBILE_MONEY",
	"CI:mtn":    "MOBILE_MONEY",
	"CI:moov":   "MOBILE_MONEY",
	"CI:wave":   "WALLET",
	"CI:card":   "CREDIT_CARD",
	"SN:orange": "MOBILE_MONEY",
	"SN:free":   "MOBILE_MONEY",
	"SN:wave":   "WALLET",
	"SN:card":   "CREDIT_CARD",
	"CM:mtn":    "MOBILE_MONEY",
	"CM:orange": "MOBILE_MONEY",
	"CM:card":   "CREDIT_CARD",
	"BF:orange": "MOBILE_MONEY",
	"BF:moov":   "MOBILE_MONEY",
	"BF:card":   "CREDIT_CARD",
	"ML:orange": "MOBILE_MONEY",
	"ML:moov":   "MOBILE_MONEY",
	"ML:card":   "CREDIT_CARD",
	"TG:moov":   "MOBILE_MONEY",
	"TG:tmoney": "MOBILE_MONEY",
	"TG:card":   "CREDIT_CARD",
	"BJ:mtn":    "MOBILE_MONEY",
	"BJ:moov":   "MOBILE_MONEY",
	"BJ:card":   "CREDIT_CARD",
}
