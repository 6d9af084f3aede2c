package api

import (
	"errors"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"immoledger/server/internal/errs"
)

// Message keys of user-facing checkout errors.
const (
	msgInvalidRequest      = "invalid_request"
	msgUnsupportedCorridor = "unsupported_corridor"
	msgPaymentFailed       = "payment_failed"
	msgPaymentTimeout      = "payment_timeout"
	msgNotFound            = "not_found"
	msgInternal            = "internal_error"
)

var supportedLanguages = []language.Tag{
	language.French, // default for the West and Central African markets
	language.English,
}

var languageMatcher = language.NewMatcher(supportedLanguages)

func init() {
	for key, texts := range map[string][2]string{
		msgInvalidRequest:      {"La demande est invalide : %s", "The request is invalid: %s"},
		msgUnsupportedCorridor: {"Ce moyen de paiement n'est pas disponible dans ce pays.", "This payment method is not available in this country."},
		msgPaymentFailed:       {"Le paiement a été refusé par l'opérateur. Veuillez réessayer.", "The payment was declined by the provider. Please try again."},
		msgPaymentTimeout:      {"L'opérateur n'a pas répondu à temps. Veuillez réessayer.", "The provider did not answer in time. Please try again."},
		msgNotFound:            {"Élément introuvable.", "Not found."},
		msgInternal:            {"Une erreur interne est survenue.", "An internal error occurred."},
	} {
		_ = message.SetString(language.French, key, texts[0])
		_ = message.SetString(language.English, key, texts[1])
	}
}

// printerFor picks the closest supported language from an Accept-Language
// header.
func printerFor(acceptLanguage string) *message.Printer {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return message.NewPrinter(supportedLanguages[0])
	}
	_, index, _ := languageMatcher.Match(tags...)
	return message.NewPrinter(supportedLanguages[index])
}

// translate renders the user-facing message for err.
func translate(p *message.Printer, err error) string {
	var ve *errs.ValidationError
	var ge *errs.GatewayError
	switch {
	case errors.As(err, &ve):
		return p.Sprintf(msgInvalidRequest, ve.Error())
	case errs.IsCorridor(err):
		return p.Sprintf(msgUnsupportedCorridor)
	case errors.As(err, &ge) && ge.Timeout:
		return p.Sprintf(msgPaymentTimeout)
	case errors.As(err, &ge):
		return p.Sprintf(msgPaymentFailed)
	case errors.Is(err, errs.ErrNotFound):
		return p.Sprintf(msgNotFound)
	default:
		return p.Sprintf(msgInternal)
	}
}
