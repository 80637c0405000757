/*
payment.go - Payment classification (the EventCodeMapper)

PURPOSE:
  Maps a payment method (and the optional provider-specific method string,
  e.g. Stripe's "card_present" or a wallet name) onto:
    1. The payment audit event code (13014-13017)
    2. The SAF-T payment classification used in the regulatory export

CLASSIFICATION RULES:
  - "cash"                        -> CodeCashPayment,   Kontant
  - "card" (debit by default)     -> CodeCardPayment,   Bankkort
  - "card" + credit provider hint -> CodeCardPayment,   Kreditkort
  - "mobile" / known wallet hint  -> CodeMobilePayment, Mobil
  - anything else                 -> CodeOtherPayment,  Annet

  Unknown inputs always classify to the "other" bucket. An unclassified
  payment is still auditable; silently dropping it would be a compliance
  violation.
*/
package saft

import "strings"

// PaymentClass is the SAF-T payment classification for the regulatory export.
type PaymentClass string

const (
	ClassCash       PaymentClass = "Kontant"
	ClassDebitCard  PaymentClass = "Bankkort"
	ClassCreditCard PaymentClass = "Kreditkort"
	ClassMobile     PaymentClass = "Mobil"
	ClassOther      PaymentClass = "Annet"
)

// mobile wallet hints seen in provider method strings
var walletHints = []string{"vipps", "mobilepay", "apple_pay", "google_pay", "swish"}

// PaymentCode maps a payment method and optional provider method onto the
// payment audit event code. Never returns an invalid code.
func PaymentCode(method, providerMethod string) EventCode {
	switch normalizeMethod(method, providerMethod) {
	case "cash":
		return CodeCashPayment
	case "card":
		return CodeCardPayment
	case "mobile":
		return CodeMobilePayment
	default:
		return CodeOtherPayment
	}
}

// Classify maps a payment method and optional provider method onto the SAF-T
// payment classification.
func Classify(method, providerMethod string) PaymentClass {
	switch normalizeMethod(method, providerMethod) {
	case "cash":
		return ClassCash
	case "card":
		if strings.Contains(strings.ToLower(providerMethod), "credit") {
			return ClassCreditCard
		}
		return ClassDebitCard
	case "mobile":
		return ClassMobile
	default:
		return ClassOther
	}
}

// normalizeMethod folds the provider method into the coarse payment method.
// A charge reported as "card" by the caller but carried by a mobile wallet
// is classified as mobile, which is what the regulation cares about.
func normalizeMethod(method, providerMethod string) string {
	m := strings.ToLower(strings.TrimSpace(method))
	p := strings.ToLower(strings.TrimSpace(providerMethod))

	for _, hint := range walletHints {
		if strings.Contains(p, hint) {
			return "mobile"
		}
	}

	switch m {
	case "cash", "card", "mobile":
		return m
	case "card_present", "debit", "credit":
		return "card"
	default:
		return "other"
	}
}
