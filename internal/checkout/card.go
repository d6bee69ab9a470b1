package checkout

import (
	"strconv"
	"strings"
	"time"

	"github.com/petmerch/api/internal/model"
)

// FieldErrors maps a credential field to a user-facing message
type FieldErrors map[string]string

// Card field error messages
const (
	MsgInvalidCardNumber = "Invalid card number"
	MsgInvalidExpiry     = "Invalid expiry date"
	MsgCardExpired       = "Card has expired"
	MsgInvalidCVV        = "Invalid CVV"
	MsgInvalidHolderName = "Please enter cardholder name"
	MsgInvalidZipCode    = "Invalid ZIP code"
)

// NormalizeCardNumber strips spaces and dashes
func NormalizeCardNumber(number string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(number)
}

// CardBrand guesses the network from the leading digit
func CardBrand(number string) string {
	n := NormalizeCardNumber(number)
	if n == "" {
		return ""
	}
	switch n[0] {
	case '4':
		return "Visa"
	case '5', '2':
		return "Mastercard"
	case '3':
		return "Amex"
	case '6':
		return "Discover"
	}
	return ""
}

// ValidateCard checks card credentials against now. An empty result means valid.
func ValidateCard(card model.CardDetails, now time.Time) FieldErrors {
	errs := FieldErrors{}

	number := NormalizeCardNumber(card.Number)
	if len(number) < 13 || len(number) > 19 || !isDigits(number) {
		errs["number"] = MsgInvalidCardNumber
	}

	if msg := validateExpiry(card.Expiry, now); msg != "" {
		errs["expiry"] = msg
	}

	cvv := strings.TrimSpace(card.CVV)
	if len(cvv) < 3 || len(cvv) > 4 || !isDigits(cvv) {
		errs["cvv"] = MsgInvalidCVV
	}

	if len([]rune(strings.TrimSpace(card.Name))) < 2 {
		errs["name"] = MsgInvalidHolderName
	}

	if len(strings.TrimSpace(card.ZipCode)) < 5 {
		errs["zipCode"] = MsgInvalidZipCode
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// validateExpiry accepts MM/YY. The card is valid through the end of its month.
func validateExpiry(expiry string, now time.Time) string {
	parts := strings.Split(strings.TrimSpace(expiry), "/")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return MsgInvalidExpiry
	}
	month, err := strconv.Atoi(parts[0])
	if err != nil || month < 1 || month > 12 {
		return MsgInvalidExpiry
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil {
		return MsgInvalidExpiry
	}

	currentYear := now.Year() % 100
	currentMonth := int(now.Month())
	if year < currentYear || (year == currentYear && month < currentMonth) {
		return MsgCardExpired
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
