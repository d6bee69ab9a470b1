package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CheckoutStep is a position in the linear checkout flow
type CheckoutStep string

const (
	StepReview     CheckoutStep = "REVIEW"
	StepShipping   CheckoutStep = "SHIPPING"
	StepPayment    CheckoutStep = "PAYMENT"
	StepProcessing CheckoutStep = "PROCESSING"
	StepComplete   CheckoutStep = "COMPLETE"
)

// PaymentMethod selects the active credential path
type PaymentMethod string

const (
	PaymentMethodCard   PaymentMethod = "card"
	PaymentMethodPayPal PaymentMethod = "paypal"
)

func (m PaymentMethod) IsValid() bool {
	return m == PaymentMethodCard || m == PaymentMethodPayPal
}

// CheckoutItem is a priced line in the cart. Price is fixed when the item is selected.
type CheckoutItem struct {
	ID          string          `json:"id"`
	ProductName string          `json:"productName"`
	ProductType string          `json:"productType"`
	Price       decimal.Decimal `json:"price"`
	MockupURL   string          `json:"mockupUrl"`
	DesignURL   string          `json:"designUrl"`
	Quantity    int             `json:"quantity"`
	Size        string          `json:"size,omitempty"`
	Color       string          `json:"color,omitempty"`
}

// LineTotal returns price times quantity
func (i CheckoutItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ShippingInfo is the delivery address draft
type ShippingInfo struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	Address   string `json:"address"`
	City      string `json:"city"`
	State     string `json:"state"`
	ZipCode   string `json:"zipCode"`
	Country   string `json:"country"`
}

// MissingFields lists required fields that are blank after trimming
func (s ShippingInfo) MissingFields() []string {
	required := []struct {
		name  string
		value string
	}{
		{"firstName", s.FirstName},
		{"lastName", s.LastName},
		{"email", s.Email},
		{"address", s.Address},
		{"city", s.City},
		{"state", s.State},
		{"zipCode", s.ZipCode},
	}

	var missing []string
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// IsValid reports whether all required fields are present
func (s ShippingInfo) IsValid() bool {
	return len(s.MissingFields()) == 0
}

// CardDetails are card credentials. They are never persisted.
type CardDetails struct {
	Number  string `json:"number"`
	Expiry  string `json:"expiry"`
	CVV     string `json:"cvv"`
	Name    string `json:"name"`
	ZipCode string `json:"zipCode"`
}

// PayPalDetails identify the PayPal account to charge
type PayPalDetails struct {
	Email string `json:"email" validate:"required,email"`
}

// CheckoutSession is the persisted state of one checkout flow
type CheckoutSession struct {
	ID               string            `json:"id"`
	DesignID         string            `json:"designId,omitempty"`
	UserID           string            `json:"userId,omitempty"`
	Items            []CheckoutItem    `json:"items"`
	Step             CheckoutStep      `json:"step"`
	Shipping         ShippingInfo      `json:"shipping"`
	PaymentMethod    PaymentMethod     `json:"paymentMethod"`
	AgreeToTerms     bool              `json:"agreeToTerms"`
	PaymentError     string            `json:"paymentError,omitempty"`
	FieldErrors      map[string]string `json:"fieldErrors,omitempty"`
	TransactionID    string            `json:"transactionId,omitempty"`
	AuthorizedAmount *decimal.Decimal  `json:"authorizedAmount,omitempty"`
	OrderID          string            `json:"orderId,omitempty"`
	PaymentAttempt   string            `json:"paymentAttempt,omitempty"`
	PaymentAttemptAt *time.Time        `json:"paymentAttemptAt,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	CompletedAt      *time.Time        `json:"completedAt,omitempty"`
}

// CreateCheckoutRequest starts a checkout from a completed design
type CreateCheckoutRequest struct {
	DesignID string                `json:"designId" validate:"required"`
	Items    []CheckoutItemRequest `json:"items" validate:"required,min=1,dive"`
}

// CheckoutItemRequest selects one mockup of the design
type CheckoutItemRequest struct {
	MockupID string `json:"mockupId" validate:"required"`
	Quantity int    `json:"quantity" validate:"omitempty,min=1,max=99"`
	Size     string `json:"size,omitempty"`
	Color    string `json:"color,omitempty"`
}

// PaymentMethodRequest switches the active payment method
type PaymentMethodRequest struct {
	Method PaymentMethod `json:"method" validate:"required,oneof=card paypal"`
}

// TermsRequest sets the terms agreement flag
type TermsRequest struct {
	AgreeToTerms bool `json:"agreeToTerms"`
}

// PayRequest carries the credentials for the active payment method
type PayRequest struct {
	Card   *CardDetails   `json:"card,omitempty"`
	PayPal *PayPalDetails `json:"paypal,omitempty"`
}

// OrderTotalsView is the display form of the derived totals
type OrderTotalsView struct {
	Subtotal     string `json:"subtotal"`
	Shipping     string `json:"shipping"`
	Tax          string `json:"tax"`
	Total        string `json:"total"`
	FreeShipping bool   `json:"freeShipping"`
}

// CheckoutSessionResponse is a session plus its totals
type CheckoutSessionResponse struct {
	*CheckoutSession
	Totals OrderTotalsView `json:"totals"`
}

// ShippingResponse reports whether the shipping gate let the session advance
type ShippingResponse struct {
	*CheckoutSessionResponse
	MissingFields []string `json:"missingFields,omitempty"`
}
