package checkout

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/petmerch/api/internal/model"
)

// Refusal messages written into the session
const (
	MsgAgreeToTerms       = "Please agree to the terms and conditions"
	MsgCorrectCard        = "Please correct the card information"
	MsgConnectPayPal      = "Please sign in with PayPal"
	DefaultCountry        = "US"
	DefaultCurrency       = "usd"
	DefaultSettlementWait = 2 * time.Second
)

// NewSession creates a session at REVIEW over an immutable cart
func NewSession(items []model.CheckoutItem, now time.Time) *model.CheckoutSession {
	cart := make([]model.CheckoutItem, len(items))
	copy(cart, items)
	return &model.CheckoutSession{
		ID:            uuid.New().String(),
		Items:         cart,
		Step:          model.StepReview,
		Shipping:      model.ShippingInfo{Country: DefaultCountry},
		PaymentMethod: model.PaymentMethodCard,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Machine drives one session through REVIEW, SHIPPING, PAYMENT, PROCESSING and COMPLETE.
// Credentials live only on the machine and are never written to the session.
type Machine struct {
	session    *model.CheckoutSession
	authorizer Authorizer
	now        func() time.Time

	card   *model.CardDetails
	paypal *model.PayPalDetails
}

// Option configures a Machine
type Option func(*Machine)

// WithClock overrides the time source used for expiry checks and timestamps
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// NewMachine wraps session. The session is mutated in place.
func NewMachine(session *model.CheckoutSession, authorizer Authorizer, opts ...Option) *Machine {
	m := &Machine{
		session:    session,
		authorizer: authorizer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Session returns the wrapped session
func (m *Machine) Session() *model.CheckoutSession {
	return m.session
}

// Step returns the current step
func (m *Machine) Step() model.CheckoutStep {
	return m.session.Step
}

// Totals computes the current cart totals
func (m *Machine) Totals() OrderTotals {
	return ComputeTotals(m.session.Items)
}

// Continue moves REVIEW to SHIPPING
func (m *Machine) Continue() error {
	if m.session.Step != model.StepReview {
		return &model.TransitionError{From: m.session.Step, Action: "continue"}
	}
	m.moveTo(model.StepShipping)
	return nil
}

// Back moves SHIPPING to REVIEW and PAYMENT to SHIPPING
func (m *Machine) Back() error {
	switch m.session.Step {
	case model.StepShipping:
		m.moveTo(model.StepReview)
	case model.StepPayment:
		m.session.PaymentError = ""
		m.session.FieldErrors = nil
		m.moveTo(model.StepShipping)
	default:
		return &model.TransitionError{From: m.session.Step, Action: "go back"}
	}
	return nil
}

// SubmitShipping stores the shipping draft and advances to PAYMENT when it is complete.
// An incomplete draft is a silent refusal: the step stays SHIPPING and the missing
// field names are returned.
func (m *Machine) SubmitShipping(info model.ShippingInfo) ([]string, error) {
	if m.session.Step != model.StepShipping {
		return nil, &model.TransitionError{From: m.session.Step, Action: "submit shipping"}
	}
	if strings.TrimSpace(info.Country) == "" {
		info.Country = DefaultCountry
	}
	m.session.Shipping = info
	m.touch()

	if missing := info.MissingFields(); len(missing) > 0 {
		return missing, nil
	}
	m.moveTo(model.StepPayment)
	return nil, nil
}

// SelectPaymentMethod switches the credential path and drops the other path's drafts
func (m *Machine) SelectPaymentMethod(method model.PaymentMethod) error {
	if m.session.Step != model.StepPayment {
		return &model.TransitionError{From: m.session.Step, Action: "select payment method"}
	}
	if !method.IsValid() {
		return model.NewValidationError("method", "Unsupported payment method")
	}
	if method != m.session.PaymentMethod {
		m.card = nil
		m.paypal = nil
		m.session.FieldErrors = nil
	}
	m.session.PaymentMethod = method
	m.touch()
	return nil
}

// SetAgreeToTerms records the terms checkbox
func (m *Machine) SetAgreeToTerms(agree bool) error {
	if m.session.Step != model.StepPayment {
		return &model.TransitionError{From: m.session.Step, Action: "set terms"}
	}
	m.session.AgreeToTerms = agree
	m.touch()
	return nil
}

// SetCard stages card credentials for the next Pay
func (m *Machine) SetCard(card model.CardDetails) error {
	if m.session.PaymentMethod != model.PaymentMethodCard {
		return model.NewValidationError("card", "Card details require the card payment method")
	}
	m.card = &card
	m.paypal = nil
	return nil
}

// SetPayPal stages PayPal credentials for the next Pay
func (m *Machine) SetPayPal(details model.PayPalDetails) error {
	if m.session.PaymentMethod != model.PaymentMethodPayPal {
		return model.NewValidationError("paypal", "PayPal details require the paypal payment method")
	}
	m.paypal = &details
	m.card = nil
	return nil
}

// Pay authorizes the computed total and advances to PROCESSING on success.
// A refusal is written to the session and returned as *model.PaymentError;
// the step stays PAYMENT. Context errors leave the session untouched.
func (m *Machine) Pay(ctx context.Context) error {
	if m.session.Step != model.StepPayment {
		return &model.TransitionError{From: m.session.Step, Action: "pay"}
	}

	m.session.PaymentError = ""
	m.session.FieldErrors = nil

	if !m.session.AgreeToTerms {
		return m.refuse(MsgAgreeToTerms, nil)
	}

	totals := m.Totals()
	req := AuthorizationRequest{
		SessionID: m.session.ID,
		Amount:    totals.Total,
		Currency:  DefaultCurrency,
		Method:    m.session.PaymentMethod,
	}
	if m.session.PaymentAttempt != "" {
		req.IdempotencyKey = m.session.ID + ":" + m.session.PaymentAttempt
	}

	switch m.session.PaymentMethod {
	case model.PaymentMethodCard:
		if m.card == nil {
			return m.refuse(MsgCorrectCard, FieldErrors{"number": MsgInvalidCardNumber})
		}
		if errs := ValidateCard(*m.card, m.now()); len(errs) > 0 {
			return m.refuse(MsgCorrectCard, errs)
		}
		req.Card = m.card
	case model.PaymentMethodPayPal:
		if m.paypal == nil || !strings.Contains(m.paypal.Email, "@") {
			return m.refuse(MsgConnectPayPal, nil)
		}
		req.PayPal = m.paypal
	default:
		return m.refuse("Please select a payment method", nil)
	}

	result, err := m.authorizer.Authorize(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return m.refuse(ReasonGatewayFailed, nil)
	}
	if !result.Success {
		reason := result.Reason
		if reason == "" {
			reason = ReasonCardDeclined
		}
		return m.refuse(reason, nil)
	}

	amount := totals.Total
	m.session.TransactionID = result.TransactionID
	m.session.AuthorizedAmount = &amount
	m.card = nil
	m.paypal = nil
	m.moveTo(model.StepProcessing)
	return nil
}

// Settle waits for the settlement delay and then completes the order
func (m *Machine) Settle(ctx context.Context, delay time.Duration) (string, error) {
	if m.session.Step != model.StepProcessing && m.session.Step != model.StepComplete {
		return "", &model.TransitionError{From: m.session.Step, Action: "settle"}
	}
	if m.session.Step == model.StepProcessing && delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return m.Complete()
}

// Complete moves PROCESSING to COMPLETE and assigns the order id.
// Calling it again returns the same id.
func (m *Machine) Complete() (string, error) {
	switch m.session.Step {
	case model.StepComplete:
		return m.session.OrderID, nil
	case model.StepProcessing:
	default:
		return "", &model.TransitionError{From: m.session.Step, Action: "complete"}
	}

	if m.session.OrderID == "" {
		m.session.OrderID = NewOrderID()
	}
	now := m.now()
	m.session.CompletedAt = &now
	m.moveTo(model.StepComplete)
	return m.session.OrderID, nil
}

// NewOrderID mints an order_<token> identifier
func NewOrderID() string {
	return "order_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// AuthorizedAmount returns the amount charged, or zero before payment
func (m *Machine) AuthorizedAmount() decimal.Decimal {
	if m.session.AuthorizedAmount == nil {
		return decimal.Zero
	}
	return *m.session.AuthorizedAmount
}

func (m *Machine) refuse(reason string, fields FieldErrors) error {
	m.session.PaymentError = reason
	if len(fields) > 0 {
		m.session.FieldErrors = map[string]string(fields)
	}
	m.touch()
	return &model.PaymentError{Reason: reason, FieldErrors: fields}
}

func (m *Machine) moveTo(step model.CheckoutStep) {
	m.session.Step = step
	m.touch()
}

func (m *Machine) touch() {
	m.session.UpdatedAt = m.now()
}
