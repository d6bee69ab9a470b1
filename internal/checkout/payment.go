package checkout

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/petmerch/api/internal/model"
)

// Decline reasons
const (
	ReasonCardDeclined  = "Card declined"
	ReasonIncorrectCVC  = "Incorrect CVC"
	ReasonExpiredCard   = "Expired card"
	ReasonGatewayFailed = "Payment failed. Please check your card details and try again."
)

// Reserved test card numbers and the decline each one produces.
var reservedCards = map[string]string{
	"4000000000000002": ReasonCardDeclined,
	"4000000000000127": ReasonIncorrectCVC,
	"4000000000000069": ReasonExpiredCard,
}

// AuthorizationRequest asks the gateway to authorize an amount
type AuthorizationRequest struct {
	SessionID string
	// IdempotencyKey is stable for one payment attempt so a gateway can drop duplicates
	IdempotencyKey string
	Amount         decimal.Decimal
	Currency       string
	Method         model.PaymentMethod
	Card           *model.CardDetails
	PayPal         *model.PayPalDetails
}

// AuthorizationResult is the gateway's answer. Reason is set when Success is false.
type AuthorizationResult struct {
	Success       bool
	TransactionID string
	Reason        string
}

// Authorizer authorizes payments
type Authorizer interface {
	Authorize(ctx context.Context, req AuthorizationRequest) (*AuthorizationResult, error)
}

// SimulatedAuthorizer is a deterministic gateway. Reserved card numbers decline,
// everything else succeeds.
type SimulatedAuthorizer struct {
	delay time.Duration
}

// NewSimulatedAuthorizer creates a simulator that waits delay to mimic network latency
func NewSimulatedAuthorizer(delay time.Duration) *SimulatedAuthorizer {
	return &SimulatedAuthorizer{delay: delay}
}

func (a *SimulatedAuthorizer) Authorize(ctx context.Context, req AuthorizationRequest) (*AuthorizationResult, error) {
	if a.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.delay):
		}
	}

	if req.Method == model.PaymentMethodCard && req.Card != nil {
		if reason, ok := reservedCards[NormalizeCardNumber(req.Card.Number)]; ok {
			return &AuthorizationResult{Success: false, Reason: reason}, nil
		}
	}

	return &AuthorizationResult{
		Success:       true,
		TransactionID: newTransactionID(),
	}, nil
}

// ChaosAuthorizer declines a fixed fraction of requests before delegating
type ChaosAuthorizer struct {
	next        Authorizer
	declineRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewChaosAuthorizer wraps next with random declines at declineRate in [0,1]
func NewChaosAuthorizer(next Authorizer, declineRate float64, seed int64) *ChaosAuthorizer {
	return &ChaosAuthorizer{
		next:        next,
		declineRate: declineRate,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

func (a *ChaosAuthorizer) Authorize(ctx context.Context, req AuthorizationRequest) (*AuthorizationResult, error) {
	a.mu.Lock()
	roll := a.rng.Float64()
	a.mu.Unlock()

	if roll < a.declineRate {
		return &AuthorizationResult{Success: false, Reason: ReasonCardDeclined}, nil
	}
	return a.next.Authorize(ctx, req)
}

func newTransactionID() string {
	return "pi_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}
