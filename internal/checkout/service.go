package checkout

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/petmerch/api/internal/catalog"
	"github.com/petmerch/api/internal/model"
)

// SessionStore persists checkout sessions. Update applies fn atomically per session id;
// an error from fn aborts the write.
type SessionStore interface {
	Create(ctx context.Context, session *model.CheckoutSession) error
	Get(ctx context.Context, id string) (*model.CheckoutSession, error)
	Update(ctx context.Context, id string, fn func(*model.CheckoutSession) error) (*model.CheckoutSession, error)
}

// DesignSource reads design jobs
type DesignSource interface {
	Status(ctx context.Context, id string) (*model.DesignJob, error)
}

// Scheduler runs order settlement after a delay
type Scheduler interface {
	ScheduleSettlement(ctx context.Context, sessionID string, delay time.Duration) error
}

const (
	lockStripes = 64

	// paymentClaimTTL bounds how long a crashed payment attempt blocks the session
	paymentClaimTTL = 2 * time.Minute
)

var errClaimLost = errors.New("payment claim lost")

// ServiceOptions tune the checkout service
type ServiceOptions struct {
	SettlementDelay time.Duration
	Now             func() time.Time
}

// Service orchestrates checkout sessions on top of a SessionStore
type Service struct {
	sessions    SessionStore
	designs     DesignSource
	authorizer  Authorizer
	scheduler   Scheduler
	local       *localScheduler
	settleDelay time.Duration
	now         func() time.Time
	log         zerolog.Logger
	locks       [lockStripes]sync.Mutex
}

// NewService creates the service. A nil scheduler settles orders in-process.
func NewService(sessions SessionStore, designs DesignSource, authorizer Authorizer, scheduler Scheduler, opts ServiceOptions, log zerolog.Logger) *Service {
	s := &Service{
		sessions:    sessions,
		designs:     designs,
		authorizer:  authorizer,
		settleDelay: opts.SettlementDelay,
		now:         opts.Now,
		log:         log.With().Str("component", "checkout").Logger(),
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.local = newLocalScheduler(s.CompleteOrder, s.log)
	s.scheduler = scheduler
	if s.scheduler == nil {
		s.scheduler = s.local
	}
	return s
}

// Close stops pending in-process settlements
func (s *Service) Close() {
	s.local.Close()
}

// Create starts a checkout over mockups of a completed design
func (s *Service) Create(ctx context.Context, userID string, req *model.CreateCheckoutRequest) (*model.CheckoutSessionResponse, error) {
	design, err := s.designs.Status(ctx, req.DesignID)
	if err != nil {
		return nil, err
	}
	if design.Status != model.DesignStatusCompleted {
		return nil, model.NewValidationError("designId", "Design is not ready for checkout")
	}

	designURL := ""
	if len(design.GeneratedImages) > 0 {
		designURL = design.GeneratedImages[0].URL
	}

	items := make([]model.CheckoutItem, 0, len(req.Items))
	for i, sel := range req.Items {
		mockup := findMockup(design.Mockups, sel.MockupID)
		if mockup == nil {
			return nil, model.NewValidationError(fmt.Sprintf("items[%d].mockupId", i), "Unknown mockup")
		}
		product := catalog.ProductFor(mockup.ProductType)
		if !catalog.AllowsOption(product.Sizes, sel.Size) {
			return nil, model.NewValidationError(fmt.Sprintf("items[%d].size", i), "Unsupported size")
		}
		if !catalog.AllowsOption(product.Colors, sel.Color) {
			return nil, model.NewValidationError(fmt.Sprintf("items[%d].color", i), "Unsupported color")
		}
		quantity := sel.Quantity
		if quantity < 1 {
			quantity = 1
		}
		items = append(items, model.CheckoutItem{
			ID:          uuid.New().String(),
			ProductName: mockup.ProductName,
			ProductType: mockup.ProductType,
			Price:       mockup.Price,
			MockupURL:   mockup.ImageURL,
			DesignURL:   designURL,
			Quantity:    quantity,
			Size:        sel.Size,
			Color:       sel.Color,
		})
	}

	session := NewSession(items, s.now())
	session.DesignID = design.ID
	session.UserID = userID

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	s.log.Info().Str("session_id", session.ID).Str("design_id", design.ID).Int("items", len(items)).Msg("checkout started")
	return s.view(session), nil
}

// Get returns a session with its totals
func (s *Service) Get(ctx context.Context, id string) (*model.CheckoutSessionResponse, error) {
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(session), nil
}

// Continue moves REVIEW to SHIPPING
func (s *Service) Continue(ctx context.Context, id string) (*model.CheckoutSessionResponse, error) {
	return s.apply(ctx, id, func(m *Machine) error { return m.Continue() })
}

// Back goes one step back
func (s *Service) Back(ctx context.Context, id string) (*model.CheckoutSessionResponse, error) {
	return s.apply(ctx, id, func(m *Machine) error { return m.Back() })
}

// SubmitShipping saves the shipping draft and advances when it is complete
func (s *Service) SubmitShipping(ctx context.Context, id string, info model.ShippingInfo) (*model.ShippingResponse, error) {
	var missing []string
	view, err := s.apply(ctx, id, func(m *Machine) error {
		var err error
		missing, err = m.SubmitShipping(info)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &model.ShippingResponse{CheckoutSessionResponse: view, MissingFields: missing}, nil
}

// SelectPaymentMethod switches between card and paypal
func (s *Service) SelectPaymentMethod(ctx context.Context, id string, method model.PaymentMethod) (*model.CheckoutSessionResponse, error) {
	return s.apply(ctx, id, func(m *Machine) error { return m.SelectPaymentMethod(method) })
}

// SetAgreeToTerms records the terms flag
func (s *Service) SetAgreeToTerms(ctx context.Context, id string, agree bool) (*model.CheckoutSessionResponse, error) {
	return s.apply(ctx, id, func(m *Machine) error { return m.SetAgreeToTerms(agree) })
}

// Pay authorizes the session total. On a refusal the updated session is returned
// together with a *model.PaymentError.
//
// The attempt is claimed in the store before the gateway is called, so only one
// caller per session authorizes at a time, across instances.
func (s *Service) Pay(ctx context.Context, id string, req *model.PayRequest) (*model.CheckoutSessionResponse, error) {
	unlock := s.lock(id)
	defer unlock()

	session, err := s.claimPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	attempt := session.PaymentAttempt
	release := true
	defer func() {
		if release {
			s.releasePayment(context.WithoutCancel(ctx), id, attempt)
		}
	}()

	m := NewMachine(session, s.authorizer, WithClock(s.now))
	if req != nil && req.Card != nil {
		if err := m.SetCard(*req.Card); err != nil {
			return nil, err
		}
	}
	if req != nil && req.PayPal != nil {
		if err := m.SetPayPal(*req.PayPal); err != nil {
			return nil, err
		}
	}

	payErr := m.Pay(ctx)
	if payErr != nil && !isPaymentError(payErr) {
		return nil, payErr
	}
	// An authorized attempt keeps its claim until it expires if it cannot be recorded.
	release = payErr != nil

	result := m.Session()
	result.PaymentAttempt = ""
	result.PaymentAttemptAt = nil
	saved, err := s.sessions.Update(ctx, id, func(current *model.CheckoutSession) error {
		if current.Step != model.StepPayment || current.PaymentAttempt != attempt {
			return &model.TransitionError{From: current.Step, Action: "pay", Reason: "payment attempt superseded"}
		}
		*current = *result
		return nil
	})
	if err != nil {
		if payErr == nil {
			s.log.Error().Err(err).
				Str("session_id", id).
				Str("transaction_id", result.TransactionID).
				Str("amount", result.AuthorizedAmount.StringFixed(2)).
				Msg("authorized payment could not be recorded, void it manually")
		}
		return nil, err
	}
	release = false

	if payErr != nil {
		s.log.Info().Str("session_id", id).Str("reason", saved.PaymentError).Msg("payment refused")
		return s.view(saved), payErr
	}

	s.log.Info().
		Str("session_id", id).
		Str("transaction_id", saved.TransactionID).
		Str("amount", saved.AuthorizedAmount.StringFixed(2)).
		Msg("payment authorized")

	if err := s.scheduler.ScheduleSettlement(ctx, id, s.settleDelay); err != nil {
		s.log.Warn().Err(err).Str("session_id", id).Msg("settlement scheduling failed, settling in-process")
		_ = s.local.ScheduleSettlement(ctx, id, s.settleDelay)
	}
	return s.view(saved), nil
}

// claimPayment marks a payment attempt on the session. A live claim held by
// another caller rejects the request; one older than paymentClaimTTL is taken over.
func (s *Service) claimPayment(ctx context.Context, id string) (*model.CheckoutSession, error) {
	now := s.now()
	return s.sessions.Update(ctx, id, func(current *model.CheckoutSession) error {
		if current.Step != model.StepPayment {
			return &model.TransitionError{From: current.Step, Action: "pay"}
		}
		if current.PaymentAttempt != "" && current.PaymentAttemptAt != nil && now.Sub(*current.PaymentAttemptAt) < paymentClaimTTL {
			return &model.TransitionError{From: current.Step, Action: "pay", Reason: "payment already in progress"}
		}
		current.PaymentAttempt = uuid.New().String()
		current.PaymentAttemptAt = &now
		return nil
	})
}

func (s *Service) releasePayment(ctx context.Context, id, attempt string) {
	_, err := s.sessions.Update(ctx, id, func(current *model.CheckoutSession) error {
		if current.PaymentAttempt != attempt {
			return errClaimLost
		}
		current.PaymentAttempt = ""
		current.PaymentAttemptAt = nil
		return nil
	})
	if err != nil && !errors.Is(err, errClaimLost) {
		s.log.Warn().Err(err).Str("session_id", id).Msg("payment claim not released")
	}
}

// CompleteOrder finalizes a PROCESSING session. Repeated calls return the same order id.
func (s *Service) CompleteOrder(ctx context.Context, id string) (*model.CheckoutSessionResponse, error) {
	view, err := s.apply(ctx, id, func(m *Machine) error {
		_, err := m.Complete()
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("session_id", id).Str("order_id", view.OrderID).Msg("order completed")
	return view, nil
}

func (s *Service) apply(ctx context.Context, id string, op func(*Machine) error) (*model.CheckoutSessionResponse, error) {
	unlock := s.lock(id)
	defer unlock()

	session, err := s.sessions.Update(ctx, id, func(current *model.CheckoutSession) error {
		return op(NewMachine(current, s.authorizer, WithClock(s.now)))
	})
	if err != nil {
		return nil, err
	}
	return s.view(session), nil
}

// lock serializes work on one session within this process
func (s *Service) lock(id string) func() {
	mu := s.stripe(id)
	mu.Lock()
	return mu.Unlock
}

func (s *Service) stripe(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.locks[h.Sum32()%lockStripes]
}

func (s *Service) view(session *model.CheckoutSession) *model.CheckoutSessionResponse {
	return &model.CheckoutSessionResponse{
		CheckoutSession: session,
		Totals:          ComputeTotals(session.Items).View(),
	}
}

func findMockup(mockups []model.Mockup, id string) *model.Mockup {
	for i := range mockups {
		if mockups[i].ID == id {
			return &mockups[i]
		}
	}
	return nil
}

func isPaymentError(err error) bool {
	_, ok := err.(*model.PaymentError)
	return ok
}
