package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petmerch/api/internal/catalog"
	"github.com/petmerch/api/internal/logging"
	"github.com/petmerch/api/internal/model"
	"github.com/petmerch/api/internal/store"
)

type designMap map[string]*model.DesignJob

func (d designMap) Status(_ context.Context, id string) (*model.DesignJob, error) {
	job, ok := d[id]
	if !ok {
		return nil, &model.NotFoundError{Resource: "design", ID: id}
	}
	return job, nil
}

type recordingScheduler struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *recordingScheduler) ScheduleSettlement(_ context.Context, sessionID string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sessionID)
	return s.err
}

func completedDesign(id string) *model.DesignJob {
	mockups := make([]model.Mockup, 0, len(catalog.ProductTypes()))
	for _, pt := range catalog.ProductTypes() {
		p := catalog.ProductFor(pt)
		mockups = append(mockups, model.Mockup{
			ID:          catalog.MockupID(id, pt),
			ProductType: pt,
			ProductName: p.Name,
			ImageURL:    "https://img/" + pt + ".png",
			Price:       p.Price,
		})
	}
	return &model.DesignJob{
		ID:              id,
		Status:          model.DesignStatusCompleted,
		GeneratedImages: []model.GeneratedImage{{ID: catalog.GeneratedImageID(id, 1), URL: "https://img/art.png"}},
		Mockups:         mockups,
	}
}

func newTestService(t *testing.T, scheduler Scheduler, delay time.Duration) *Service {
	t.Helper()
	designs := designMap{
		"d1":      completedDesign("d1"),
		"pending": {ID: "pending", Status: model.DesignStatusProcessing},
	}
	svc := NewService(store.NewMemorySessionStore(), designs, NewSimulatedAuthorizer(0), scheduler, ServiceOptions{
		SettlementDelay: delay,
		Now:             func() time.Time { return cardClock },
	}, logging.Nop())
	t.Cleanup(svc.Close)
	return svc
}

func createRequest(items ...model.CheckoutItemRequest) *model.CreateCheckoutRequest {
	return &model.CreateCheckoutRequest{DesignID: "d1", Items: items}
}

func toPayment(t *testing.T, svc *Service, id string) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.Continue(ctx, id)
	require.NoError(t, err)
	res, err := svc.SubmitShipping(ctx, id, validShipping())
	require.NoError(t, err)
	require.Empty(t, res.MissingFields)
	_, err = svc.SetAgreeToTerms(ctx, id, true)
	require.NoError(t, err)
}

func TestService_Create(t *testing.T) {
	svc := newTestService(t, &recordingScheduler{}, 0)

	res, err := svc.Create(context.Background(), "user-1", createRequest(
		model.CheckoutItemRequest{MockupID: "mockup-d1-tee", Quantity: 2, Size: "L", Color: "Black"},
		model.CheckoutItemRequest{MockupID: "mockup-d1-mug"},
	))
	require.NoError(t, err)

	assert.Equal(t, model.StepReview, res.Step)
	assert.Equal(t, "user-1", res.UserID)
	assert.Equal(t, "d1", res.DesignID)
	require.Len(t, res.Items, 2)
	assert.Equal(t, 2, res.Items[0].Quantity)
	assert.Equal(t, 1, res.Items[1].Quantity)
	assert.Equal(t, "https://img/art.png", res.Items[0].DesignURL)
	assert.True(t, decimal.RequireFromString("15.99").Equal(res.Items[1].Price))

	// 2*25.99 + 15.99 = 67.97, ships free
	assert.Equal(t, "67.97", res.Totals.Subtotal)
	assert.True(t, res.Totals.FreeShipping)
}

func TestService_Create_Rejections(t *testing.T) {
	svc := newTestService(t, &recordingScheduler{}, 0)
	ctx := context.Background()

	_, err := svc.Create(ctx, "", &model.CreateCheckoutRequest{DesignID: "missing", Items: []model.CheckoutItemRequest{{MockupID: "x"}}})
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = svc.Create(ctx, "", &model.CreateCheckoutRequest{DesignID: "pending", Items: []model.CheckoutItemRequest{{MockupID: "x"}}})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = svc.Create(ctx, "", createRequest(model.CheckoutItemRequest{MockupID: "mockup-d1-spaceship"}))
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = svc.Create(ctx, "", createRequest(model.CheckoutItemRequest{MockupID: "mockup-d1-tee", Size: "XS"}))
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = svc.Create(ctx, "", createRequest(model.CheckoutItemRequest{MockupID: "mockup-d1-mug", Color: "Purple"}))
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestService_PaySchedulesSettlement(t *testing.T) {
	sched := &recordingScheduler{}
	svc := newTestService(t, sched, time.Minute)
	ctx := context.Background()

	created, err := svc.Create(ctx, "", createRequest(model.CheckoutItemRequest{MockupID: "mockup-d1-tee"}))
	require.NoError(t, err)
	toPayment(t, svc, created.ID)

	card := validCard()
	res, err := svc.Pay(ctx, created.ID, &model.PayRequest{Card: &card})
	require.NoError(t, err)

	assert.Equal(t, model.StepProcessing, res.Step)
	assert.NotEmpty(t, res.TransactionID)
	require.NotNil(t, res.AuthorizedAmount)
	assert.True(t, decimal.RequireFromString("36.0592").Equal(*res.AuthorizedAmount))
	assert.Equal(t, []string{created.ID}, sched.calls)

	stored, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StepProcessing, stored.Step)
}

func TestService_PayDeclineKeepsPayment(t *testing.T) {
	sched := &recordingScheduler{}
	svc := newTestService(t, sched, 0)
	ctx := context.Background()

	created, err := svc.Create(ctx, "", createRequest(model.CheckoutItemRequest{MockupID: "mockup-d1-tee"}))
	require.NoError(t, err)
	toPayment(t, svc, created.ID)

	card := validCard()
	card.Number = "4000000000000127"
	res, err := svc.Pay(ctx, created.ID, &model.PayRequest{Card: &card})

	var pErr *model.PaymentError
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, ReasonIncorrectCVC, pErr.Reason)
	require.NotNil(t, res)
	assert.Equal(t, model.StepPayment, res.Step)
	assert.Equal(t, ReasonIncorrectCVC, res.PaymentError)
	assert.Empty(t, sched.calls)

	stored, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, ReasonIncorrectCVC, stored.PaymentError)
	assert.Nil(t, stored.AuthorizedAmount)
}

func TestService_PayWrongStep(t *testing.T) {
	svc := newTestService(t, &recordingScheduler{}, 0)
	ctx := context.Background()

	created, err := svc.Create(ctx, "", createRequest(model.CheckoutItemRequest{MockupID: "mockup-d1-tee"}))
	require.NoError(t, err)

	card := validCard()
	_, err = svc.Pay(ctx, created.ID, &model.PayRequest{Card: &card})
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestService_SchedulerFailureSettlesLocally(t *testing.T) {
	sched := &recordingScheduler{err: errors.New("queue down")}
	svc := newTestService(t, sched, 10*time.Millisecond)
	ctx := context.Background()

	created, err := svc.Create(ctx, "", createRequest(model.CheckoutItemRequest{MockupID: "mockup-d1-tee"}))
	require.NoError(t, err)
	toPayment(t, svc, created.ID)

	card := validCard()
	_, err = svc.Pay(ctx, created.ID, &model.PayRequest{Card: &card})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, err := svc.Get(ctx, created.ID)
		return err == nil && s.Step == model.StepComplete
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_CompleteOrderIsIdempotent(t *testing.T) {
	svc := newTestService(t, &recordingScheduler{}, 0)
	ctx := context.Background()

	created, err := svc.Create(ctx, "", createRequest(model.CheckoutItemRequest{MockupID: "mockup-d1-tee"}))
	require.NoError(t, err)

	_, err = svc.CompleteOrder(ctx, created.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	toPayment(t, svc, created.ID)
	card := validCard()
	_, err = svc.Pay(ctx, created.ID, &model.PayRequest{Card: &card})
	require.NoError(t, err)

	first, err := svc.CompleteOrder(ctx, created.ID)
	require.NoError(t, err)
	second, err := svc.CompleteOrder(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, model.StepComplete, first.Step)
	assert.Equal(t, first.OrderID, second.OrderID)
	require.NotNil(t, second.CompletedAt)
}

func TestService_ShippingGate(t *testing.T) {
	svc := newTestService(t, &recordingScheduler{}, 0)
	ctx := context.Background()

	created, err := svc.Create(ctx, "", createRequest(model.CheckoutItemRequest{MockupID: "mockup-d1-tee"}))
	require.NoError(t, err)
	_, err = svc.Continue(ctx, created.ID)
	require.NoError(t, err)

	partial := validShipping()
	partial.City = " "
	res, err := svc.SubmitShipping(ctx, created.ID, partial)
	require.NoError(t, err)
	assert.Equal(t, []string{"city"}, res.MissingFields)
	assert.Equal(t, model.StepShipping, res.Step)
	assert.Equal(t, "Jane", res.Shipping.FirstName)
	assert.Equal(t, DefaultCountry, res.Shipping.Country)
}

func TestService_UnknownSession(t *testing.T) {
	svc := newTestService(t, &recordingScheduler{}, 0)

	_, err := svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = svc.Continue(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

type blockingAuthorizer struct {
	entered chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls []AuthorizationRequest
}

func newBlockingAuthorizer() *blockingAuthorizer {
	return &blockingAuthorizer{entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (a *blockingAuthorizer) Authorize(ctx context.Context, req AuthorizationRequest) (*AuthorizationResult, error) {
	a.mu.Lock()
	a.calls = append(a.calls, req)
	a.mu.Unlock()

	a.entered <- struct{}{}
	select {
	case <-a.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &AuthorizationResult{Success: true, TransactionID: "pi_once"}, nil
}

func (a *blockingAuthorizer) requests() []AuthorizationRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]AuthorizationRequest(nil), a.calls...)
}

func newServiceOn(t *testing.T, sessions SessionStore, authorizer Authorizer) *Service {
	t.Helper()
	svc := NewService(sessions, designMap{"d1": completedDesign("d1")}, authorizer, &recordingScheduler{}, ServiceOptions{
		Now: func() time.Time { return cardClock },
	}, logging.Nop())
	t.Cleanup(svc.Close)
	return svc
}

func TestService_ConcurrentPayAcrossInstancesAuthorizesOnce(t *testing.T) {
	sessions := store.NewMemorySessionStore()
	authorizer := newBlockingAuthorizer()
	first := newServiceOn(t, sessions, authorizer)
	second := newServiceOn(t, sessions, authorizer)
	ctx := context.Background()

	created, err := first.Create(ctx, "", createRequest(model.CheckoutItemRequest{MockupID: "mockup-d1-tee"}))
	require.NoError(t, err)
	toPayment(t, first, created.ID)

	card := validCard()
	type outcome struct {
		res *model.CheckoutSessionResponse
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := first.Pay(ctx, created.ID, &model.PayRequest{Card: &card})
		done <- outcome{res, err}
	}()

	select {
	case <-authorizer.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("authorization never started")
	}

	_, err = second.Pay(ctx, created.ID, &model.PayRequest{Card: &card})
	require.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.Contains(t, err.Error(), "payment already in progress")

	close(authorizer.release)
	var got outcome
	select {
	case got = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("payment never finished")
	}
	require.NoError(t, got.err)
	assert.Equal(t, model.StepProcessing, got.res.Step)
	assert.Equal(t, "pi_once", got.res.TransactionID)

	reqs := authorizer.requests()
	require.Len(t, reqs, 1)
	assert.True(t, strings.HasPrefix(reqs[0].IdempotencyKey, created.ID+":"))

	stored, err := sessions.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.PaymentAttempt)
	assert.Nil(t, stored.PaymentAttemptAt)

	_, err = second.Pay(ctx, created.ID, &model.PayRequest{Card: &card})
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.Len(t, authorizer.requests(), 1)
}

func TestService_PayClaimExpiry(t *testing.T) {
	sessions := store.NewMemorySessionStore()
	authorizer := &recordingAuthorizer{}
	svc := newServiceOn(t, sessions, authorizer)
	ctx := context.Background()

	created, err := svc.Create(ctx, "", createRequest(model.CheckoutItemRequest{MockupID: "mockup-d1-tee"}))
	require.NoError(t, err)
	toPayment(t, svc, created.ID)

	claim := func(at time.Time) {
		_, err := sessions.Update(ctx, created.ID, func(s *model.CheckoutSession) error {
			s.PaymentAttempt = "crashed"
			s.PaymentAttemptAt = &at
			return nil
		})
		require.NoError(t, err)
	}

	card := validCard()
	claim(cardClock.Add(-time.Second))
	_, err = svc.Pay(ctx, created.ID, &model.PayRequest{Card: &card})
	require.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.Empty(t, authorizer.calls)

	claim(cardClock.Add(-paymentClaimTTL - time.Second))
	res, err := svc.Pay(ctx, created.ID, &model.PayRequest{Card: &card})
	require.NoError(t, err)
	assert.Equal(t, model.StepProcessing, res.Step)
	require.Len(t, authorizer.calls, 1)
	assert.NotEqual(t, created.ID+":crashed", authorizer.calls[0].IdempotencyKey)
}

func TestService_PayReleasesClaimOnFailure(t *testing.T) {
	sessions := store.NewMemorySessionStore()
	authorizer := &recordingAuthorizer{result: &AuthorizationResult{Success: false, Reason: ReasonCardDeclined}}
	svc := newServiceOn(t, sessions, authorizer)
	ctx := context.Background()

	created, err := svc.Create(ctx, "", createRequest(model.CheckoutItemRequest{MockupID: "mockup-d1-tee"}))
	require.NoError(t, err)
	toPayment(t, svc, created.ID)

	card := validCard()
	_, err = svc.Pay(ctx, created.ID, &model.PayRequest{Card: &card})
	var pErr *model.PaymentError
	require.ErrorAs(t, err, &pErr)

	stored, err := sessions.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.PaymentAttempt)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	authorizer.result = nil
	authorizer.err = context.Canceled
	_, err = svc.Pay(cancelled, created.ID, &model.PayRequest{Card: &card})
	require.ErrorIs(t, err, context.Canceled)

	stored, err = sessions.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.PaymentAttempt)
	assert.Equal(t, model.StepPayment, stored.Step)

	authorizer.err = nil
	res, err := svc.Pay(ctx, created.ID, &model.PayRequest{Card: &card})
	require.NoError(t, err)
	assert.Equal(t, model.StepProcessing, res.Step)
}

func TestService_LockStripesAreBounded(t *testing.T) {
	svc := newTestService(t, &recordingScheduler{}, 0)

	seen := make(map[*sync.Mutex]struct{})
	for i := 0; i < 10000; i++ {
		seen[svc.stripe(fmt.Sprintf("session-%d", i))] = struct{}{}
	}
	assert.LessOrEqual(t, len(seen), lockStripes)
	assert.Same(t, svc.stripe("session-1"), svc.stripe("session-1"))

	unlock := svc.lock("session-1")
	unlock()
	unlock = svc.lock("session-1")
	unlock()
}
