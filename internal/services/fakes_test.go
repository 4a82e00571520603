package services

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/settlement-backend/internal/database"
	"github.com/tripmarket/settlement-backend/internal/models"
)

// memStore is an in-memory implementation of every store interface
type memStore struct {
	mu sync.Mutex

	resources map[uuid.UUID]*models.Resource
	bookings  map[uuid.UUID]*models.Booking
	holds     map[uuid.UUID]*models.ResourceHold
	accounts  map[uuid.UUID]*models.LoyaltyAccount
	ledger    []*models.PointsTransaction
	events    map[string]*models.WebhookEvent

	findConflictsCalls int
	failCreateBooking  error
	failInsertTx       error
}

func newMemStore() *memStore {
	return &memStore{
		resources: map[uuid.UUID]*models.Resource{},
		bookings:  map[uuid.UUID]*models.Booking{},
		holds:     map[uuid.UUID]*models.ResourceHold{},
		accounts:  map[uuid.UUID]*models.LoyaltyAccount{},
		events:    map[string]*models.WebhookEvent{},
	}
}

func (m *memStore) addResource(r *models.Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[r.ID] = r
}

func (m *memStore) booking(id uuid.UUID) *models.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil
	}
	cp := *b
	return &cp
}

func (m *memStore) earnCount(bookingID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, tx := range m.ledger {
		if tx.Type == models.PointsEarn && tx.RelatedBookingID != nil && *tx.RelatedBookingID == bookingID {
			n++
		}
	}
	return n
}

func (m *memStore) holdFor(bookingID uuid.UUID) *models.ResourceHold {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.holds {
		if h.BookingID != nil && *h.BookingID == bookingID {
			cp := *h
			return &cp
		}
	}
	return nil
}

// ---- TxRunner ----

// serialTx runs one transaction at a time, standing in for row locks
type serialTx struct {
	mu sync.Mutex
}

func (s *serialTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx)
}

// ---- ResourceStore ----

func (m *memStore) GetResource(_ context.Context, id uuid.UUID) (*models.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) GetResourceForUpdate(ctx context.Context, id uuid.UUID) (*models.Resource, error) {
	return m.GetResource(ctx, id)
}

// ---- BookingStore ----

func (m *memStore) CreateBooking(_ context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreateBooking != nil {
		return m.failCreateBooking
	}
	if _, ok := m.bookings[b.ID]; ok {
		return database.ErrDuplicate
	}
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *memStore) GetBookingByID(_ context.Context, id uuid.UUID) (*models.Booking, error) {
	return m.booking(id), nil
}

func (m *memStore) GetBookingForUpdate(_ context.Context, id uuid.UUID) (*models.Booking, error) {
	return m.booking(id), nil
}

func (m *memStore) GetBookingByPaymentIntentID(_ context.Context, paymentIntentID string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.PaymentIntentID == paymentIntentID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListBookingsByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Booking{}
	for _, b := range m.bookings {
		if b.UserID == userID {
			cp := *b
			out = append(out, &cp)
		}
	}
	if offset >= len(out) {
		return []*models.Booking{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) UpdateSettlement(_ context.Context, b *models.Booking, expected models.BookingStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.bookings[b.ID]
	if !ok || current.Status != expected {
		return false, nil
	}
	cp := *b
	m.bookings[b.ID] = &cp
	return true, nil
}

func (m *memStore) ExpirePendingBookings(_ context.Context, now time.Time, limit int) ([]*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reason := "payment_timeout"
	expired := []*models.Booking{}
	for _, b := range m.bookings {
		if len(expired) >= limit {
			break
		}
		if b.Status != models.BookingStatusPending || !b.ExpiresAt.Before(now) {
			continue
		}
		b.Status = models.BookingStatusExpired
		if b.PaymentStatus == models.PaymentStatusPending {
			b.PaymentStatus = models.PaymentStatusFailed
		}
		b.CancelReason = &reason
		b.UpdatedAt = now
		for _, h := range m.holds {
			if h.BookingID != nil && *h.BookingID == b.ID && h.Status == models.HoldStatusActive {
				h.Status = models.HoldStatusReleased
				released := now
				h.ReleasedAt = &released
			}
		}
		cp := *b
		expired = append(expired, &cp)
	}
	return expired, nil
}

func (m *memStore) ListConfirmedWithoutEarn(_ context.Context, limit int) ([]*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Booking{}
	for _, b := range m.bookings {
		if b.Status != models.BookingStatusConfirmed {
			continue
		}
		credited := false
		for _, tx := range m.ledger {
			if tx.Type == models.PointsEarn && tx.RelatedBookingID != nil && *tx.RelatedBookingID == b.ID {
				credited = true
			}
		}
		if !credited && len(out) < limit {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---- HoldStore ----

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

func (m *memStore) FindConflicts(_ context.Context, resourceID uuid.UUID, start, end, now time.Time) ([]models.SlotConflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findConflictsCalls++

	conflicts := []models.SlotConflict{}
	for _, b := range m.bookings {
		if b.ResourceID == resourceID && b.Status.HoldsSlot() && overlaps(b.WindowStart, b.WindowEnd, start, end) {
			id := b.ID
			conflicts = append(conflicts, models.SlotConflict{BookingID: &id, WindowStart: b.WindowStart, WindowEnd: b.WindowEnd})
		}
	}
	for _, h := range m.holds {
		if h.ResourceID == resourceID && h.Status == models.HoldStatusActive && h.BookingID == nil &&
			h.ExpiresAt.After(now) && overlaps(h.WindowStart, h.WindowEnd, start, end) {
			id := h.ID
			conflicts = append(conflicts, models.SlotConflict{HoldID: &id, WindowStart: h.WindowStart, WindowEnd: h.WindowEnd})
		}
	}
	return conflicts, nil
}

func (m *memStore) CreateHold(_ context.Context, hold *models.ResourceHold) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *hold
	m.holds[hold.ID] = &cp
	return nil
}

func (m *memStore) LinkBooking(_ context.Context, holdID, bookingID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[holdID]
	if !ok || h.Status != models.HoldStatusActive {
		return fmt.Errorf("hold %s is no longer active", holdID)
	}
	id := bookingID
	h.BookingID = &id
	return nil
}

func (m *memStore) ReleaseHold(_ context.Context, holdID uuid.UUID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.holds[holdID]; ok && h.Status == models.HoldStatusActive {
		h.Status = models.HoldStatusReleased
		h.ReleasedAt = &now
	}
	return nil
}

func (m *memStore) SetHoldStatusForBooking(_ context.Context, bookingID uuid.UUID, from, to models.HoldStatus, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.holds {
		if h.BookingID != nil && *h.BookingID == bookingID && h.Status == from {
			h.Status = to
			if to == models.HoldStatusReleased {
				released := now
				h.ReleasedAt = &released
			}
		}
	}
	return nil
}

func (m *memStore) ReleaseExpiredHolds(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, h := range m.holds {
		if h.Status == models.HoldStatusActive && h.BookingID == nil && h.ExpiresAt.Before(now) {
			h.Status = models.HoldStatusReleased
			h.ReleasedAt = &now
			n++
		}
	}
	return n, nil
}

// ---- LoyaltyStore ----

func (m *memStore) GetAccount(_ context.Context, userID uuid.UUID) (*models.LoyaltyAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) GetOrCreateAccountForUpdate(_ context.Context, userID uuid.UUID, baseTier models.LoyaltyTier, now time.Time) (*models.LoyaltyAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		a = &models.LoyaltyAccount{UserID: userID, Tier: baseTier, CreatedAt: now, UpdatedAt: now}
		m.accounts[userID] = a
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) UpdateAccountTotals(_ context.Context, account *models.LoyaltyAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *account
	m.accounts[account.UserID] = &cp
	return nil
}

func (m *memStore) InsertTransaction(_ context.Context, tx *models.PointsTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsertTx != nil {
		return m.failInsertTx
	}
	for _, existing := range m.ledger {
		if existing.IdempotencyKey == tx.IdempotencyKey {
			return database.ErrDuplicate
		}
	}
	cp := *tx
	m.ledger = append(m.ledger, &cp)
	return nil
}

func (m *memStore) GetEarnByBooking(_ context.Context, bookingID uuid.UUID) (*models.PointsTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.ledger {
		if tx.Type == models.PointsEarn && tx.RelatedBookingID != nil && *tx.RelatedBookingID == bookingID {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListTransactions(_ context.Context, userID uuid.UUID, limit int) ([]*models.PointsTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.PointsTransaction{}
	for i := len(m.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if m.ledger[i].UserID == userID {
			cp := *m.ledger[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---- WebhookEventStore ----

func (m *memStore) Record(_ context.Context, event *models.WebhookEvent) (*models.WebhookEvent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := event.Provider + "|" + event.ProviderEventID
	if existing, ok := m.events[key]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *event
	m.events[key] = &cp
	return event, true, nil
}

func (m *memStore) Complete(_ context.Context, event *models.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, existing := range m.events {
		if existing.ID == event.ID {
			cp := *event
			m.events[key] = &cp
			return nil
		}
	}
	return fmt.Errorf("webhook event %s not recorded", event.ID)
}

func (m *memStore) event(provider, id string) *models.WebhookEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[provider+"|"+id]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

// ---- collaborators ----

type fakeGateway struct {
	mu    sync.Mutex
	calls []CreateIntentParams
	err   error
	// echoMinor, when set, replaces the amount on the returned intent
	echoMinor int64
}

func (g *fakeGateway) CreatePaymentIntent(_ context.Context, params CreateIntentParams) (*PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, params)
	if g.err != nil {
		return nil, g.err
	}
	n := len(g.calls)
	intent := &PaymentIntent{
		ID:           fmt.Sprintf("pi_test_%d", n),
		ClientSecret: fmt.Sprintf("pi_test_%d_secret", n),
		AmountMinor:  params.AmountMinor,
		Currency:     params.Currency,
		Status:       "requires_payment_method",
	}
	if g.echoMinor != 0 {
		intent.AmountMinor = g.echoMinor
		return nil, &IntentMismatchError{Intent: intent, ExpectedMinor: params.AmountMinor, ExpectedCurrency: params.Currency}
	}
	return intent, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) PublishJSON(_ context.Context, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func (p *recordingPublisher) count(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, k := range p.keys {
		if k == key {
			n++
		}
	}
	return n
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
