package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/provider"
)

// memStore is an in-memory Store. Transactions are serialized and rolled back on error,
// which is enough to stand in for row locks.
type memStore struct {
	mu         sync.Mutex
	units      map[int64]models.RentableUnit
	priceLists map[int64]models.PriceList
	vouchers   map[string]models.Voucher
	bookings   map[string]models.Booking
	payments   map[string]models.Payment

	// lookupErr fails provider reference lookups
	lookupErr error
	// failPaymentUpdates fails that many UpdatePayment calls
	failPaymentUpdates int
}

func newMemStore() *memStore {
	return &memStore{
		units:      make(map[int64]models.RentableUnit),
		priceLists: make(map[int64]models.PriceList),
		vouchers:   make(map[string]models.Voucher),
		bookings:   make(map[string]models.Booking),
		payments:   make(map[string]models.Payment),
	}
}

func (s *memStore) addUnit(id int64, status models.UnitStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[id] = models.RentableUnit{ID: id, Code: fmt.Sprintf("U-%d", id), Status: status}
}

func (s *memStore) addPriceList(pl models.PriceList) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priceLists[pl.ID] = pl
}

func (s *memStore) addVoucher(v models.Voucher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vouchers[v.Name] = v
}

func (s *memStore) unitStatus(id int64) models.UnitStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.units[id].Status
}

func (s *memStore) snapshot() *memStore {
	c := newMemStore()
	for k, v := range s.units {
		c.units[k] = v
	}
	for k, v := range s.priceLists {
		c.priceLists[k] = v
	}
	for k, v := range s.vouchers {
		c.vouchers[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	return c
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.snapshot()
	if err := fn(ctx, &memTx{s: s}); err != nil {
		s.units, s.priceLists, s.vouchers = saved.units, saved.priceLists, saved.vouchers
		s.bookings, s.payments = saved.bookings, saved.payments
		return err
	}
	return nil
}

func (s *memStore) GetBooking(_ context.Context, id string) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%w: booking %s", models.ErrNotFound, id)
	}
	return &b, nil
}

func (s *memStore) GetPayment(_ context.Context, id string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, fmt.Errorf("%w: payment %s", models.ErrNotFound, id)
	}
	return &p, nil
}

func (s *memStore) GetPaymentByProviderID(_ context.Context, providerName, providerPaymentID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	for _, p := range s.payments {
		if p.Provider == providerName && p.ProviderPaymentID != nil && *p.ProviderPaymentID == providerPaymentID {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("%w: provider payment %s", models.ErrNotFound, providerPaymentID)
}

func (s *memStore) GetPaymentByAccountNo(_ context.Context, providerName, accountNo string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Payment
	for _, p := range s.payments {
		if p.Provider != providerName || p.BankAccountNo == nil || *p.BankAccountNo != accountNo {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			p := p
			latest = &p
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: virtual account %s", models.ErrNotFound, accountNo)
	}
	return latest, nil
}

func (s *memStore) ListPaymentsByBooking(_ context.Context, bookingID string) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Payment
	for _, p := range s.payments {
		if p.BookingID == bookingID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) GetVoucherByName(_ context.Context, name string) (*models.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vouchers[name]
	if !ok {
		return nil, fmt.Errorf("%w: voucher %s", models.ErrNotFound, name)
	}
	return &v, nil
}

func (s *memStore) ListExpiredHoldIDs(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, b := range s.bookings {
		if b.Status == models.BookingStatusHold && b.ExpiredAt.Before(now) {
			ids = append(ids, id)
		}
	}
	return truncate(ids, limit), nil
}

func (s *memStore) ListFinishedReservationIDs(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, b := range s.bookings {
		if b.Status == models.BookingStatusReserved && b.EndAt != nil && !b.EndAt.After(now) {
			ids = append(ids, id)
		}
	}
	return truncate(ids, limit), nil
}

func (s *memStore) ListPendingPaymentIDs(_ context.Context, createdBefore time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, p := range s.payments {
		if p.Status == models.PaymentStatusPending && p.ProviderPaymentID != nil && p.CreatedAt.Before(createdBefore) {
			ids = append(ids, id)
		}
	}
	return truncate(ids, limit), nil
}

func truncate(ids []string, limit int) []string {
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		return ids[:limit]
	}
	return ids
}

// memTx runs with memStore.mu held
type memTx struct {
	s *memStore
}

func (t *memTx) LockUnit(_ context.Context, unitID int64) (*models.RentableUnit, error) {
	u, ok := t.s.units[unitID]
	if !ok {
		return nil, fmt.Errorf("%w: unit %d", models.ErrNotFound, unitID)
	}
	return &u, nil
}

func (t *memTx) SetUnitStatus(_ context.Context, unitID int64, status models.UnitStatus) error {
	u, ok := t.s.units[unitID]
	if !ok {
		return fmt.Errorf("%w: unit %d", models.ErrNotFound, unitID)
	}
	u.Status = status
	t.s.units[unitID] = u
	return nil
}

func (t *memTx) GetPriceList(_ context.Context, unitID, priceListID int64) (*models.PriceList, error) {
	pl, ok := t.s.priceLists[priceListID]
	if !ok || pl.UnitID != unitID {
		return nil, fmt.Errorf("%w: price list %d", models.ErrNotFound, priceListID)
	}
	return &pl, nil
}

func (t *memTx) HasActiveBooking(_ context.Context, unitID int64) (bool, error) {
	for _, b := range t.s.bookings {
		if b.UnitID == unitID && b.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertBooking(ctx context.Context, b *models.Booking) error {
	if b.Status.Active() {
		if active, _ := t.HasActiveBooking(ctx, b.UnitID); active {
			return fmt.Errorf("%w: unique index", models.ErrUnitUnavailable)
		}
	}
	t.s.bookings[b.ID] = *b
	return nil
}

func (t *memTx) LockBooking(_ context.Context, id string) (*models.Booking, error) {
	b, ok := t.s.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%w: booking %s", models.ErrNotFound, id)
	}
	return &b, nil
}

func (t *memTx) UpdateBooking(_ context.Context, b *models.Booking) error {
	if _, ok := t.s.bookings[b.ID]; !ok {
		return fmt.Errorf("%w: booking %s", models.ErrNotFound, b.ID)
	}
	t.s.bookings[b.ID] = *b
	return nil
}

func (t *memTx) HasPendingPayment(_ context.Context, bookingID string) (bool, error) {
	for _, p := range t.s.payments {
		if p.BookingID == bookingID && p.Status == models.PaymentStatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertPayment(ctx context.Context, p *models.Payment) error {
	if p.Status == models.PaymentStatusPending {
		if pending, _ := t.HasPendingPayment(ctx, p.BookingID); pending {
			return fmt.Errorf("%w: unique index", models.ErrBookingNotHoldable)
		}
	}
	t.s.payments[p.ID] = *p
	return nil
}

func (t *memTx) LockPayment(_ context.Context, id string) (*models.Payment, error) {
	p, ok := t.s.payments[id]
	if !ok {
		return nil, fmt.Errorf("%w: payment %s", models.ErrNotFound, id)
	}
	return &p, nil
}

func (t *memTx) UpdatePayment(_ context.Context, p *models.Payment) error {
	if t.s.failPaymentUpdates > 0 {
		t.s.failPaymentUpdates--
		return errors.New("connection reset by peer")
	}
	if _, ok := t.s.payments[p.ID]; !ok {
		return fmt.Errorf("%w: payment %s", models.ErrNotFound, p.ID)
	}
	t.s.payments[p.ID] = *p
	return nil
}

// fakeClock is a settable clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeProvider scripts provider answers
type fakeProvider struct {
	mu          sync.Mutex
	name        string
	createErr   error
	statusErr   error
	statuses    map[string]*provider.StatusResult
	created     []provider.CreatePaymentRequest
	statusCalls int
	lastStatus  provider.StatusRequest
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{name: "FAKE", statuses: make(map[string]*provider.StatusResult)}
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) CreatePayment(_ context.Context, req provider.CreatePaymentRequest) (*provider.CreatePaymentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	result := &provider.CreatePaymentResult{ProviderPaymentID: "PRV-" + req.PaymentID}
	if req.Method.IsQR() {
		result.QRURL = "https://qr.example/" + req.PaymentID
	}
	if req.Method.IsVirtualAccount() {
		result.BankCode = "801"
		result.BankAccountNo = "8801" + req.PaymentID[:8]
		result.BankAccountName = req.BankAccountName
	}
	return result, nil
}

func (f *fakeProvider) GetPaymentStatus(_ context.Context, req provider.StatusRequest) (*provider.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	f.lastStatus = req
	providerPaymentID := req.ProviderPaymentID
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if s, ok := f.statuses[providerPaymentID]; ok {
		return s, nil
	}
	return &provider.StatusResult{ProviderPaymentID: providerPaymentID, Status: models.PaymentStatusPending, RawStatus: "01"}, nil
}

func (f *fakeProvider) setStatus(providerPaymentID string, status models.PaymentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[providerPaymentID] = &provider.StatusResult{ProviderPaymentID: providerPaymentID, Status: status, RawStatus: string(status)}
}

// recordingPublisher keeps every published event type in order
type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) PublishBookingEvent(_ context.Context, e *models.BookingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e.EventType)
	return nil
}

func (p *recordingPublisher) PublishPaymentEvent(_ context.Context, e *models.PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e.EventType)
	return nil
}

func (p *recordingPublisher) has(eventType string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e == eventType {
			return true
		}
	}
	return false
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == eventType {
			n++
		}
	}
	return n
}

// memLocker is an in-process Locker
type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *memLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, true, nil
}

// memIdempotency is an in-process IdempotencyStore
type memIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
	err  error
}

func (m *memIdempotency) Claim(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", false, m.err
	}
	if m.keys == nil {
		m.keys = make(map[string]string)
	}
	if v, ok := m.keys[key]; ok {
		return v, false, nil
	}
	m.keys[key] = ""
	return "", true, nil
}

func (m *memIdempotency) Bind(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.keys[key]; !ok || v != "" {
		return errors.New("key not claimed")
	}
	m.keys[key] = value
	return nil
}

func (m *memIdempotency) Forget(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

// fixture wires the booking core over in-memory fakes
type fixture struct {
	store      *memStore
	clock      *fakeClock
	provider   *fakeProvider
	publisher  *recordingPublisher
	locker     *memLocker
	idem       *memIdempotency
	bookings   *BookingService
	payments   *PaymentService
	reconciler *Reconciler
	orch       *BookingOrchestrator
}

const (
	testUnitID      = int64(7)
	testPriceListID = int64(70)
	holdTTL         = 15 * time.Minute
)

func newFixture() *fixture {
	f := &fixture{
		store:     newMemStore(),
		clock:     newFakeClock(),
		provider:  newFakeProvider(),
		publisher: &recordingPublisher{},
		locker:    &memLocker{},
		idem:      &memIdempotency{},
	}

	f.store.addUnit(testUnitID, models.UnitStatusAvailable)
	f.store.addPriceList(models.PriceList{
		ID:                 testPriceListID,
		UnitID:             testUnitID,
		Label:              "1 hour",
		DurationMinutes:    60,
		MainValuePerUnit:   50000,
		OthersValuePerUnit: 5000,
		Active:             true,
	})

	f.bookings = NewBookingService(f.store, f.publisher, holdTTL)
	f.bookings.now = f.clock.Now
	registry := provider.NewRegistry(f.provider)
	f.payments = NewPaymentService(f.store, f.bookings, registry, f.publisher, "IDR", time.Second)
	f.reconciler = NewReconciler(f.store, f.payments, registry, f.locker, time.Second, 0)
	f.orch = NewBookingOrchestrator(f.store, f.bookings, f.payments, f.reconciler, f.idem, f.provider.Name())
	return f
}

func (f *fixture) hold(quantity int) *models.Booking {
	b, err := f.bookings.CreateHold(context.Background(), HoldRequest{
		UnitID:      testUnitID,
		PriceListID: testPriceListID,
		Quantity:    quantity,
	})
	if err != nil {
		panic(err)
	}
	return b
}

func (f *fixture) initiate(bookingID string, method models.PaymentMethod) (*models.Payment, error) {
	return f.payments.Initiate(context.Background(), InitiateRequest{
		BookingID: bookingID,
		Provider:  f.provider.Name(),
		Method:    method,
	})
}
