package executor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeActivityStore keeps markers in memory and mimics the store-level CAS.
type fakeActivityStore struct {
	mu         sync.Mutex
	markers    map[string]domain.Marker
	botFlags   map[string]bool
	pickupErr  error
	skipErr    error
	completeAt map[string]time.Time
}

func newFakeActivityStore() *fakeActivityStore {
	return &fakeActivityStore{
		markers:    make(map[string]domain.Marker),
		botFlags:   make(map[string]bool),
		completeAt: make(map[string]time.Time),
	}
}

func (s *fakeActivityStore) seed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[id] = domain.Marker{State: domain.MarkerUnseen}
}

func (s *fakeActivityStore) marker(id string) domain.Marker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markers[id]
}

func (s *fakeActivityStore) InsertBatch(_ context.Context, activities []domain.Activity) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range activities {
		if _, ok := s.markers[a.ID]; !ok {
			s.markers[a.ID] = a.Marker
			n++
		}
	}
	return n, nil
}

func (s *fakeActivityStore) GetByID(_ context.Context, id string) (domain.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markers[id]
	if !ok {
		return domain.Activity{}, domain.ErrNotFound
	}
	return domain.Activity{ID: id, Marker: m}, nil
}

func (s *fakeActivityStore) ListUnprocessed(_ context.Context, _ int) ([]domain.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Activity
	for id, m := range s.markers {
		if m.State == domain.MarkerUnseen {
			out = append(out, domain.Activity{ID: id, Marker: m})
		}
	}
	return out, nil
}

func (s *fakeActivityStore) LastTimestamp(context.Context) (time.Time, error) {
	return time.Time{}, nil
}

func (s *fakeActivityStore) MarkInFlight(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pickupErr != nil {
		return false, s.pickupErr
	}
	m, ok := s.markers[id]
	if !ok || m.State != domain.MarkerUnseen {
		return false, nil
	}
	s.markers[id] = domain.Marker{State: domain.MarkerInFlight, At: at}
	return true, nil
}

func (s *fakeActivityStore) MarkCompleted(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[id] = domain.Marker{State: domain.MarkerCompleted, At: at}
	s.completeAt[id] = at
	return nil
}

func (s *fakeActivityStore) MarkSkipped(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.skipErr != nil {
		return s.skipErr
	}
	s.markers[id] = domain.Marker{State: domain.MarkerSkipped}
	return nil
}

func (s *fakeActivityStore) FlagAggregatorSkipped(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.botFlags[id] = true
	}
	return nil
}

func (s *fakeActivityStore) ListProcessedBefore(context.Context, time.Time, int) ([]domain.Activity, error) {
	return nil, nil
}

func (s *fakeActivityStore) DeleteProcessedBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// fakeOrderStore records inserted orders and serves a fixed position size.
type fakeOrderStore struct {
	mu       sync.Mutex
	orders   []domain.CopyOrder
	position float64
	posErr   error
}

func (s *fakeOrderStore) Insert(_ context.Context, order domain.CopyOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, order)
	return nil
}

func (s *fakeOrderStore) PositionSizeUSD(context.Context, string) (float64, error) {
	if s.posErr != nil {
		return 0, s.posErr
	}
	return s.position, nil
}

func (s *fakeOrderStore) ListRecent(context.Context, int) ([]domain.CopyOrder, error) {
	return nil, nil
}

func (s *fakeOrderStore) ListBefore(context.Context, time.Time, int) ([]domain.CopyOrder, error) {
	return nil, nil
}

func (s *fakeOrderStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// fakeAudit records audit events.
type fakeAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (a *fakeAudit) ListBefore(context.Context, time.Time, int) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (a *fakeAudit) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (a *fakeAudit) seen(event string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if e == event {
			return true
		}
	}
	return false
}

// fakeProber serves per-address balances.
type fakeProber struct {
	balances map[string]float64
	err      error
	errFor   string
}

func (p *fakeProber) UsdcBalance(_ context.Context, address string) (float64, error) {
	if p.err != nil && (p.errFor == "" || p.errFor == address) {
		return 0, p.err
	}
	return p.balances[address], nil
}

// fakePoster records posted orders and serves a scripted outcome.
type fakePoster struct {
	mu     sync.Mutex
	orders []domain.CopyOrder
	result domain.OrderResult
	err    error
}

func (p *fakePoster) PostOrder(_ context.Context, order domain.CopyOrder) (domain.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, order)
	if p.err != nil {
		return domain.OrderResult{}, p.err
	}
	if p.result.OrderID == "" {
		return domain.OrderResult{Success: true, OrderID: "0xexchange", Status: domain.OrderStatusPosted}, nil
	}
	return p.result, nil
}

func (p *fakePoster) posted() []domain.CopyOrder {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.CopyOrder, len(p.orders))
	copy(out, p.orders)
	return out
}

// fakeGuard forces claim outcomes for engine branch tests.
type fakeGuard struct {
	claimOK  bool
	seen     bool
	released bool
}

func (g *fakeGuard) Claim(context.Context, string, time.Duration) (bool, func(), error) {
	if !g.claimOK {
		return false, nil, nil
	}
	return true, func() { g.released = true }, nil
}

func (g *fakeGuard) Seen(context.Context, string) (bool, error) {
	return g.seen, nil
}
