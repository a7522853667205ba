package service

import (
	"context"
	"sync"
	"time"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
)

type fakePositionStore struct {
	mu         sync.Mutex
	positions  map[string]domain.Position
	upserts    int
	failNext   error
	writeDelay time.Duration // simulated store latency per Upsert
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{positions: make(map[string]domain.Position)}
}

func (s *fakePositionStore) Upsert(ctx context.Context, pos domain.Position) error {
	if s.writeDelay > 0 {
		time.Sleep(s.writeDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.positions[pos.Key()] = pos
	s.upserts++
	return nil
}

func (s *fakePositionStore) Get(ctx context.Context, accountID, asset string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[accountID+":"+asset]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *fakePositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		if !pos.Exhausted() {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (s *fakePositionStore) ListByAccount(ctx context.Context, accountID string) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, pos := range s.positions {
		if pos.AccountID == accountID {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (s *fakePositionStore) Delete(ctx context.Context, accountID, asset string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := accountID + ":" + asset
	if _, ok := s.positions[key]; !ok {
		return domain.ErrNotFound
	}
	delete(s.positions, key)
	return nil
}

type fakeSettingsStore struct {
	mu       sync.Mutex
	settings map[string]domain.AccountSettings
}

func newFakeSettingsStore() *fakeSettingsStore {
	return &fakeSettingsStore{settings: make(map[string]domain.AccountSettings)}
}

func (s *fakeSettingsStore) Get(ctx context.Context, accountID string) (domain.AccountSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	as, ok := s.settings[accountID]
	if !ok {
		return domain.AccountSettings{}, domain.ErrNotFound
	}
	return as, nil
}

func (s *fakeSettingsStore) Upsert(ctx context.Context, as domain.AccountSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[as.AccountID] = as
	return nil
}

type auditRecord struct {
	accountID string
	event     string
}

type fakeAuditStore struct {
	mu      sync.Mutex
	records []auditRecord
}

func (s *fakeAuditStore) Log(ctx context.Context, accountID, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, auditRecord{accountID: accountID, event: event})
	return nil
}

func (s *fakeAuditStore) List(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (s *fakeAuditStore) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.records))
	for i, r := range s.records {
		out[i] = r.event
	}
	return out
}

// fakeExecutor records intents and replays scripted results.
type fakeExecutor struct {
	mu      sync.Mutex
	intents []domain.SwapIntent
	result  domain.SwapResult
	err     error
	called  chan struct{}
}

func newFakeExecutor(result domain.SwapResult, err error) *fakeExecutor {
	return &fakeExecutor{result: result, err: err, called: make(chan struct{}, 16)}
}

func (e *fakeExecutor) Execute(ctx context.Context, intent domain.SwapIntent) (domain.SwapResult, error) {
	e.mu.Lock()
	e.intents = append(e.intents, intent)
	e.mu.Unlock()
	select {
	case e.called <- struct{}{}:
	default:
	}
	return e.result, e.err
}

func (e *fakeExecutor) executed() []domain.SwapIntent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.SwapIntent, len(e.intents))
	copy(out, e.intents)
	return out
}

type fakePrices struct {
	prices map[string]float64
	err    error
}

func (p *fakePrices) FetchPrices(ctx context.Context, mints []string) (map[string]float64, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := make(map[string]float64)
	for _, m := range mints {
		if v, ok := p.prices[m]; ok {
			out[m] = v
		}
	}
	return out, nil
}

type fakeDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeDeduper() *fakeDeduper {
	return &fakeDeduper{seen: make(map[string]bool)}
}

func (d *fakeDeduper) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[key] {
		return true, nil
	}
	d.seen[key] = true
	return false, nil
}

type fakeSubs struct {
	byWallet map[string][]string
}

func (s *fakeSubs) Subscribe(ctx context.Context, accountID, sourceWallet string) error   { return nil }
func (s *fakeSubs) Unsubscribe(ctx context.Context, accountID, sourceWallet string) error { return nil }

func (s *fakeSubs) ListByWallet(ctx context.Context, sourceWallet string) ([]string, error) {
	return s.byWallet[sourceWallet], nil
}

func (s *fakeSubs) ListByAccount(ctx context.Context, accountID string) ([]string, error) {
	return nil, nil
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
