package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
	"github.com/Iaminblockchain/MoonBot-sub000/internal/metrics"
)

// errSkipUpdate is returned by an Update callback to abandon the mutation
// without writing anything. The book treats it as a clean no-op.
var errSkipUpdate = errors.New("book: skip update")

// PositionBook is the in-memory working set of open positions. The book is
// the evaluator's source of truth between cycles; the position store is
// written through on every mutation and replayed into the book at startup.
//
// Mutations to a single position are serialized on a per-key mutex, so two
// concurrent fills against the same position never lose each other's write.
type PositionBook struct {
	store   domain.PositionStore
	metrics *metrics.Metrics

	positions map[string]domain.Position // keyed by Position.Key()
	keyLocks  map[string]*sync.Mutex     // serializes read-modify-write per key
	mu        sync.RWMutex
}

// NewPositionBook creates an empty book backed by the given store.
func NewPositionBook(store domain.PositionStore, m *metrics.Metrics) *PositionBook {
	return &PositionBook{
		store:     store,
		metrics:   m,
		positions: make(map[string]domain.Position),
		keyLocks:  make(map[string]*sync.Mutex),
	}
}

// keyLock returns the mutex guarding mutations for the key, creating it on
// first use. Key mutexes are never removed; the set of traded assets per
// account is small and bounded.
func (b *PositionBook) keyLock(key string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		b.keyLocks[key] = l
	}
	return l
}

// Load replays every open position from the store into the book. Call once
// at startup before the evaluator runs.
func (b *PositionBook) Load(ctx context.Context) (int, error) {
	open, err := b.store.ListOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("book: loading open positions: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions = make(map[string]domain.Position, len(open))
	for _, pos := range open {
		b.positions[pos.Key()] = pos
	}
	b.gauge()
	return len(open), nil
}

// Get returns the position for (accountID, asset).
func (b *PositionBook) Get(accountID, asset string) (domain.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pos, ok := b.positions[accountID+":"+asset]
	return pos, ok
}

// Put writes the position through to the store and then into the book,
// replacing whatever was there. Callers that need to fold their change into
// the current state should use Update instead.
func (b *PositionBook) Put(ctx context.Context, pos domain.Position) error {
	lock := b.keyLock(pos.Key())
	lock.Lock()
	defer lock.Unlock()

	return b.write(ctx, pos)
}

// Update applies fn to the current position for (accountID, asset) and
// persists the result, holding the key's mutex across the whole
// read-modify-write. fn receives a copy and whether the position exists; it
// may populate a new position when exists is false. Returning errSkipUpdate
// abandons the change without writing. A position left Exhausted by fn is
// removed from the store and the book instead of upserted. The returned
// position is the state after the update.
func (b *PositionBook) Update(ctx context.Context, accountID, asset string, fn func(pos *domain.Position, exists bool) error) (domain.Position, error) {
	key := accountID + ":" + asset
	lock := b.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	b.mu.RLock()
	pos, exists := b.positions[key]
	b.mu.RUnlock()

	if err := fn(&pos, exists); err != nil {
		if errors.Is(err, errSkipUpdate) {
			return pos, nil
		}
		return domain.Position{}, err
	}

	if pos.Exhausted() {
		if err := b.remove(ctx, accountID, asset); err != nil {
			return domain.Position{}, err
		}
		return pos, nil
	}
	if err := b.write(ctx, pos); err != nil {
		return domain.Position{}, err
	}
	return pos, nil
}

// Delete removes the position from the store and the book.
func (b *PositionBook) Delete(ctx context.Context, accountID, asset string) error {
	lock := b.keyLock(accountID + ":" + asset)
	lock.Lock()
	defer lock.Unlock()

	return b.remove(ctx, accountID, asset)
}

// write persists the position and installs it in the book. Callers must hold
// the key's mutex.
func (b *PositionBook) write(ctx context.Context, pos domain.Position) error {
	if err := b.store.Upsert(ctx, pos); err != nil {
		return fmt.Errorf("book: persisting %s: %w", pos.Key(), err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[pos.Key()] = pos
	b.gauge()
	return nil
}

// remove deletes the position from the store and the book. Callers must hold
// the key's mutex.
func (b *PositionBook) remove(ctx context.Context, accountID, asset string) error {
	if err := b.store.Delete(ctx, accountID, asset); err != nil {
		return fmt.Errorf("book: deleting %s:%s: %w", accountID, asset, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.positions, accountID+":"+asset)
	b.gauge()
	return nil
}

// Snapshot returns a copy of every tracked position. The copies are safe to
// read and mutate without holding the book's lock.
func (b *PositionBook) Snapshot() []domain.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]domain.Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, pos)
	}
	return out
}

// Len returns the number of tracked positions.
func (b *PositionBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

// gauge updates the open-positions metric. Callers must hold mu.
func (b *PositionBook) gauge() {
	if b.metrics != nil {
		b.metrics.OpenPositions.Set(float64(len(b.positions)))
	}
}
