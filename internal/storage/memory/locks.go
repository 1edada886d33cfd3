package memory

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/google/uuid"

	"github.com/rajivgeraev/flippy-books/internal/trade"
)

const lockStripes = 64

type lockStripe struct {
	mu      sync.Mutex
	holders map[uuid.UUID]uuid.UUID // bookID -> tradeID
}

// LockTable - таблица блокировок книг, разбитая на полосы.
// Полосы всегда захватываются по возрастанию номера.
type LockTable struct {
	stripes [lockStripes]lockStripe
}

// NewLockTable создаёт пустую таблицу блокировок
func NewLockTable() *LockTable {
	t := &LockTable{}
	for i := range t.stripes {
		t.stripes[i].holders = make(map[uuid.UUID]uuid.UUID)
	}
	return t
}

func stripeOf(bookID uuid.UUID) int {
	return int(binary.BigEndian.Uint64(bookID[8:]) % lockStripes)
}

// acquire захватывает полосы обеих книг без взаимоблокировок
func (t *LockTable) acquire(a, b uuid.UUID) func() {
	i, j := stripeOf(a), stripeOf(b)
	if i > j {
		i, j = j, i
	}
	t.stripes[i].mu.Lock()
	if i == j {
		return t.stripes[i].mu.Unlock
	}
	t.stripes[j].mu.Lock()
	return func() {
		t.stripes[j].mu.Unlock()
		t.stripes[i].mu.Unlock()
	}
}

func (t *LockTable) TryLockPair(_ context.Context, first, second, tradeID uuid.UUID) error {
	unlock := t.acquire(first, second)
	defer unlock()

	for _, bookID := range []uuid.UUID{first, second} {
		holder, ok := t.stripes[stripeOf(bookID)].holders[bookID]
		if ok && holder != tradeID {
			return &trade.BookUnavailableError{BookID: bookID, TradeID: holder}
		}
	}
	t.stripes[stripeOf(first)].holders[first] = tradeID
	t.stripes[stripeOf(second)].holders[second] = tradeID
	return nil
}

func (t *LockTable) Release(_ context.Context, bookID uuid.UUID) error {
	s := &t.stripes[stripeOf(bookID)]
	s.mu.Lock()
	delete(s.holders, bookID)
	s.mu.Unlock()
	return nil
}

func (t *LockTable) ReleaseHeld(_ context.Context, bookID, tradeID uuid.UUID) error {
	s := &t.stripes[stripeOf(bookID)]
	s.mu.Lock()
	defer s.mu.Unlock()

	if holder, ok := s.holders[bookID]; ok && holder == tradeID {
		delete(s.holders, bookID)
	}
	return nil
}

func (t *LockTable) Holder(_ context.Context, bookID uuid.UUID) (uuid.UUID, bool, error) {
	s := &t.stripes[stripeOf(bookID)]
	s.mu.Lock()
	defer s.mu.Unlock()

	holder, ok := s.holders[bookID]
	return holder, ok, nil
}

func (t *LockTable) Snapshot(_ context.Context) (map[uuid.UUID]uuid.UUID, error) {
	result := make(map[uuid.UUID]uuid.UUID)
	for i := range t.stripes {
		s := &t.stripes[i]
		s.mu.Lock()
		for bookID, tradeID := range s.holders {
			result[bookID] = tradeID
		}
		s.mu.Unlock()
	}
	return result, nil
}
