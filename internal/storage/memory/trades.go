package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/flippy-books/internal/models"
	"github.com/rajivgeraev/flippy-books/internal/trade"
)

// TradeStore хранит сделки в памяти процесса
type TradeStore struct {
	mu     sync.Mutex
	trades map[uuid.UUID]*models.Trade
}

// NewTradeStore создаёт пустое хранилище
func NewTradeStore() *TradeStore {
	return &TradeStore{trades: make(map[uuid.UUID]*models.Trade)}
}

func (s *TradeStore) Create(_ context.Context, t *models.Trade) (*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.trades[t.ID]; exists {
		return nil, fmt.Errorf("%w: сделка %s уже существует", trade.ErrConflict, t.ID)
	}
	stored := t.Clone()
	if stored.Version == 0 {
		stored.Version = 1
	}
	s.trades[t.ID] = stored
	return stored.Clone(), nil
}

func (s *TradeStore) Get(_ context.Context, tradeID uuid.UUID) (*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trades[tradeID]
	if !ok {
		return nil, fmt.Errorf("сделка %s: %w", tradeID, trade.ErrNotFound)
	}
	return t.Clone(), nil
}

// CompareAndSwapStatus выполняет update под общим мьютексом хранилища
func (s *TradeStore) CompareAndSwapStatus(ctx context.Context, tradeID uuid.UUID, expected models.TradeStatus, update trade.UpdateFunc) (*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.trades[tradeID]
	if !ok {
		return nil, fmt.Errorf("сделка %s: %w", tradeID, trade.ErrNotFound)
	}
	if current.Status != expected {
		return nil, fmt.Errorf("сделка %s: ожидался %s, сохранён %s: %w", tradeID, expected, current.Status, trade.ErrConflict)
	}

	next := current.Clone()
	if err := update(ctx, next); err != nil {
		return nil, err
	}
	next.Version = current.Version + 1
	s.trades[tradeID] = next
	return next.Clone(), nil
}

func (s *TradeStore) ListByUser(_ context.Context, userID uuid.UUID, filter models.TradeFilter) ([]*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.Trade
	for _, t := range s.trades {
		if filter.Match(t, userID) {
			result = append(result, t.Clone())
		}
	}
	sortNewestFirst(result)
	return result, nil
}

func (s *TradeStore) ListStale(_ context.Context, status models.TradeStatus, before time.Time) ([]*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.Trade
	for _, t := range s.trades {
		if t.Status == status && t.CreatedAt.Before(before) {
			result = append(result, t.Clone())
		}
	}
	sortNewestFirst(result)
	return result, nil
}

func (s *TradeStore) ListActive(_ context.Context) ([]*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.Trade
	for _, t := range s.trades {
		if t.Status.Active() {
			result = append(result, t.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() < result[j].ID.String()
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func sortNewestFirst(trades []*models.Trade) {
	sort.Slice(trades, func(i, j int) bool {
		if trades[i].CreatedAt.Equal(trades[j].CreatedAt) {
			return trades[i].ID.String() < trades[j].ID.String()
		}
		return trades[i].CreatedAt.After(trades[j].CreatedAt)
	})
}
