package sweep

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/flippy-books/internal/metrics"
	"github.com/rajivgeraev/flippy-books/internal/models"
	"github.com/rajivgeraev/flippy-books/internal/trade"
)

// DefaultOrphanGrace - сколько блокировка без записи сделки живёт до снятия.
// Больше таймаута сохранения сделки в PostgreSQL (db.WithTimeout).
const DefaultOrphanGrace = time.Minute

type suspect struct {
	tradeID uuid.UUID
	since   time.Time
}

// Sweeper истекает старые предложения и снимает осиротевшие блокировки
type Sweeper struct {
	engine   *trade.Engine
	store    trade.TradeStore
	guard    *trade.AvailabilityGuard
	ttl      time.Duration
	interval time.Duration
	metrics  *metrics.TradeMetrics
	nowFn    func() time.Time

	// Блокировки без записи сделки с прошлых проходов. Propose ставит
	// блокировку до сохранения сделки, поэтому снимаем их не раньше второго
	// прохода и не раньше orphanGrace с первого обнаружения.
	suspects    map[uuid.UUID]suspect
	orphanGrace time.Duration
}

// Result - итоги одного прохода
type Result struct {
	Expired  int
	Released int
}

func New(engine *trade.Engine, store trade.TradeStore, guard *trade.AvailabilityGuard, ttl, interval time.Duration) *Sweeper {
	return &Sweeper{
		engine:   engine,
		store:    store,
		guard:    guard,
		ttl:      ttl,
		interval: interval,
		nowFn:    time.Now,
		suspects: make(map[uuid.UUID]suspect),

		orphanGrace: DefaultOrphanGrace,
	}
}

func (s *Sweeper) SetMetrics(m *metrics.TradeMetrics) { s.metrics = m }

func (s *Sweeper) SetNowFunc(now func() time.Time) { s.nowFn = now }

// SetOrphanGrace задаёт срок жизни блокировки без записи сделки
func (s *Sweeper) SetOrphanGrace(d time.Duration) { s.orphanGrace = d }

// Run выполняет проходы с заданным интервалом до отмены ctx
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.RunOnce(ctx)
			if err != nil {
				log.Printf("Ошибка очистки сделок: %v", err)
			}
			if res.Expired > 0 || res.Released > 0 {
				log.Printf("Очистка сделок: истекло %d, снято блокировок %d", res.Expired, res.Released)
			}
		}
	}
}

// RunOnce выполняет один проход
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	var res Result

	expired, err := s.expireStale(ctx)
	res.Expired = expired
	if err != nil {
		s.metrics.ObserveSweep(res.Expired, 0)
		return res, err
	}

	released, err := s.releaseOrphans(ctx)
	res.Released = released
	s.metrics.ObserveSweep(res.Expired, res.Released)
	return res, err
}

func (s *Sweeper) expireStale(ctx context.Context) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	stale, err := s.store.ListStale(ctx, models.TradeProposed, s.nowFn().Add(-s.ttl))
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, t := range stale {
		if _, err := s.engine.Expire(ctx, t.ID, trade.ReasonExpired); err != nil {
			// Участник успел ответить раньше
			if errors.Is(err, trade.ErrStateConflict) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func (s *Sweeper) releaseOrphans(ctx context.Context) (int, error) {
	locks, err := s.guard.Snapshot(ctx)
	if err != nil {
		return 0, err
	}

	now := s.nowFn()
	suspects := make(map[uuid.UUID]suspect)
	released := 0
	for bookID, tradeID := range locks {
		t, err := s.store.Get(ctx, tradeID)
		switch {
		case errors.Is(err, trade.ErrNotFound):
			prev, seen := s.suspects[bookID]
			if !seen || prev.tradeID != tradeID {
				suspects[bookID] = suspect{tradeID: tradeID, since: now}
				continue
			}
			if now.Sub(prev.since) < s.orphanGrace {
				suspects[bookID] = prev
				continue
			}
		case err != nil:
			return released, err
		case t.Status.Active():
			continue
		}

		if err := s.guard.ReleaseFor(ctx, bookID, tradeID); err != nil {
			return released, err
		}
		log.Printf("Снята осиротевшая блокировка книги %s (сделка %s)", bookID, tradeID)
		released++
	}
	s.suspects = suspects
	return released, nil
}
