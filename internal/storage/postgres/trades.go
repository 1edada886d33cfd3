package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rajivgeraev/flippy-books/internal/db"
	"github.com/rajivgeraev/flippy-books/internal/models"
	"github.com/rajivgeraev/flippy-books/internal/trade"
)

const tradeColumns = `id, proposer_id, receiver_id, offered_book_id, requested_book_id,
	status, message, proposer_confirmed, receiver_confirmed, cancelled_by, cancel_reason,
	created_at, responded_at, completed_at, updated_at, version`

// TradeStore хранит сделки в PostgreSQL
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore создаёт хранилище сделок поверх пула
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

func (s *TradeStore) Create(ctx context.Context, t *models.Trade) (*models.Trade, error) {
	if t.Version == 0 {
		t.Version = 1
	}
	// Блокировки книг уже стоят: запись не должна пережить grace-период sweep
	ctx, cancel := db.WithTimeout(ctx)
	defer cancel()
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO trades (`+tradeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, t.ID, t.ProposerID, t.ReceiverID, t.OfferedBookID, t.RequestedBookID,
		int16(t.Status), t.Message, t.ProposerConfirmed, t.ReceiverConfirmed, t.CancelledBy, t.CancelReason,
		t.CreatedAt, t.RespondedAt, t.CompletedAt, t.UpdatedAt, t.Version)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: сделка %s уже существует", trade.ErrConflict, t.ID)
		}
		return nil, fmt.Errorf("ошибка создания сделки: %w", err)
	}
	return t.Clone(), nil
}

func (s *TradeStore) Get(ctx context.Context, tradeID uuid.UUID) (*models.Trade, error) {
	row := db.Conn(ctx, s.pool).QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1`, tradeID)
	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("сделка %s: %w", tradeID, trade.ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка получения сделки: %w", err)
	}
	return t, nil
}

// CompareAndSwapStatus блокирует строку SELECT ... FOR UPDATE и применяет update
// в той же транзакции. Транзакция передаётся в update через контекст, поэтому
// обмен владельцами книг фиксируется вместе со статусом.
func (s *TradeStore) CompareAndSwapStatus(ctx context.Context, tradeID uuid.UUID, expected models.TradeStatus, update trade.UpdateFunc) (*models.Trade, error) {
	var result *models.Trade
	err := db.InTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		current, err := scanTrade(tx.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1 FOR UPDATE`, tradeID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("сделка %s: %w", tradeID, trade.ErrNotFound)
			}
			return fmt.Errorf("ошибка блокировки сделки: %w", err)
		}
		if current.Status != expected {
			return fmt.Errorf("сделка %s: ожидался %s, сохранён %s: %w", tradeID, expected, current.Status, trade.ErrConflict)
		}

		next := current.Clone()
		if err := update(ctx, next); err != nil {
			return err
		}
		next.Version = current.Version + 1

		tag, err := tx.Exec(ctx, `
			UPDATE trades
			SET status = $1, proposer_confirmed = $2, receiver_confirmed = $3,
				cancelled_by = $4, cancel_reason = $5, responded_at = $6,
				completed_at = $7, updated_at = $8, version = $9
			WHERE id = $10 AND version = $11
		`, int16(next.Status), next.ProposerConfirmed, next.ReceiverConfirmed,
			next.CancelledBy, next.CancelReason, next.RespondedAt,
			next.CompletedAt, next.UpdatedAt, next.Version,
			tradeID, current.Version)
		if err != nil {
			return fmt.Errorf("ошибка обновления сделки: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("сделка %s: версия %d устарела: %w", tradeID, current.Version, trade.ErrConflict)
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *TradeStore) ListByUser(ctx context.Context, userID uuid.UUID, filter models.TradeFilter) ([]*models.Trade, error) {
	var where string
	switch filter.Role {
	case models.RoleIncoming:
		where = "receiver_id = $1"
	case models.RoleOutgoing:
		where = "proposer_id = $1"
	default:
		where = "(proposer_id = $1 OR receiver_id = $1)"
	}
	args := []any{userID}
	if filter.Status != 0 {
		where += " AND status = $2"
		args = append(args, int16(filter.Status))
	}

	rows, err := db.Conn(ctx, s.pool).Query(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE `+where+`
		ORDER BY created_at DESC, id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса сделок: %w", err)
	}
	return collectTrades(rows)
}

func (s *TradeStore) ListStale(ctx context.Context, status models.TradeStatus, before time.Time) ([]*models.Trade, error) {
	rows, err := db.Conn(ctx, s.pool).Query(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at DESC, id
	`, int16(status), before)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса устаревших сделок: %w", err)
	}
	return collectTrades(rows)
}

func (s *TradeStore) ListActive(ctx context.Context) ([]*models.Trade, error) {
	rows, err := db.Conn(ctx, s.pool).Query(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE status IN ($1, $2)
		ORDER BY created_at, id
	`, int16(models.TradeProposed), int16(models.TradeAccepted))
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса открытых сделок: %w", err)
	}
	return collectTrades(rows)
}

func collectTrades(rows pgx.Rows) ([]*models.Trade, error) {
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования сделки: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения сделок: %w", err)
	}
	return trades, nil
}

func scanTrade(row pgx.Row) (*models.Trade, error) {
	var (
		t      models.Trade
		status int16
	)
	err := row.Scan(
		&t.ID, &t.ProposerID, &t.ReceiverID, &t.OfferedBookID, &t.RequestedBookID,
		&status, &t.Message, &t.ProposerConfirmed, &t.ReceiverConfirmed, &t.CancelledBy, &t.CancelReason,
		&t.CreatedAt, &t.RespondedAt, &t.CompletedAt, &t.UpdatedAt, &t.Version,
	)
	if err != nil {
		return nil, err
	}
	t.Status = models.TradeStatus(status)
	if !t.Status.Valid() {
		return nil, fmt.Errorf("неизвестный статус сделки %d", status)
	}
	return &t, nil
}
