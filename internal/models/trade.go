package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TradeStatus - закрытый набор состояний сделки
type TradeStatus uint8

const (
	TradeProposed TradeStatus = iota + 1
	TradeAccepted
	TradeDeclined
	TradeCompleted
	TradeCancelled
)

// AllTradeStatuses перечисляет все состояния в порядке жизненного цикла
var AllTradeStatuses = []TradeStatus{
	TradeProposed,
	TradeAccepted,
	TradeDeclined,
	TradeCompleted,
	TradeCancelled,
}

func (s TradeStatus) String() string {
	switch s {
	case TradeProposed:
		return "proposed"
	case TradeAccepted:
		return "accepted"
	case TradeDeclined:
		return "declined"
	case TradeCompleted:
		return "completed"
	case TradeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Valid сообщает, относится ли значение к известным состояниям
func (s TradeStatus) Valid() bool {
	return s >= TradeProposed && s <= TradeCancelled
}

// Terminal сообщает, является ли состояние конечным
func (s TradeStatus) Terminal() bool {
	switch s {
	case TradeDeclined, TradeCompleted, TradeCancelled:
		return true
	default:
		return false
	}
}

// Active сообщает, держит ли сделка книги заблокированными
func (s TradeStatus) Active() bool {
	return s == TradeProposed || s == TradeAccepted
}

// ParseTradeStatus разбирает строковое представление статуса.
// Принимает также старые значения Flippy (pending, rejected, canceled).
func ParseTradeStatus(raw string) (TradeStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "proposed", "pending":
		return TradeProposed, nil
	case "accepted":
		return TradeAccepted, nil
	case "declined", "rejected":
		return TradeDeclined, nil
	case "completed":
		return TradeCompleted, nil
	case "cancelled", "canceled":
		return TradeCancelled, nil
	default:
		return 0, fmt.Errorf("неизвестный статус сделки: %q", raw)
	}
}

func (s TradeStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("неизвестный статус сделки: %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *TradeStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseTradeStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Trade представляет предложение об обмене книгами
type Trade struct {
	ID                uuid.UUID   `json:"id"`
	ProposerID        uuid.UUID   `json:"proposer_id"`
	ReceiverID        uuid.UUID   `json:"receiver_id"`
	OfferedBookID     uuid.UUID   `json:"offered_book_id"`
	RequestedBookID   uuid.UUID   `json:"requested_book_id"`
	Status            TradeStatus `json:"status"`
	Message           string      `json:"message,omitempty"`
	ProposerConfirmed bool        `json:"proposer_confirmed"`
	ReceiverConfirmed bool        `json:"receiver_confirmed"`
	CancelledBy       *uuid.UUID  `json:"cancelled_by,omitempty"`
	CancelReason      string      `json:"cancel_reason,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	RespondedAt       *time.Time  `json:"responded_at,omitempty"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
	UpdatedAt         time.Time   `json:"updated_at"`
	Version           int64       `json:"version"`
}

// IsParticipant сообщает, участвует ли пользователь в сделке
func (t *Trade) IsParticipant(userID uuid.UUID) bool {
	return userID == t.ProposerID || userID == t.ReceiverID
}

// Counterparty возвращает второго участника сделки
func (t *Trade) Counterparty(userID uuid.UUID) uuid.UUID {
	if userID == t.ProposerID {
		return t.ReceiverID
	}
	return t.ProposerID
}

// BookIDs возвращает обе книги сделки
func (t *Trade) BookIDs() [2]uuid.UUID {
	return [2]uuid.UUID{t.OfferedBookID, t.RequestedBookID}
}

// Clone возвращает независимую копию сделки
func (t *Trade) Clone() *Trade {
	if t == nil {
		return nil
	}
	c := *t
	if t.CancelledBy != nil {
		id := *t.CancelledBy
		c.CancelledBy = &id
	}
	if t.RespondedAt != nil {
		ts := *t.RespondedAt
		c.RespondedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return &c
}

// TradeRole определяет роль пользователя в сделке
type TradeRole string

const (
	RoleAll      TradeRole = "all"
	RoleIncoming TradeRole = "incoming" // пользователь - получатель
	RoleOutgoing TradeRole = "outgoing" // пользователь - инициатор
)

// TradeFilter задаёт выборку сделок пользователя
type TradeFilter struct {
	Role   TradeRole
	Status TradeStatus // 0 - любой статус
}

// Match проверяет сделку на соответствие фильтру для пользователя
func (f TradeFilter) Match(t *Trade, userID uuid.UUID) bool {
	switch f.Role {
	case RoleIncoming:
		if t.ReceiverID != userID {
			return false
		}
	case RoleOutgoing:
		if t.ProposerID != userID {
			return false
		}
	default:
		if !t.IsParticipant(userID) {
			return false
		}
	}
	return f.Status == 0 || t.Status == f.Status
}
