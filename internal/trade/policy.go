package trade

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/rajivgeraev/flippy-books/internal/models"
)

// Action - действие над существующей сделкой
type Action string

const (
	ActionAccept   Action = "accept"
	ActionDecline  Action = "decline"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
	ActionExpire   Action = "expire"
)

// Role - роль исполнителя относительно сделки
type Role string

const (
	RoleProposer Role = "proposer"
	RoleReceiver Role = "receiver"
	RoleSystem   Role = "system"
	RoleOutsider Role = "outsider"
)

// RoleOf определяет роль пользователя в сделке
func RoleOf(t *models.Trade, actorID uuid.UUID) Role {
	switch actorID {
	case t.ProposerID:
		return RoleProposer
	case t.ReceiverID:
		return RoleReceiver
	default:
		return RoleOutsider
	}
}

// transitions - единственные допустимые рёбра автомата состояний
var transitions = map[models.TradeStatus][]models.TradeStatus{
	models.TradeProposed:  {models.TradeAccepted, models.TradeDeclined, models.TradeCancelled},
	models.TradeAccepted:  {models.TradeCompleted, models.TradeCancelled},
	models.TradeDeclined:  nil,
	models.TradeCompleted: nil,
	models.TradeCancelled: nil,
}

// CanTransition проверяет ребро from -> to
func CanTransition(from, to models.TradeStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type policyKey struct {
	status models.TradeStatus
	action Action
	role   Role
}

// permissions - таблица (состояние, действие, роль), всё остальное запрещено
var permissions = map[policyKey]bool{
	{models.TradeProposed, ActionAccept, RoleReceiver}:   true,
	{models.TradeProposed, ActionDecline, RoleReceiver}:  true,
	{models.TradeProposed, ActionCancel, RoleProposer}:   true,
	{models.TradeProposed, ActionCancel, RoleReceiver}:   true,
	{models.TradeProposed, ActionExpire, RoleSystem}:     true,
	{models.TradeAccepted, ActionCancel, RoleProposer}:   true,
	{models.TradeAccepted, ActionCancel, RoleReceiver}:   true,
	{models.TradeAccepted, ActionComplete, RoleProposer}: true,
	{models.TradeAccepted, ActionComplete, RoleReceiver}: true,
}

// roleMayEver сообщает, есть ли хоть одно состояние, где роль может выполнить действие
func roleMayEver(action Action, role Role) bool {
	for _, status := range models.AllTradeStatuses {
		if permissions[policyKey{status, action, role}] {
			return true
		}
	}
	return false
}

// Authorize проверяет действие по таблице прав. Роль, которой действие
// не положено ни в каком состоянии, получает ErrAuthorization; разрешённое
// роли, но не в текущем состоянии - StateConflictError.
func Authorize(t *models.Trade, action Action, role Role) error {
	if permissions[policyKey{t.Status, action, role}] {
		return nil
	}
	if !roleMayEver(action, role) {
		return fmt.Errorf("%w: %s не может выполнить %s", ErrAuthorization, role, action)
	}
	return &StateConflictError{TradeID: t.ID, Status: t.Status.String(), Action: action}
}
