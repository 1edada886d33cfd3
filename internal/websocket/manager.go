package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager представляет центральный менеджер для всех WebSocket соединений
type Manager struct {
	clients      map[uuid.UUID]*Client
	clientsMutex sync.RWMutex
	userClients  map[uuid.UUID]map[uuid.UUID]bool // userID -> map[clientID]bool
	userMutex    sync.RWMutex
	ctx          context.Context
	cancel       context.CancelFunc
}

// EventType определяет тип события WebSocket
type EventType string

const (
	EventConnected EventType = "connected"
	EventPing      EventType = "ping"
	EventPong      EventType = "pong"
	EventTrade     EventType = "trade"
)

// Event представляет структуру сообщения для WebSocket
type Event struct {
	Type      EventType       `json:"type"`
	Kind      string          `json:"kind,omitempty"` // тип события сделки, например trade_accepted
	TradeID   string          `json:"trade_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewManager создает новый экземпляр Manager
func NewManager() *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		clients:     make(map[uuid.UUID]*Client),
		userClients: make(map[uuid.UUID]map[uuid.UUID]bool),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// AddClient регистрирует нового клиента
func (m *Manager) AddClient(client *Client) {
	m.clientsMutex.Lock()
	m.clients[client.ID] = client
	m.clientsMutex.Unlock()

	// Связываем клиент с пользователем
	m.userMutex.Lock()
	if _, exists := m.userClients[client.UserID]; !exists {
		m.userClients[client.UserID] = make(map[uuid.UUID]bool)
	}
	m.userClients[client.UserID][client.ID] = true
	m.userMutex.Unlock()

	log.Printf("WebSocket клиент %s подключён для пользователя %s", client.ID, client.UserID)
}

// RemoveClient удаляет клиента
func (m *Manager) RemoveClient(clientID uuid.UUID) {
	m.clientsMutex.Lock()
	client, exists := m.clients[clientID]
	delete(m.clients, clientID)
	m.clientsMutex.Unlock()

	if !exists {
		return
	}

	m.userMutex.Lock()
	if clients, ok := m.userClients[client.UserID]; ok {
		delete(clients, clientID)
		// Если это был последний клиент пользователя, удаляем запись пользователя
		if len(clients) == 0 {
			delete(m.userClients, client.UserID)
		}
	}
	m.userMutex.Unlock()

	log.Printf("WebSocket клиент %s отключён для пользователя %s", clientID, client.UserID)
}

// IsOnline сообщает, есть ли у пользователя открытые соединения
func (m *Manager) IsOnline(userID uuid.UUID) bool {
	m.userMutex.RLock()
	defer m.userMutex.RUnlock()
	return len(m.userClients[userID]) > 0
}

// SendToUser отправляет событие всем соединениям пользователя и возвращает
// число соединений, принявших его в очередь
func (m *Manager) SendToUser(userID uuid.UUID, event Event) int {
	m.userMutex.RLock()
	clientIDs := make([]uuid.UUID, 0, len(m.userClients[userID]))
	for clientID := range m.userClients[userID] {
		clientIDs = append(clientIDs, clientID)
	}
	m.userMutex.RUnlock()

	if len(clientIDs) == 0 {
		// Пользователь не онлайн
		return 0
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	eventJSON, err := json.Marshal(event)
	if err != nil {
		log.Printf("Ошибка сериализации события: %v", err)
		return 0
	}

	delivered := 0
	for _, clientID := range clientIDs {
		m.clientsMutex.RLock()
		client, exists := m.clients[clientID]
		m.clientsMutex.RUnlock()
		if !exists {
			continue
		}

		select {
		case client.send <- eventJSON:
			delivered++
		default:
			// Канал заполнен, клиент слишком медленный - закрываем соединение
			log.Printf("Очередь клиента %s переполнена, закрываем соединение", client.ID)
			client.conn.Close()
			m.RemoveClient(client.ID)
		}
	}
	return delivered
}

// Shutdown корректно завершает работу менеджера WebSocket
func (m *Manager) Shutdown() {
	m.cancel()

	m.clientsMutex.Lock()
	for _, client := range m.clients {
		client.conn.Close()
	}
	m.clients = make(map[uuid.UUID]*Client)
	m.clientsMutex.Unlock()

	m.userMutex.Lock()
	m.userClients = make(map[uuid.UUID]map[uuid.UUID]bool)
	m.userMutex.Unlock()
}
