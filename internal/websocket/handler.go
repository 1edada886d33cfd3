package websocket

import (
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Authenticator извлекает пользователя из токена запроса
type Authenticator func(token string) (uuid.UUID, error)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Mini App открывается с домена Telegram
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler подключает клиента по токену из параметра token
func Handler(manager *Manager, auth Authenticator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, `{"error":"Missing token"}`, http.StatusUnauthorized)
			return
		}
		userID, err := auth(token)
		if err != nil {
			http.Error(w, `{"error":"Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("Ошибка WebSocket upgrade: %v", err)
			return
		}
		NewClient(userID, conn, manager).Start()
	})
}
