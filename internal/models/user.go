package models

import "github.com/google/uuid"

// User представляет минимальную информацию о пользователе для API
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	IsActive  bool      `json:"-"`
}

// TelegramProfile - данные пользователя из initData Telegram
type TelegramProfile struct {
	TelegramID   int64
	Username     string
	FirstName    string
	LastName     string
	PhotoURL     string
	IsPremium    bool
	LanguageCode string
}
