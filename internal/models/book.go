package models

import (
	"time"

	"github.com/google/uuid"
)

// Book представляет книгу, выставленную для обмена
type Book struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Title     string    `json:"title"`
	Author    string    `json:"author,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BookDraft - данные новой книги
type BookDraft struct {
	Title    string
	Author   string
	ImageURL string
}
