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

// BookRepository хранит книги в памяти процесса
type BookRepository struct {
	mu    sync.RWMutex
	books map[uuid.UUID]*models.Book
}

// NewBookRepository создаёт пустой каталог книг
func NewBookRepository() *BookRepository {
	return &BookRepository{books: make(map[uuid.UUID]*models.Book)}
}

// AddBook добавляет книгу владельца и возвращает её
func (r *BookRepository) AddBook(ownerID uuid.UUID, title string) *models.Book {
	book, _ := r.CreateBook(context.Background(), ownerID, models.BookDraft{Title: title})
	return book
}

// SetOwner меняет владельца в обход обменов (продажа, передача и т.п.)
func (r *BookRepository) SetOwner(bookID, ownerID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	book, ok := r.books[bookID]
	if !ok {
		return fmt.Errorf("книга %s: %w", bookID, trade.ErrNotFound)
	}
	book.OwnerID = ownerID
	book.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *BookRepository) GetBook(_ context.Context, bookID uuid.UUID) (*models.Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	book, ok := r.books[bookID]
	if !ok {
		return nil, fmt.Errorf("книга %s: %w", bookID, trade.ErrNotFound)
	}
	copied := *book
	return &copied, nil
}

func (r *BookRepository) SwapOwners(_ context.Context, offeredBookID, requestedBookID, proposerID, receiverID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	offered, ok := r.books[offeredBookID]
	if !ok {
		return fmt.Errorf("книга %s: %w", offeredBookID, trade.ErrNotFound)
	}
	requested, ok := r.books[requestedBookID]
	if !ok {
		return fmt.Errorf("книга %s: %w", requestedBookID, trade.ErrNotFound)
	}
	if offered.OwnerID != proposerID || requested.OwnerID != receiverID {
		return trade.ErrOwnershipChanged
	}

	now := time.Now().UTC()
	offered.OwnerID, requested.OwnerID = receiverID, proposerID
	offered.UpdatedAt, requested.UpdatedAt = now, now
	return nil
}

// CreateBook добавляет книгу по черновику
func (r *BookRepository) CreateBook(_ context.Context, ownerID uuid.UUID, draft models.BookDraft) (*models.Book, error) {
	now := time.Now().UTC()
	book := &models.Book{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Title:     draft.Title,
		Author:    draft.Author,
		ImageURL:  draft.ImageURL,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.books[book.ID] = book
	r.mu.Unlock()

	copied := *book
	return &copied, nil
}

// ListByOwner возвращает книги пользователя, новые первыми
func (r *BookRepository) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]*models.Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var books []*models.Book
	for _, book := range r.books {
		if book.OwnerID == ownerID {
			copied := *book
			books = append(books, &copied)
		}
	}
	sort.Slice(books, func(i, j int) bool {
		if books[i].CreatedAt.Equal(books[j].CreatedAt) {
			return books[i].ID.String() < books[j].ID.String()
		}
		return books[i].CreatedAt.After(books[j].CreatedAt)
	})
	return books, nil
}
