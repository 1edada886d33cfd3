package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rajivgeraev/flippy-books/internal/db"
	"github.com/rajivgeraev/flippy-books/internal/models"
	"github.com/rajivgeraev/flippy-books/internal/trade"
)

// BookRepository читает и меняет владельцев книг
type BookRepository struct {
	pool *pgxpool.Pool
}

func NewBookRepository(pool *pgxpool.Pool) *BookRepository {
	return &BookRepository{pool: pool}
}

func (r *BookRepository) GetBook(ctx context.Context, bookID uuid.UUID) (*models.Book, error) {
	var book models.Book
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, owner_id, title, author, image_url, created_at, updated_at
		FROM books WHERE id = $1
	`, bookID).Scan(&book.ID, &book.OwnerID, &book.Title, &book.Author, &book.ImageURL, &book.CreatedAt, &book.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("книга %s: %w", bookID, trade.ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка получения книги: %w", err)
	}
	return &book, nil
}

// SwapOwners меняет владельцев одним UPDATE с проверкой текущих владельцев.
// Внутри CompareAndSwapStatus выполняется в транзакции сделки.
func (r *BookRepository) SwapOwners(ctx context.Context, offeredBookID, requestedBookID, proposerID, receiverID uuid.UUID) error {
	swap := func(ctx context.Context, q db.Querier) error {
		tag, err := q.Exec(ctx, `
			UPDATE books
			SET owner_id = CASE WHEN id = $1 THEN $4::uuid ELSE $3::uuid END,
				updated_at = NOW()
			WHERE (id = $1 AND owner_id = $3) OR (id = $2 AND owner_id = $4)
		`, offeredBookID, requestedBookID, proposerID, receiverID)
		if err != nil {
			return fmt.Errorf("ошибка обмена владельцами: %w", err)
		}
		if tag.RowsAffected() != 2 {
			return fmt.Errorf("%w: совпало книг %d из 2", trade.ErrOwnershipChanged, tag.RowsAffected())
		}
		return nil
	}

	if tx, ok := db.TxFromContext(ctx); ok {
		return swap(ctx, tx)
	}
	return db.InTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return swap(ctx, tx)
	})
}

// CreateBook регистрирует книгу пользователя
func (r *BookRepository) CreateBook(ctx context.Context, ownerID uuid.UUID, draft models.BookDraft) (*models.Book, error) {
	var book models.Book
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO books (owner_id, title, author, image_url)
		VALUES ($1, $2, $3, $4)
		RETURNING id, owner_id, title, author, image_url, created_at, updated_at
	`, ownerID, draft.Title, draft.Author, draft.ImageURL).Scan(&book.ID, &book.OwnerID, &book.Title, &book.Author, &book.ImageURL, &book.CreatedAt, &book.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания книги: %w", err)
	}
	return &book, nil
}

// ListByOwner возвращает книги пользователя, новые первыми
func (r *BookRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Book, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, owner_id, title, author, image_url, created_at, updated_at
		FROM books WHERE owner_id = $1
		ORDER BY created_at DESC, id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса книг: %w", err)
	}
	defer rows.Close()

	var books []*models.Book
	for rows.Next() {
		var book models.Book
		if err := rows.Scan(&book.ID, &book.OwnerID, &book.Title, &book.Author, &book.ImageURL, &book.CreatedAt, &book.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования книги: %w", err)
		}
		books = append(books, &book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения книг: %w", err)
	}
	return books, nil
}
