package data

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shelfwise/shelfwise/internal/lending"
	"github.com/shelfwise/shelfwise/internal/validator"
)

type Book struct {
	ID          int64     `json:"id"`
	CreatedAt   time.Time `json:"-"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Publisher   string    `json:"publisher"`
	PublishDate time.Time `json:"publishDate"`
	Category    string    `json:"category"`
	ISBN        string    `json:"isbn"`
	Status      string    `json:"status"`
	Version     int       `json:"-"`
}

func ValidateBook(v *validator.Validator, book *Book) {
	v.Check(validator.NotBlank(book.Title), "title", "must be provided")
	v.Check(validator.MaxChars(book.Title, 500), "title", "must not be more than 500 bytes long")
	v.Check(validator.NotBlank(book.Author), "author", "must be provided")
	v.Check(validator.NotBlank(book.ISBN), "isbn", "must be provided")
	v.Check(!book.PublishDate.IsZero(), "publishDate", "must be provided")
	v.Check(
		validator.PermittedValue(book.Status, lending.BookAvailable, lending.BookIssued),
		"status", "must be either Available or Issued",
	)
}

type BookModel struct {
	DB *sql.DB
}

func (m BookModel) Insert(book *Book) error {
	query := `
		INSERT INTO books (title, author, publisher, publish_date, category, isbn, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, version`

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	args := []any{
		book.Title, book.Author, book.Publisher, book.PublishDate,
		book.Category, book.ISBN, book.Status,
	}

	return m.DB.QueryRowContext(ctx, query, args...).
		Scan(&book.ID, &book.CreatedAt, &book.Version)
}

func (m BookModel) Get(id int64) (*Book, error) {
	if id < 1 {
		return nil, ErrRecordNotFound
	}

	query := `
		SELECT id, created_at, title, author, publisher, publish_date, category, isbn, status, version
		FROM books
		WHERE id = $1`

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var b Book

	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&b.ID,
		&b.CreatedAt,
		&b.Title,
		&b.Author,
		&b.Publisher,
		&b.PublishDate,
		&b.Category,
		&b.ISBN,
		&b.Status,
		&b.Version,
	)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}

	return &b, nil
}

func (m BookModel) GetAll() ([]*Book, error) {
	query := `
		SELECT id, created_at, title, author, publisher, publish_date, category, isbn, status, version
		FROM books
		ORDER BY id`

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []*Book
	for rows.Next() {
		var b Book
		if err := rows.Scan(
			&b.ID, &b.CreatedAt, &b.Title, &b.Author, &b.Publisher,
			&b.PublishDate, &b.Category, &b.ISBN, &b.Status, &b.Version,
		); err != nil {
			return nil, err
		}
		books = append(books, &b)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return books, nil
}

// Update writes the editable catalog fields. Status is owned by the ledger,
// so it is deliberately not part of the update statement.
func (m BookModel) Update(book *Book) error {
	query := `
		UPDATE books
		SET title = $1, author = $2, publisher = $3, publish_date = $4, category = $5, isbn = $6, version = version + 1
		WHERE id = $7
		RETURNING version`

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	args := []any{
		book.Title, book.Author, book.Publisher, book.PublishDate,
		book.Category, book.ISBN, book.ID,
	}

	err := m.DB.QueryRowContext(ctx, query, args...).Scan(&book.Version)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrRecordNotFound
		default:
			return err
		}
	}
	return nil
}

// Delete removes a book that is not currently on loan. The check and the
// delete run in one transaction so the book cannot be issued in between.
func (m BookModel) Delete(id int64) error {
	if id < 1 {
		return ErrRecordNotFound
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM books WHERE id = $1 FOR UPDATE`, id).
		Scan(&status)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrRecordNotFound
		default:
			return err
		}
	}

	if status == lending.BookIssued {
		return ErrBookOnLoan
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id)
	if err != nil {
		return err
	}

	return tx.Commit()
}
