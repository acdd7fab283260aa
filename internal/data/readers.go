package data

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/shelfwise/shelfwise/internal/validator"
)

type Reader struct {
	ID            int64     `json:"id"`
	CreatedAt     time.Time `json:"-"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone"`
	Address       string    `json:"address"`
	MembershipID  string    `json:"memberShipId"`
	BorrowedBooks []int64   `json:"borrowedBooks"`
	Version       int       `json:"-"`
}

func ValidateReader(v *validator.Validator, reader *Reader) {
	v.Check(validator.NotBlank(reader.Name), "name", "must be provided")
	v.Check(validator.MaxChars(reader.Name, 500), "name", "must not be more than 500 bytes long")
	ValidateEmail(v, reader.Email)
	v.Check(validator.NotBlank(reader.Phone), "phone", "must be provided")
}

type ReaderModel struct {
	DB *sql.DB
}

func (m ReaderModel) Insert(reader *Reader) error {
	if reader.MembershipID == "" {
		reader.MembershipID = uuid.NewString()
	}

	query := `
		INSERT INTO readers (name, email, phone, address, membership_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, version`

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	args := []any{reader.Name, reader.Email, reader.Phone, reader.Address, reader.MembershipID}

	err := m.DB.QueryRowContext(ctx, query, args...).
		Scan(&reader.ID, &reader.CreatedAt, &reader.Version)
	if err != nil {
		switch {
		case err.Error() == `pq: duplicate key value violates unique constraint "readers_email_key"`:
			return ErrDuplicateEmail
		default:
			return err
		}
	}

	reader.BorrowedBooks = []int64{}
	return nil
}

func (m ReaderModel) Get(id int64) (*Reader, error) {
	if id < 1 {
		return nil, ErrRecordNotFound
	}

	query := `
		SELECT id, created_at, name, email, phone, address, membership_id, borrowed_books, version
		FROM readers
		WHERE id = $1`

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var r Reader
	var borrowed []int64

	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&r.ID,
		&r.CreatedAt,
		&r.Name,
		&r.Email,
		&r.Phone,
		&r.Address,
		&r.MembershipID,
		pq.Array(&borrowed),
		&r.Version,
	)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}

	if borrowed == nil {
		borrowed = []int64{}
	}
	r.BorrowedBooks = borrowed
	return &r, nil
}

func (m ReaderModel) GetAll() ([]*Reader, error) {
	query := `
		SELECT id, created_at, name, email, phone, address, membership_id, borrowed_books, version
		FROM readers
		ORDER BY id`

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readers []*Reader
	for rows.Next() {
		var r Reader
		var borrowed []int64
		if err := rows.Scan(
			&r.ID, &r.CreatedAt, &r.Name, &r.Email, &r.Phone, &r.Address,
			&r.MembershipID, pq.Array(&borrowed), &r.Version,
		); err != nil {
			return nil, err
		}
		if borrowed == nil {
			borrowed = []int64{}
		}
		r.BorrowedBooks = borrowed
		readers = append(readers, &r)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return readers, nil
}

// Update writes the contact fields. The membership id is fixed at creation
// and the borrowed set is owned by the ledger.
func (m ReaderModel) Update(reader *Reader) error {
	query := `
		UPDATE readers
		SET name = $1, email = $2, phone = $3, address = $4, version = version + 1
		WHERE id = $5
		RETURNING version`

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	args := []any{reader.Name, reader.Email, reader.Phone, reader.Address, reader.ID}

	err := m.DB.QueryRowContext(ctx, query, args...).Scan(&reader.Version)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrRecordNotFound
		case err.Error() == `pq: duplicate key value violates unique constraint "readers_email_key"`:
			return ErrDuplicateEmail
		default:
			return err
		}
	}
	return nil
}

func (m ReaderModel) Delete(id int64) error {
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

	var borrowed []int64
	err = tx.QueryRowContext(ctx, `SELECT borrowed_books FROM readers WHERE id = $1 FOR UPDATE`, id).
		Scan(pq.Array(&borrowed))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrRecordNotFound
		default:
			return err
		}
	}

	if len(borrowed) > 0 {
		return ErrReaderHasBooks
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM readers WHERE id = $1`, id)
	if err != nil {
		return err
	}

	return tx.Commit()
}
