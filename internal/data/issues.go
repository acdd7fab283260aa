package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shelfwise/shelfwise/internal/lending"
	"github.com/shelfwise/shelfwise/internal/validator"
)

// Issue is one entry in the lending ledger. The reader and book display
// fields are snapshotted at issue time so the ledger stays readable as a
// historical record even after catalog rows change or disappear.
type Issue struct {
	ID          int64          `json:"id"`
	BookID      int64          `json:"book"`
	ReaderID    int64          `json:"reader"`
	BookTitle   string         `json:"bookTitle"`
	ReaderName  string         `json:"readerName"`
	ReaderEmail string         `json:"readerEmail"`
	LendingDate time.Time      `json:"lendingDate"`
	DueDate     time.Time      `json:"dueDate"`
	Status      lending.Status `json:"status"`
	NotifiedAt  *time.Time     `json:"notifiedAt,omitempty"`
	CreatedAt   time.Time      `json:"-"`
}

func ValidateIssue(v *validator.Validator, bookID, readerID int64, dueDate, today time.Time) {
	v.Check(bookID > 0, "book", "must be provided")
	v.Check(readerID > 0, "reader", "must be provided")
	v.Check(!dueDate.IsZero(), "dueDate", "must be provided")
	if !dueDate.IsZero() {
		v.Check(lending.ValidDueDate(dueDate, today), "dueDate", "must not be earlier than today")
	}
}

type IssueModel struct {
	DB *sql.DB
}

const issueColumns = `
	id, COALESCE(book_id, 0), COALESCE(reader_id, 0), book_title, reader_name,
	reader_email, lending_date, due_date, status, notified_at, created_at`

func scanIssue(row interface{ Scan(...any) error }) (*Issue, error) {
	var is Issue
	var status string

	err := row.Scan(
		&is.ID,
		&is.BookID,
		&is.ReaderID,
		&is.BookTitle,
		&is.ReaderName,
		&is.ReaderEmail,
		&is.LendingDate,
		&is.DueDate,
		&status,
		&is.NotifiedAt,
		&is.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	is.Status, err = lending.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	return &is, nil
}

// Issue creates a pending ledger record for the book and reader, flips the
// book to Issued and adds the book to the reader's borrowed set. The whole
// operation is one transaction: either all three writes land or none do.
func (m IssueModel) Issue(bookID, readerID int64, lendingDate, dueDate time.Time) (*Issue, error) {
	if bookID < 1 || readerID < 1 {
		return nil, ErrRecordNotFound
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var bookTitle, bookStatus string
	err = tx.QueryRowContext(ctx,
		`SELECT title, status FROM books WHERE id = $1 FOR UPDATE`, bookID).
		Scan(&bookTitle, &bookStatus)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("book %d: %w", bookID, ErrRecordNotFound)
		default:
			return nil, err
		}
	}

	if bookStatus != lending.BookAvailable {
		return nil, ErrBookNotAvailable
	}

	var readerName, readerEmail string
	err = tx.QueryRowContext(ctx,
		`SELECT name, email FROM readers WHERE id = $1 FOR UPDATE`, readerID).
		Scan(&readerName, &readerEmail)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("reader %d: %w", readerID, ErrRecordNotFound)
		default:
			return nil, err
		}
	}

	is := &Issue{
		BookID:      bookID,
		ReaderID:    readerID,
		BookTitle:   bookTitle,
		ReaderName:  readerName,
		ReaderEmail: readerEmail,
		LendingDate: lending.Day(lendingDate),
		DueDate:     lending.Day(dueDate),
		Status:      lending.StatusPending,
	}

	query := `
		INSERT INTO issue_records (book_id, reader_id, book_title, reader_name, reader_email, lending_date, due_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	args := []any{
		is.BookID, is.ReaderID, is.BookTitle, is.ReaderName, is.ReaderEmail,
		is.LendingDate, is.DueDate, is.Status,
	}

	err = tx.QueryRowContext(ctx, query, args...).Scan(&is.ID, &is.CreatedAt)
	if err != nil {
		switch {
		case err.Error() == `pq: duplicate key value violates unique constraint "issue_records_active_book_idx"`:
			return nil, ErrBookNotAvailable
		default:
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE books SET status = $1, version = version + 1 WHERE id = $2`,
		lending.BookIssued, bookID)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE readers SET borrowed_books = array_append(borrowed_books, $1), version = version + 1 WHERE id = $2`,
		bookID, readerID)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return is, nil
}

func (m IssueModel) Get(id int64) (*Issue, error) {
	if id < 1 {
		return nil, ErrRecordNotFound
	}

	query := `SELECT ` + issueColumns + ` FROM issue_records WHERE id = $1`

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	is, err := scanIssue(m.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}
	return is, nil
}

func (m IssueModel) GetAll() ([]*Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issue_records ORDER BY created_at DESC, id DESC`

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []*Issue
	for rows.Next() {
		is, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, is)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return issues, nil
}

// ReturnByBook closes the active ledger record for the book: the record
// becomes returned, the book Available, and the book leaves the reader's
// borrowed set. Returning a book with no active record fails, so a second
// return of the same book is an error rather than a silent no-op.
func (m IssueModel) ReturnByBook(bookID int64) (*Issue, error) {
	if bookID < 1 {
		return nil, ErrNoActiveIssue
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Lock the book row first; Issue does the same, which keeps lock order
	// consistent between the two operations.
	var lockedID int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM books WHERE id = $1 FOR UPDATE`, bookID).
		Scan(&lockedID)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// No book row means no active record either: an active record
			// blocks catalog deletion.
			return nil, ErrNoActiveIssue
		default:
			return nil, err
		}
	}

	query := `
		SELECT ` + issueColumns + `
		FROM issue_records
		WHERE book_id = $1 AND status IN ($2, $3)
		FOR UPDATE`

	is, err := scanIssue(tx.QueryRowContext(ctx, query,
		bookID, lending.StatusPending, lending.StatusOverdue))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrNoActiveIssue
		default:
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE issue_records SET status = $1 WHERE id = $2`,
		lending.StatusReturned, is.ID)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE books SET status = $1, version = version + 1 WHERE id = $2`,
		lending.BookAvailable, bookID)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE readers SET borrowed_books = array_remove(borrowed_books, $1), version = version + 1 WHERE id = $2`,
		bookID, is.ReaderID)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	is.Status = lending.StatusReturned
	return is, nil
}

// Overdue promotes every pending record whose due date has passed and then
// returns the overdue records that have not triggered a reminder yet,
// oldest due date first. Promotion happens here, at query time; there is no
// background sweep.
func (m IssueModel) Overdue(today time.Time) ([]*Issue, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE issue_records SET status = $1 WHERE status = $2 AND due_date < $3`,
		lending.StatusOverdue, lending.StatusPending, lending.Day(today))
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + issueColumns + `
		FROM issue_records
		WHERE status = $1 AND notified_at IS NULL
		ORDER BY due_date ASC, id ASC`

	rows, err := tx.QueryContext(ctx, query, lending.StatusOverdue)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []*Issue
	for rows.Next() {
		is, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, is)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return issues, nil
}

// MarkNotified flags an overdue record as having triggered a reminder. The
// record must be overdue (a pending record past its due date is promoted on
// the spot) and not yet flagged. Sending the reminder itself is the caller's
// job; this only records the durable side of it.
func (m IssueModel) MarkNotified(id int64, now time.Time) (*Issue, error) {
	if id < 1 {
		return nil, ErrRecordNotFound
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `SELECT ` + issueColumns + ` FROM issue_records WHERE id = $1 FOR UPDATE`

	is, err := scanIssue(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}

	if lending.Effective(is.Status, is.DueDate, now) != lending.StatusOverdue {
		return nil, ErrNotOverdue
	}
	if is.NotifiedAt != nil {
		return nil, ErrAlreadyNotified
	}

	notifiedAt := now.UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE issue_records SET status = $1, notified_at = $2 WHERE id = $3`,
		lending.StatusOverdue, notifiedAt, id)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	is.Status = lending.StatusOverdue
	is.NotifiedAt = &notifiedAt
	return is, nil
}
