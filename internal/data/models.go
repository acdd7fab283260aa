package data

import (
	"database/sql"
	"errors"
	"time"
)

var (
	ErrRecordNotFound = errors.New("models: record not found")
	ErrDuplicateEmail = errors.New("models: duplicate email")

	// Lending ledger errors.
	ErrBookNotAvailable = errors.New("models: book is not available for issue")
	ErrNoActiveIssue    = errors.New("models: no active issue record for book")
	ErrNotOverdue       = errors.New("models: issue record is not overdue")
	ErrAlreadyNotified  = errors.New("models: issue record already notified")

	// Catalog deletion guards.
	ErrBookOnLoan     = errors.New("models: book has an active issue record")
	ErrReaderHasBooks = errors.New("models: reader still holds borrowed books")
)

type Models struct {
	Users interface {
		Insert(user *User) error
		GetByEmail(email string) (*User, error)
		Get(id int64) (*User, error)
	}

	Books interface {
		Insert(book *Book) error
		Get(id int64) (*Book, error)
		GetAll() ([]*Book, error)
		Update(book *Book) error
		Delete(id int64) error
	}

	Readers interface {
		Insert(reader *Reader) error
		Get(id int64) (*Reader, error)
		GetAll() ([]*Reader, error)
		Update(reader *Reader) error
		Delete(id int64) error
	}

	Issues interface {
		Issue(bookID, readerID int64, lendingDate, dueDate time.Time) (*Issue, error)
		Get(id int64) (*Issue, error)
		GetAll() ([]*Issue, error)
		ReturnByBook(bookID int64) (*Issue, error)
		Overdue(today time.Time) ([]*Issue, error)
		MarkNotified(id int64, now time.Time) (*Issue, error)
	}
}

func NewModels(db *sql.DB) Models {
	return Models{
		Users:   UserModel{DB: db},
		Books:   BookModel{DB: db},
		Readers: ReaderModel{DB: db},
		Issues:  IssueModel{DB: db},
	}
}
