package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/shelfwise/shelfwise/internal/data"
	"github.com/shelfwise/shelfwise/internal/lending"
	"github.com/shelfwise/shelfwise/internal/validator"
)

func (app *application) createIssue(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Book    int64  `json:"book,string"`
		Reader  int64  `json:"reader,string"`
		DueDate string `json:"dueDate"`

		// The admin client also posts display fields and a client-side
		// lending date. They are accepted but ignored; the ledger snapshots
		// its own display data and always assigns the lending date itself.
		BookTitle   string `json:"bookTitle"`
		ReaderName  string `json:"readerName"`
		LendingDate string `json:"lendingDate"`
		Status      string `json:"status"`
	}

	err := app.readJSON(w, r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	v := validator.New()

	var dueDate time.Time
	if input.DueDate == "" {
		v.AddError("dueDate", "must be provided")
	} else {
		dueDate, err = parseDate(input.DueDate)
		if err != nil {
			v.AddError("dueDate", "must be a valid date in YYYY-MM-DD form")
		}
	}

	// The lending date is always assigned server-side.
	today := time.Now()

	data.ValidateIssue(v, input.Book, input.Reader, dueDate, today)
	if !v.Valid() {
		app.failedValidationResponse(w, r, v.Errors)
		return
	}

	issue, err := app.models.Issues.Issue(input.Book, input.Reader, today, dueDate)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		case errors.Is(err, data.ErrBookNotAvailable):
			app.conflictResponse(w, r, "book is already issued")
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	err = app.writeJSON(w, http.StatusCreated, envelope{
		"message":   "book issued successfully",
		"issueBook": issue,
	}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *application) listIssues(w http.ResponseWriter, r *http.Request) {
	issues, err := app.models.Issues.GetAll()
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	// Overdue promotion is lazy: pending records past their due date are
	// reported as overdue without waiting for the overdue query to persist
	// the transition.
	today := time.Now()
	for _, issue := range issues {
		issue.Status = lending.Effective(issue.Status, issue.DueDate, today)
	}

	if issues == nil {
		issues = []*data.Issue{}
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"issueBooks": issues}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *application) showIssue(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r)
	if err != nil {
		app.notFoundResponse(w, r)
		return
	}

	issue, err := app.models.Issues.Get(id)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	issue.Status = lending.Effective(issue.Status, issue.DueDate, time.Now())

	err = app.writeJSON(w, http.StatusOK, envelope{"issueBook": issue}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// returnIssue closes the active loan for a book. The path parameter is the
// book id, matching how the admin client calls it.
func (app *application) returnIssue(w http.ResponseWriter, r *http.Request) {
	bookID, err := app.readIDParam(r)
	if err != nil {
		app.notFoundResponse(w, r)
		return
	}

	issue, err := app.models.Issues.ReturnByBook(bookID)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrNoActiveIssue):
			app.errorResponse(w, r, http.StatusNotFound, "no active loan for this book")
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{
		"message":   "book returned successfully",
		"issueBook": issue,
	}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *application) listOverdue(w http.ResponseWriter, r *http.Request) {
	issues, err := app.models.Issues.Overdue(time.Now())
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	if issues == nil {
		issues = []*data.Issue{}
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"issueBooks": issues}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// markNotified flags an overdue record as reminded, then sends the reminder
// email. The flag is durable before the send is attempted; a mail failure is
// reported to the caller but never rolls the flag back.
func (app *application) markNotified(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r)
	if err != nil {
		app.notFoundResponse(w, r)
		return
	}

	issue, err := app.models.Issues.MarkNotified(id, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		case errors.Is(err, data.ErrNotOverdue):
			app.conflictResponse(w, r, "issue record is not overdue")
		case errors.Is(err, data.ErrAlreadyNotified):
			app.conflictResponse(w, r, "issue record has already been notified")
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	env := envelope{
		"message":   "overdue record marked as notified",
		"issueBook": issue,
	}

	err = app.mailer.SendOverdueNotice(issue.ReaderName, issue.ReaderEmail, issue.BookTitle, issue.DueDate)
	if err != nil {
		app.logError(r, err)
		env["warning"] = "the overdue notice email could not be sent"
	}

	err = app.writeJSON(w, http.StatusOK, env, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}
