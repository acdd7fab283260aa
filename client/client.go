// Package client is a Go client for the library administration API. All
// state, including the session cookie, lives on an explicit Session value
// handed to the caller; there is no package-level token or default client.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/shelfwise/shelfwise/internal/data"
)

// APIError is a non-2xx response from the service, carrying the
// human-readable message the server produced.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
}

// Session is an authenticated connection to the API. The zero value is not
// usable; construct one with New and call Login before using the resource
// methods.
type Session struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	return &Session{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Jar:     jar,
			Timeout: 10 * time.Second,
		},
	}, nil
}

func (s *Session) Login(ctx context.Context, email, password string) (*data.User, error) {
	body := map[string]string{"email": email, "password": password}

	var resp struct {
		User *data.User `json:"user"`
	}

	err := s.call(ctx, http.MethodPost, "/auth/login", body, &resp)
	if err != nil {
		return nil, err
	}
	return resp.User, nil
}

func (s *Session) Logout(ctx context.Context) error {
	return s.call(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

func (s *Session) refresh(ctx context.Context) error {
	return s.call(ctx, http.MethodPost, "/auth/refresh-token", nil, nil)
}

// do sends one request and, on a 401 from a non-auth endpoint, attempts a
// single session refresh before retrying the original request. A second 401
// is surfaced to the caller.
func (s *Session) do(ctx context.Context, method, path string, body, dst any) error {
	err := s.call(ctx, method, path, body, dst)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized && !strings.HasPrefix(path, "/auth/") {
		if refreshErr := s.refresh(ctx); refreshErr != nil {
			return err
		}
		return s.call(ctx, method, path, body, dst)
	}

	return err
}

func (s *Session) call(ctx context.Context, method, path string, body, dst any) error {
	var payload *bytes.Reader
	if body != nil {
		js, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(js)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody struct {
			Message string `json:"message"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errBody); decodeErr != nil {
			errBody.Message = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: errBody.Message}
	}

	if dst == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// BookParams are the editable catalog fields of a book.
type BookParams struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	Publisher   string `json:"publisher"`
	PublishDate string `json:"publishDate"`
	Category    string `json:"category"`
	ISBN        string `json:"isbn"`
}

func (s *Session) Books(ctx context.Context) ([]*data.Book, error) {
	var resp struct {
		Books []*data.Book `json:"books"`
	}
	err := s.do(ctx, http.MethodGet, "/book", nil, &resp)
	return resp.Books, err
}

func (s *Session) Book(ctx context.Context, id int64) (*data.Book, error) {
	var resp struct {
		Book *data.Book `json:"book"`
	}
	err := s.do(ctx, http.MethodGet, fmt.Sprintf("/book/%d", id), nil, &resp)
	return resp.Book, err
}

func (s *Session) CreateBook(ctx context.Context, params BookParams) (*data.Book, error) {
	var resp struct {
		Book *data.Book `json:"book"`
	}
	err := s.do(ctx, http.MethodPost, "/book", params, &resp)
	return resp.Book, err
}

func (s *Session) UpdateBook(ctx context.Context, id int64, params BookParams) (*data.Book, error) {
	var resp struct {
		Book *data.Book `json:"book"`
	}
	err := s.do(ctx, http.MethodPut, fmt.Sprintf("/book/%d", id), params, &resp)
	return resp.Book, err
}

func (s *Session) DeleteBook(ctx context.Context, id int64) error {
	return s.do(ctx, http.MethodDelete, fmt.Sprintf("/book/%d", id), nil, nil)
}

// ReaderParams are the editable contact fields of a reader.
type ReaderParams struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

func (s *Session) Readers(ctx context.Context) ([]*data.Reader, error) {
	var resp struct {
		Readers []*data.Reader `json:"readers"`
	}
	err := s.do(ctx, http.MethodGet, "/reader", nil, &resp)
	return resp.Readers, err
}

func (s *Session) Reader(ctx context.Context, id int64) (*data.Reader, error) {
	var resp struct {
		Reader *data.Reader `json:"reader"`
	}
	err := s.do(ctx, http.MethodGet, fmt.Sprintf("/reader/%d", id), nil, &resp)
	return resp.Reader, err
}

func (s *Session) CreateReader(ctx context.Context, params ReaderParams) (*data.Reader, error) {
	var resp struct {
		Reader *data.Reader `json:"reader"`
	}
	err := s.do(ctx, http.MethodPost, "/reader", params, &resp)
	return resp.Reader, err
}

func (s *Session) UpdateReader(ctx context.Context, id int64, params ReaderParams) (*data.Reader, error) {
	var resp struct {
		Reader *data.Reader `json:"reader"`
	}
	err := s.do(ctx, http.MethodPut, fmt.Sprintf("/reader/%d", id), params, &resp)
	return resp.Reader, err
}

func (s *Session) DeleteReader(ctx context.Context, id int64) error {
	return s.do(ctx, http.MethodDelete, fmt.Sprintf("/reader/%d", id), nil, nil)
}

func (s *Session) Issues(ctx context.Context) ([]*data.Issue, error) {
	var resp struct {
		Issues []*data.Issue `json:"issueBooks"`
	}
	err := s.do(ctx, http.MethodGet, "/issueBook", nil, &resp)
	return resp.Issues, err
}

func (s *Session) IssueBook(ctx context.Context, bookID, readerID int64, dueDate time.Time) (*data.Issue, error) {
	body := map[string]string{
		"book":    fmt.Sprintf("%d", bookID),
		"reader":  fmt.Sprintf("%d", readerID),
		"dueDate": dueDate.Format("2006-01-02"),
	}

	var resp struct {
		Issue *data.Issue `json:"issueBook"`
	}
	err := s.do(ctx, http.MethodPost, "/issueBook", body, &resp)
	return resp.Issue, err
}

// ReturnBook closes the active loan for the given book id.
func (s *Session) ReturnBook(ctx context.Context, bookID int64) (*data.Issue, error) {
	var resp struct {
		Issue *data.Issue `json:"issueBook"`
	}
	err := s.do(ctx, http.MethodPost, fmt.Sprintf("/issueBook/return/%d", bookID), nil, &resp)
	return resp.Issue, err
}

func (s *Session) Overdue(ctx context.Context) ([]*data.Issue, error) {
	var resp struct {
		Issues []*data.Issue `json:"issueBooks"`
	}
	err := s.do(ctx, http.MethodGet, "/issueBook/overdue", nil, &resp)
	return resp.Issues, err
}

// MarkNotified flags an overdue record as reminded. The returned warning is
// non-empty when the server recorded the flag but could not send the email.
func (s *Session) MarkNotified(ctx context.Context, id int64) (*data.Issue, string, error) {
	var resp struct {
		Issue   *data.Issue `json:"issueBook"`
		Warning string      `json:"warning"`
	}
	err := s.do(ctx, http.MethodPut, fmt.Sprintf("/issueBook/updateOverdue/%d", id), nil, &resp)
	return resp.Issue, resp.Warning, err
}
