package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/stretchr/testify/require"

	"github.com/shelfwise/shelfwise/internal/data"
	"github.com/shelfwise/shelfwise/internal/jsonlog"
	"github.com/shelfwise/shelfwise/internal/lending"
)

// testStore is an in-memory stand-in for the postgres-backed models. It
// mirrors the transactional semantics of internal/data so handler tests can
// exercise the full lending lifecycle without a database.
type testStore struct {
	mu      sync.Mutex
	users   map[int64]*data.User
	books   map[int64]*data.Book
	readers map[int64]*data.Reader
	issues  []*data.Issue
	nextID  int64
}

func newTestStore() *testStore {
	return &testStore{
		users:   make(map[int64]*data.User),
		books:   make(map[int64]*data.Book),
		readers: make(map[int64]*data.Reader),
	}
}

func (s *testStore) id() int64 {
	s.nextID++
	return s.nextID
}

type mockUsers struct{ store *testStore }

func (m mockUsers) Insert(user *data.User) error {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == user.Email {
			return data.ErrDuplicateEmail
		}
	}
	user.ID = s.id()
	user.CreatedAt = time.Now()
	s.users[user.ID] = user
	return nil
}

func (m mockUsers) GetByEmail(email string) (*data.User, error) {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, data.ErrRecordNotFound
}

func (m mockUsers) Get(id int64) (*data.User, error) {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	return u, nil
}

type mockBooks struct{ store *testStore }

func (m mockBooks) Insert(book *data.Book) error {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	book.ID = s.id()
	book.CreatedAt = time.Now()
	book.Version = 1
	s.books[book.ID] = book
	return nil
}

func (m mockBooks) Get(id int64) (*data.Book, error) {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.books[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	cp := *b
	return &cp, nil
}

func (m mockBooks) GetAll() ([]*data.Book, error) {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var books []*data.Book
	for _, b := range s.books {
		cp := *b
		books = append(books, &cp)
	}
	slices.SortFunc(books, func(a, b *data.Book) int { return int(a.ID - b.ID) })
	return books, nil
}

func (m mockBooks) Update(book *data.Book) error {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.books[book.ID]
	if !ok {
		return data.ErrRecordNotFound
	}
	status := stored.Status
	cp := *book
	cp.Status = status
	cp.Version = stored.Version + 1
	s.books[book.ID] = &cp
	book.Version = cp.Version
	return nil
}

func (m mockBooks) Delete(id int64) error {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.books[id]
	if !ok {
		return data.ErrRecordNotFound
	}
	if b.Status == lending.BookIssued {
		return data.ErrBookOnLoan
	}
	delete(s.books, id)
	return nil
}

type mockReaders struct{ store *testStore }

func (m mockReaders) Insert(reader *data.Reader) error {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.readers {
		if r.Email == reader.Email {
			return data.ErrDuplicateEmail
		}
	}
	reader.ID = s.id()
	reader.CreatedAt = time.Now()
	reader.Version = 1
	if reader.MembershipID == "" {
		reader.MembershipID = fmt.Sprintf("member-%d", reader.ID)
	}
	reader.BorrowedBooks = []int64{}
	s.readers[reader.ID] = reader
	return nil
}

func (m mockReaders) Get(id int64) (*data.Reader, error) {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.readers[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	cp := *r
	cp.BorrowedBooks = slices.Clone(r.BorrowedBooks)
	return &cp, nil
}

func (m mockReaders) GetAll() ([]*data.Reader, error) {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var readers []*data.Reader
	for _, r := range s.readers {
		cp := *r
		cp.BorrowedBooks = slices.Clone(r.BorrowedBooks)
		readers = append(readers, &cp)
	}
	slices.SortFunc(readers, func(a, b *data.Reader) int { return int(a.ID - b.ID) })
	return readers, nil
}

func (m mockReaders) Update(reader *data.Reader) error {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.readers[reader.ID]
	if !ok {
		return data.ErrRecordNotFound
	}
	cp := *reader
	cp.BorrowedBooks = slices.Clone(stored.BorrowedBooks)
	cp.MembershipID = stored.MembershipID
	cp.Version = stored.Version + 1
	s.readers[reader.ID] = &cp
	reader.Version = cp.Version
	return nil
}

func (m mockReaders) Delete(id int64) error {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.readers[id]
	if !ok {
		return data.ErrRecordNotFound
	}
	if len(r.BorrowedBooks) > 0 {
		return data.ErrReaderHasBooks
	}
	delete(s.readers, id)
	return nil
}

type mockIssues struct{ store *testStore }

func copyIssue(is *data.Issue) *data.Issue {
	cp := *is
	if is.NotifiedAt != nil {
		t := *is.NotifiedAt
		cp.NotifiedAt = &t
	}
	return &cp
}

func (m mockIssues) Issue(bookID, readerID int64, lendingDate, dueDate time.Time) (*data.Issue, error) {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.books[bookID]
	if !ok {
		return nil, fmt.Errorf("book %d: %w", bookID, data.ErrRecordNotFound)
	}
	if b.Status != lending.BookAvailable {
		return nil, data.ErrBookNotAvailable
	}

	r, ok := s.readers[readerID]
	if !ok {
		return nil, fmt.Errorf("reader %d: %w", readerID, data.ErrRecordNotFound)
	}

	is := &data.Issue{
		ID:          s.id(),
		BookID:      bookID,
		ReaderID:    readerID,
		BookTitle:   b.Title,
		ReaderName:  r.Name,
		ReaderEmail: r.Email,
		LendingDate: lending.Day(lendingDate),
		DueDate:     lending.Day(dueDate),
		Status:      lending.StatusPending,
		CreatedAt:   time.Now(),
	}
	s.issues = append(s.issues, is)

	b.Status = lending.BookIssued
	r.BorrowedBooks = append(r.BorrowedBooks, bookID)

	return copyIssue(is), nil
}

func (m mockIssues) Get(id int64) (*data.Issue, error) {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, is := range s.issues {
		if is.ID == id {
			return copyIssue(is), nil
		}
	}
	return nil, data.ErrRecordNotFound
}

func (m mockIssues) GetAll() ([]*data.Issue, error) {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var issues []*data.Issue
	for _, is := range s.issues {
		issues = append(issues, copyIssue(is))
	}
	return issues, nil
}

func (m mockIssues) ReturnByBook(bookID int64) (*data.Issue, error) {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, is := range s.issues {
		if is.BookID != bookID || !is.Status.Active() {
			continue
		}

		is.Status = lending.StatusReturned
		if b, ok := s.books[bookID]; ok {
			b.Status = lending.BookAvailable
		}
		if r, ok := s.readers[is.ReaderID]; ok {
			r.BorrowedBooks = slices.DeleteFunc(r.BorrowedBooks, func(id int64) bool {
				return id == bookID
			})
		}
		return copyIssue(is), nil
	}
	return nil, data.ErrNoActiveIssue
}

func (m mockIssues) Overdue(today time.Time) ([]*data.Issue, error) {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var overdue []*data.Issue
	for _, is := range s.issues {
		is.Status = lending.Effective(is.Status, is.DueDate, today)
		if is.Status == lending.StatusOverdue && is.NotifiedAt == nil {
			overdue = append(overdue, copyIssue(is))
		}
	}
	slices.SortFunc(overdue, func(a, b *data.Issue) int {
		if c := a.DueDate.Compare(b.DueDate); c != 0 {
			return c
		}
		return int(a.ID - b.ID)
	})
	return overdue, nil
}

func (m mockIssues) MarkNotified(id int64, now time.Time) (*data.Issue, error) {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, is := range s.issues {
		if is.ID != id {
			continue
		}
		if lending.Effective(is.Status, is.DueDate, now) != lending.StatusOverdue {
			return nil, data.ErrNotOverdue
		}
		if is.NotifiedAt != nil {
			return nil, data.ErrAlreadyNotified
		}
		is.Status = lending.StatusOverdue
		notifiedAt := now.UTC()
		is.NotifiedAt = &notifiedAt
		return copyIssue(is), nil
	}
	return nil, data.ErrRecordNotFound
}

// mockNotifier records overdue notices instead of dialing SMTP.
type mockNotifier struct {
	mu         sync.Mutex
	fail       bool
	recipients []string
}

func (n *mockNotifier) SendOverdueNotice(readerName, readerEmail, bookTitle string, dueDate time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return fmt.Errorf("smtp: connection refused")
	}
	n.recipients = append(n.recipients, readerEmail)
	return nil
}

func (n *mockNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.recipients)
}

func newTestApplication(t *testing.T) (*application, *testStore, *mockNotifier) {
	t.Helper()

	store := newTestStore()
	notifier := &mockNotifier{}

	session := scs.New()
	session.Lifetime = time.Hour

	var cfg config
	cfg.env = "test"
	cfg.limiter.enabled = false

	app := &application{
		config: cfg,
		logger: jsonlog.New(io.Discard, jsonlog.LevelOff),
		models: data.Models{
			Users:   mockUsers{store},
			Books:   mockBooks{store},
			Readers: mockReaders{store},
			Issues:  mockIssues{store},
		},
		mailer:  notifier,
		session: session,
	}

	return app, store, notifier
}

type testServer struct {
	*httptest.Server
}

func newTestServer(t *testing.T, h http.Handler) *testServer {
	t.Helper()

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	ts.Client().Jar = jar

	return &testServer{ts}
}

func (ts *testServer) request(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		js, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(js)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, respBody
}

func (ts *testServer) get(t *testing.T, path string) (int, []byte) {
	return ts.request(t, http.MethodGet, path, nil)
}

func (ts *testServer) post(t *testing.T, path string, body any) (int, []byte) {
	return ts.request(t, http.MethodPost, path, body)
}

func (ts *testServer) put(t *testing.T, path string, body any) (int, []byte) {
	return ts.request(t, http.MethodPut, path, body)
}

func (ts *testServer) delete(t *testing.T, path string) (int, []byte) {
	return ts.request(t, http.MethodDelete, path, nil)
}

// login registers a staff account directly in the store and signs the test
// client in so protected routes are reachable.
func (ts *testServer) login(t *testing.T, app *application) {
	t.Helper()

	user := &data.User{Name: "Test Staff", Email: "staff@example.com"}
	require.NoError(t, user.Password.Set("pa55word123"))
	require.NoError(t, app.models.Users.Insert(user))

	status, _ := ts.post(t, "/auth/login", map[string]string{
		"email":    "staff@example.com",
		"password": "pa55word123",
	})
	require.Equal(t, http.StatusOK, status)
}

func unmarshal(t *testing.T, body []byte, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(body, dst))
}
