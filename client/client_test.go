package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, h http.Handler) *Session {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	s, err := New(srv.URL)
	require.NoError(t, err)
	return s
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func TestLogin(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))

		if creds.Password != "pa55word123" {
			writeJSON(t, w, http.StatusUnauthorized, map[string]string{"message": "invalid credentials"})
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"user": map[string]any{"id": 7, "name": "Staff", "email": creds.Email},
		})
	})

	s := newTestSession(t, mux)

	t.Run("valid credentials", func(t *testing.T) {
		user, err := s.Login(context.Background(), "staff@example.com", "pa55word123")
		require.NoError(t, err)
		assert.Equal(t, int64(7), user.ID)
		assert.Equal(t, "staff@example.com", user.Email)
	})

	t.Run("invalid credentials", func(t *testing.T) {
		_, err := s.Login(context.Background(), "staff@example.com", "wrong")

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
		assert.Equal(t, "invalid credentials", apiErr.Message)
	})
}

func TestSessionRefreshRetry(t *testing.T) {
	var refreshes, bookCalls atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		writeJSON(t, w, http.StatusOK, map[string]string{"message": "session refreshed"})
	})
	mux.HandleFunc("GET /book", func(w http.ResponseWriter, r *http.Request) {
		// The first call is rejected; after the refresh the retry succeeds.
		if bookCalls.Add(1) == 1 {
			writeJSON(t, w, http.StatusUnauthorized, map[string]string{"message": "you must be authenticated"})
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"books": []map[string]any{{"id": 1, "title": "Dune"}},
		})
	})

	s := newTestSession(t, mux)

	books, err := s.Books(context.Background())
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "Dune", books[0].Title)
	assert.Equal(t, int64(1), refreshes.Load())
	assert.Equal(t, int64(2), bookCalls.Load())
}

func TestSessionRefreshRetryGivesUp(t *testing.T) {
	var refreshes, bookCalls atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		writeJSON(t, w, http.StatusOK, map[string]string{"message": "session refreshed"})
	})
	mux.HandleFunc("GET /book", func(w http.ResponseWriter, r *http.Request) {
		bookCalls.Add(1)
		writeJSON(t, w, http.StatusUnauthorized, map[string]string{"message": "you must be authenticated"})
	})

	s := newTestSession(t, mux)

	_, err := s.Books(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, int64(1), refreshes.Load(), "exactly one refresh attempt")
	assert.Equal(t, int64(2), bookCalls.Load(), "exactly one retry")
}

func TestNoRefreshOnAuthEndpoints(t *testing.T) {
	var refreshes atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		writeJSON(t, w, http.StatusUnauthorized, map[string]string{"message": "no session"})
	})
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusUnauthorized, map[string]string{"message": "invalid credentials"})
	})

	s := newTestSession(t, mux)

	_, err := s.Login(context.Background(), "a@example.com", "nope")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, int64(0), refreshes.Load(), "auth endpoints never trigger a refresh")
}

func TestFailedRefreshSurfacesOriginalError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusUnauthorized, map[string]string{"message": "no session"})
	})
	mux.HandleFunc("GET /book", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusUnauthorized, map[string]string{"message": "you must be authenticated"})
	})

	s := newTestSession(t, mux)

	_, err := s.Books(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "you must be authenticated", apiErr.Message)
}

func TestIssueBookPayload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /issueBook", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		// The server expects string-typed ids and a bare date.
		assert.Equal(t, "3", body["book"])
		assert.Equal(t, "5", body["reader"])
		assert.Equal(t, "2026-09-13", body["dueDate"])

		writeJSON(t, w, http.StatusCreated, map[string]any{
			"message":   "book issued successfully",
			"issueBook": map[string]any{"id": 1, "book": 3, "reader": 5, "status": "pending"},
		})
	})

	s := newTestSession(t, mux)

	due := time.Date(2026, 9, 13, 0, 0, 0, 0, time.UTC)
	issue, err := s.IssueBook(context.Background(), 3, 5, due)
	require.NoError(t, err)
	assert.Equal(t, int64(1), issue.ID)
	assert.Equal(t, "pending", string(issue.Status))
}

func TestMarkNotifiedWarning(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /issueBook/updateOverdue/9", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"message":   "overdue record marked as notified",
			"warning":   "the overdue notice email could not be sent",
			"issueBook": map[string]any{"id": 9, "status": "overdue"},
		})
	})

	s := newTestSession(t, mux)

	issue, warning, err := s.MarkNotified(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, int64(9), issue.ID)
	assert.NotEmpty(t, warning)
}

func TestAPIErrorWithoutJSONBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /book", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
	})

	s := newTestSession(t, mux)

	_, err := s.Books(context.Background())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusGatewayTimeout, apiErr.StatusCode)
	assert.Equal(t, http.StatusText(http.StatusGatewayTimeout), apiErr.Message)
}
