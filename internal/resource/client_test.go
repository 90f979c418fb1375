package resource

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/studytrack/internal/model"
)

type notesClient = Client[model.Note, model.NoteInput, model.NotePatch]

func newTestClient(t *testing.T, handler http.HandlerFunc) *notesClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	conn, err := NewConn(ConnConfig{BaseURL: server.URL, Token: "token-1"})
	if err != nil {
		t.Fatalf("unexpected conn error: %v", err)
	}
	return NewClient[model.Note, model.NoteInput, model.NotePatch](conn, model.KindNotes)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func TestClientListDecodesNotes(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/notes" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer token-1" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get(headerRequestID) == "" {
			t.Errorf("expected request id header")
		}
		writeJSON(w, http.StatusOK, []model.Note{{ID: 1, UserID: 9, Title: "Bio", CreatedAt: now, UpdatedAt: now}})
	})

	notes, err := client.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notes) != 1 || notes[0].Title != "Bio" || notes[0].Content != nil {
		t.Fatalf("unexpected notes: %#v", notes)
	}
}

func TestClientListEmptyCollection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[]"))
	})
	notes, err := client.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if notes == nil || len(notes) != 0 {
		t.Fatalf("expected empty non-nil collection, got %#v", notes)
	}
}

func TestClientFailureMapping(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		body   string
		call   func(*notesClient) error
		check  func(*testing.T, error)
	}{
		{
			name:   "list-server-error",
			status: http.StatusInternalServerError,
			body:   `{"error":"query_failed"}`,
			call: func(c *notesClient) error {
				_, err := c.List(context.Background())
				return err
			},
			check: func(t *testing.T, err error) {
				var serverErr *ServerError
				if !errors.As(err, &serverErr) || serverErr.Status != http.StatusInternalServerError {
					t.Fatalf("expected server error 500, got %v", err)
				}
				if !errors.Is(err, ErrServer) {
					t.Fatalf("expected ErrServer sentinel")
				}
			},
		},
		{
			name:   "get-not-found",
			status: http.StatusNotFound,
			body:   `{"error":"not_found"}`,
			call: func(c *notesClient) error {
				_, err := c.Get(context.Background(), 5)
				return err
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrNotFound) {
					t.Fatalf("expected not found, got %v", err)
				}
			},
		},
		{
			name:   "create-validation",
			status: http.StatusBadRequest,
			body:   `{"error":"invalid_payload","message":"title is required"}`,
			call: func(c *notesClient) error {
				_, err := c.Create(context.Background(), model.NoteInput{Title: "x"})
				return err
			},
			check: func(t *testing.T, err error) {
				var validationErr *ValidationError
				if !errors.As(err, &validationErr) {
					t.Fatalf("expected validation error, got %v", err)
				}
				if validationErr.Local || validationErr.Message != "title is required" {
					t.Fatalf("unexpected validation error %#v", validationErr)
				}
			},
		},
		{
			name:   "update-not-found",
			status: http.StatusNotFound,
			call: func(c *notesClient) error {
				_, err := c.Update(context.Background(), 7, model.NotePatch{})
				return err
			},
			check: func(t *testing.T, err error) {
				var notFoundErr *NotFoundError
				if !errors.As(err, &notFoundErr) || notFoundErr.ID != 7 {
					t.Fatalf("expected not found for id 7, got %v", err)
				}
			},
		},
		{
			name:   "delete-server-error",
			status: http.StatusBadGateway,
			call: func(c *notesClient) error {
				return c.Delete(context.Background(), 3)
			},
			check: func(t *testing.T, err error) {
				var serverErr *ServerError
				if !errors.As(err, &serverErr) || serverErr.Status != http.StatusBadGateway {
					t.Fatalf("expected 502 server error, got %v", err)
				}
			},
		},
		{
			name:   "list-bad-request",
			status: http.StatusBadRequest,
			body:   `{"error":"bad"}`,
			call: func(c *notesClient) error {
				_, err := c.List(context.Background())
				return err
			},
			check: expectServerStatus(http.StatusBadRequest),
		},
		{
			name:   "get-bad-request",
			status: http.StatusBadRequest,
			body:   `{"error":"bad"}`,
			call: func(c *notesClient) error {
				_, err := c.Get(context.Background(), 4)
				return err
			},
			check: expectServerStatus(http.StatusBadRequest),
		},
		{
			name:   "delete-bad-request",
			status: http.StatusBadRequest,
			body:   `{"error":"bad"}`,
			call: func(c *notesClient) error {
				return c.Delete(context.Background(), 4)
			},
			check: expectServerStatus(http.StatusBadRequest),
		},
		{
			name:   "update-unprocessable",
			status: http.StatusUnprocessableEntity,
			body:   `{"error":"invalid_payload","message":"title must not be blank"}`,
			call: func(c *notesClient) error {
				_, err := c.Update(context.Background(), 4, model.NotePatch{})
				return err
			},
			check: func(t *testing.T, err error) {
				var validationErr *ValidationError
				if !errors.As(err, &validationErr) || validationErr.Message != "title must not be blank" {
					t.Fatalf("expected server validation error, got %v", err)
				}
			},
		},
		{
			name:   "get-malformed-body",
			status: http.StatusOK,
			body:   `{"id":"seven"}`,
			call: func(c *notesClient) error {
				_, err := c.Get(context.Background(), 7)
				return err
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrServer) {
					t.Fatalf("expected server error for malformed body, got %v", err)
				}
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(testCase.status)
				_, _ = w.Write([]byte(testCase.body))
			})
			testCase.check(t, testCase.call(client))
		})
	}
}

func expectServerStatus(status int) func(*testing.T, error) {
	return func(t *testing.T, err error) {
		t.Helper()
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			t.Fatalf("expected server error %d, got validation error %v", status, err)
		}
		var serverErr *ServerError
		if !errors.As(err, &serverErr) || serverErr.Status != status {
			t.Fatalf("expected server error %d, got %v", status, err)
		}
	}
}

func TestClientNetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	conn, err := NewConn(ConnConfig{BaseURL: baseURL})
	if err != nil {
		t.Fatalf("unexpected conn error: %v", err)
	}
	client := NewClient[model.Note, model.NoteInput, model.NotePatch](conn, model.KindNotes)

	_, err = client.List(context.Background())
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	if !strings.Contains(Describe(err), "Could not reach the server") {
		t.Fatalf("unexpected description %q", Describe(err))
	}
}

func TestClientUpdateSendsPatch(t *testing.T) {
	now := time.Now().UTC()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/notes/7" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		if _, ok := body["content"]; ok {
			t.Errorf("absent patch fields must not be sent: %v", body)
		}
		writeJSON(w, http.StatusOK, model.Note{ID: 7, UserID: 1, Title: "Chem", CreatedAt: now, UpdatedAt: now})
	})

	title := "Chem"
	note, err := client.Update(context.Background(), 7, model.NotePatch{Title: &title})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if note.Title != "Chem" {
		t.Fatalf("unexpected note %#v", note)
	}
}

func TestNewConnRejectsRelativeURL(t *testing.T) {
	if _, err := NewConn(ConnConfig{BaseURL: "/api"}); err == nil {
		t.Fatalf("expected error for relative base url")
	}
	if _, err := NewConn(ConnConfig{}); err == nil {
		t.Fatalf("expected error for missing base url")
	}
}

func TestDescribeDistinguishesLocalValidation(t *testing.T) {
	local := NewLocalValidationError(errors.New("title is required"))
	remote := &ValidationError{Message: "title is required"}
	if Describe(local) == Describe(remote) {
		t.Fatalf("expected local and server validation to read differently")
	}
	if !errors.Is(local, ErrValidation) || !errors.Is(remote, ErrValidation) {
		t.Fatalf("expected both to match ErrValidation")
	}
}
