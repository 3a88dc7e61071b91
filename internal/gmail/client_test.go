package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/touchbase/followup/internal/mailer"
)

func setupCreds(t *testing.T) (*CredentialStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return NewCredentialStore(db, "client-id", "client-secret"), mock, func() { db.Close() }
}

func expectCredentialRow(mock sqlmock.Sqlmock) {
	// A token expiring far in the future is served from cache, so no
	// refresh round trip happens during the test.
	mock.ExpectQuery("FROM oauth_credentials").
		WillReturnRows(sqlmock.NewRows([]string{
			"email", "access_token", "refresh_token", "expiry", "is_valid", "last_error", "updated_at",
		}).AddRow("owner@myapp.com", "tok-abc", "refresh-xyz",
			time.Now().Add(time.Hour), true, nil, time.Now()))
}

func TestSend_PostsRawMessage(t *testing.T) {
	creds, mock, cleanup := setupCreds(t)
	defer cleanup()
	expectCredentialRow(mock)

	var got sendBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gmail/v1/users/me/messages/send" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok-abc" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(sendResponse{ID: "gm-1", ThreadID: "th-9"})
	}))
	defer srv.Close()

	ownerID := uuid.New()
	c := NewClient(creds, srv.URL, ownerID, srv.Client())

	res, err := c.Send(context.Background(), mailer.SendRequest{
		UserID:    ownerID,
		To:        "jane@co.com",
		Subject:   "Re: Application",
		HTML:      "<p>hi</p>",
		ThreadID:  "th-9",
		InReplyTo: "prev@mail",
	})
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if res.MessageID != "gm-1" || res.ThreadID != "th-9" {
		t.Errorf("result = %+v", res)
	}
	if got.ThreadID != "th-9" {
		t.Errorf("threadId = %q, want th-9", got.ThreadID)
	}

	raw, err := base64.URLEncoding.DecodeString(got.Raw)
	if err != nil {
		t.Fatalf("raw not base64url: %v", err)
	}
	for _, want := range []string{
		"From: owner@myapp.com\r\n",
		"To: jane@co.com\r\n",
		"In-Reply-To: <prev@mail>\r\n",
		"<p>hi</p>",
	} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("raw message missing %q", want)
		}
	}
}

func TestSend_UnauthorizedBecomesCredentialError(t *testing.T) {
	creds, mock, cleanup := setupCreds(t)
	defer cleanup()
	expectCredentialRow(mock)
	mock.ExpectExec("UPDATE oauth_credentials").
		WillReturnResult(sqlmock.NewResult(0, 1))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	ownerID := uuid.New()
	c := NewClient(creds, srv.URL, ownerID, srv.Client())
	_, err := c.Send(context.Background(), mailer.SendRequest{UserID: ownerID, To: "x@y.com"})
	if !mailer.IsCredentialError(err) {
		t.Errorf("error = %v, want a credential error", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("credentials were not invalidated: %v", err)
	}
}

func TestSend_NoCredentialsOnFile(t *testing.T) {
	creds, mock, cleanup := setupCreds(t)
	defer cleanup()
	mock.ExpectQuery("FROM oauth_credentials").
		WillReturnRows(sqlmock.NewRows([]string{
			"email", "access_token", "refresh_token", "expiry", "is_valid", "last_error", "updated_at",
		}))

	c := NewClient(creds, "http://unused", uuid.New(), nil)
	_, err := c.Send(context.Background(), mailer.SendRequest{UserID: uuid.New(), To: "x@y.com"})
	if !mailer.IsCredentialError(err) {
		t.Errorf("error = %v, want ErrNoCredentials classified as credential", err)
	}
}

func TestGet_ParsesFullMessage(t *testing.T) {
	creds, mock, cleanup := setupCreds(t)
	defer cleanup()
	expectCredentialRow(mock)

	bodyText := "Thanks, happy to chat.\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/gmail/v1/users/me/messages/gm-7") {
			t.Errorf("path = %s", r.URL.Path)
		}
		resp := map[string]any{
			"id":           "gm-7",
			"threadId":     "th-3",
			"internalDate": "1750000000000",
			"payload": map[string]any{
				"mimeType": "multipart/alternative",
				"headers": []map[string]string{
					{"name": "From", "value": "Jane Doe <jane@co.com>"},
					{"name": "Subject", "value": "Re: Application"},
					{"name": "Auto-Submitted", "value": "no"},
				},
				"parts": []map[string]any{
					{
						"mimeType": "text/plain",
						"body":     map[string]string{"data": base64.URLEncoding.EncodeToString([]byte(bodyText))},
					},
					{
						"mimeType": "text/html",
						"body":     map[string]string{"data": base64.URLEncoding.EncodeToString([]byte("<p>html</p>"))},
					},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(creds, srv.URL, uuid.New(), srv.Client())
	in, err := c.Get(context.Background(), "gm-7")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if in.ThreadID != "th-3" {
		t.Errorf("ThreadID = %q", in.ThreadID)
	}
	if in.From != "jane@co.com" {
		t.Errorf("From = %q", in.From)
	}
	if in.Subject != "Re: Application" {
		t.Errorf("Subject = %q", in.Subject)
	}
	if in.Body != bodyText {
		t.Errorf("Body = %q, want the text/plain part", in.Body)
	}
	if in.Header.Get("Auto-Submitted") != "no" {
		t.Error("headers not carried through")
	}
	if in.InternalDate.IsZero() {
		t.Error("InternalDate not parsed")
	}
}

func TestExtractAddress(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Jane Doe <Jane@Co.com>", "jane@co.com"},
		{"jane@co.com", "jane@co.com"},
		{"  JANE@CO.COM  ", "jane@co.com"},
		{`"Doe, Jane" <jane@co.com>`, "jane@co.com"},
	}
	for _, tt := range tests {
		if got := extractAddress(tt.in); got != tt.want {
			t.Errorf("extractAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
