package draft

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIDrafter_ParsesDraftPayload(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 2 {
			t.Errorf("got %d messages, want system + user", len(req.Messages))
		}

		content, _ := json.Marshal(draftPayload{
			Subject:  "Checking in on my application",
			BodyHTML: "<p>Just checking in.</p>",
		})
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": string(content)}},
			},
		})
	}))
	defer srv.Close()

	d := NewOpenAIDrafter("test-key", srv.URL, "gpt-4o-mini", srv.Client())
	res, err := d.Draft(context.Background(), Previous{
		ContactName:     "Jane Doe",
		PreviousSubject: "Application for SRE",
		PreviousBody:    "<p>original</p>",
	}, Options{PreserveThreadContext: true})
	if err != nil {
		t.Fatalf("Draft() error: %v", err)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if res.Subject != "Checking in on my application" {
		t.Errorf("Subject = %q", res.Subject)
	}
	if res.BodyHTML != "<p>Just checking in.</p>" {
		t.Errorf("BodyHTML = %q", res.BodyHTML)
	}
}

func TestOpenAIDrafter_KeepSubjectOverridesModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content, _ := json.Marshal(draftPayload{Subject: "Something new", BodyHTML: "<p>hi</p>"})
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": string(content)}},
			},
		})
	}))
	defer srv.Close()

	d := NewOpenAIDrafter("k", srv.URL, "", srv.Client())
	res, err := d.Draft(context.Background(), Previous{PreviousSubject: "Application for SRE"}, Options{KeepSubject: true})
	if err != nil {
		t.Fatalf("Draft() error: %v", err)
	}
	if res.Subject != "Re: Application for SRE" {
		t.Errorf("Subject = %q, want the previous subject kept", res.Subject)
	}
}

func TestOpenAIDrafter_APIErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "rate limited", "type": "rate_limit"},
		})
	}))
	defer srv.Close()

	d := NewOpenAIDrafter("k", srv.URL, "", srv.Client())
	_, err := d.Draft(context.Background(), Previous{}, Options{})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("error = %v, want the API error surfaced", err)
	}
}

func TestOpenAIDrafter_MissingKey(t *testing.T) {
	d := NewOpenAIDrafter("", "https://api.openai.com/v1", "", nil)
	if _, err := d.Draft(context.Background(), Previous{}, Options{}); err == nil {
		t.Error("Draft() without an API key should fail")
	}
}

func TestTemplateDrafter_Defaults(t *testing.T) {
	d := NewTemplateDrafter("")

	res, err := d.Draft(context.Background(), Previous{
		ContactName:     "Jane",
		PreviousSubject: "Application for SRE",
	}, Options{})
	if err != nil {
		t.Fatalf("Draft() error: %v", err)
	}
	if !strings.Contains(res.BodyHTML, "Hi Jane,") {
		t.Errorf("body missing greeting: %q", res.BodyHTML)
	}
	if !strings.Contains(res.BodyHTML, `"Application for SRE"`) {
		t.Errorf("body missing previous subject: %q", res.BodyHTML)
	}
	if res.Subject != "Re: Application for SRE" {
		t.Errorf("Subject = %q", res.Subject)
	}
}

func TestTemplateDrafter_EmptyNameFallsBack(t *testing.T) {
	d := NewTemplateDrafter("")
	res, err := d.Draft(context.Background(), Previous{PreviousSubject: "Hello"}, Options{})
	if err != nil {
		t.Fatalf("Draft() error: %v", err)
	}
	if !strings.Contains(res.BodyHTML, "Hi there,") {
		t.Errorf("body = %q, want the default greeting", res.BodyHTML)
	}
}

func TestReSubject(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Application for SRE", "Re: Application for SRE"},
		{"Re: Application for SRE", "Re: Application for SRE"},
		{"re: hello", "re: hello"},
		{"", "Following up"},
	}
	for _, tt := range tests {
		if got := reSubject(tt.in); got != tt.want {
			t.Errorf("reSubject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
