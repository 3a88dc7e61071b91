package logger

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestRedactEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"jane.doe@example.com", "ja***@example.com"},
		{"ab@example.com", "***@example.com"},
		{"x@example.com", "***@example.com"},
		{"not-an-email", "***@***"},
		{"a@b@c", "***@***"},
	}
	for _, tt := range tests {
		if got := RedactEmail(tt.in); got != tt.want {
			t.Errorf("RedactEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoggerRedactsEmailFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, INFO)

	l.Info("sent", "contact_email", "jane.doe@example.com", "message_id", "m-1")

	var entry map[string]string
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["contact_email"] != "ja***@example.com" {
		t.Errorf("contact_email = %q, want redacted", entry["contact_email"])
	}
	if entry["message_id"] != "m-1" {
		t.Errorf("message_id = %q", entry["message_id"])
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, WARN)

	l.Debug("hidden")
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected no output below WARN, got %q", buf.String())
	}

	l.Warn("visible")
	if buf.Len() == 0 {
		t.Error("expected WARN entry to be written")
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != DEBUG {
		t.Error("debug")
	}
	if ParseLevel("WARNING") != WARN {
		t.Error("warning")
	}
	if ParseLevel("bogus") != INFO {
		t.Error("fallback")
	}
}
