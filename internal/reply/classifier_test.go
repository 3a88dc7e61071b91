package reply

import (
	"net/textproto"
	"testing"
)

func TestIsAutomated_HeaderSignals(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		value  string
		want   bool
	}{
		{"auto-submitted auto-replied", "Auto-Submitted", "auto-replied", true},
		{"auto-submitted auto-generated", "Auto-Submitted", "auto-generated", true},
		{"auto-submitted no", "Auto-Submitted", "no", false},
		{"x-autorespond yes", "X-Autorespond", "yes", true},
		{"x-autoreply yes", "X-Autoreply", "YES", true},
		{"precedence bulk", "Precedence", "bulk", true},
		{"precedence auto_reply", "Precedence", "auto_reply", true},
		{"precedence list", "Precedence", "list", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := textproto.MIMEHeader{}
			h.Set(tt.key, tt.value)
			if got := IsAutomated(h, "Re: hello", "thanks, talk soon"); got != tt.want {
				t.Errorf("IsAutomated() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsAutomated_ContentPatterns(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		body    string
		want    bool
	}{
		{"plain human reply", "Re: Application", "Thanks for following up, let's schedule a call.", false},
		{"out of office subject", "Out of Office: Re: Application", "back Monday", true},
		{"automatic reply subject", "Automatic Reply: Application", "", true},
		{"vacation body", "Re: Application", "I am currently on vacation until June 3.", true},
		{"french absence", "Absent du bureau", "", true},
		{"french accented", "Réponse automatique", "", true},
		{"german abwesenheit", "Abwesenheitsnotiz", "", true},
		{"german automatische antwort", "Re: Bewerbung", "Automatische Antwort: Ich bin nicht im Büro.", true},
		{"case insensitive", "OUT OF OFFICE", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAutomated(textproto.MIMEHeader{}, tt.subject, tt.body); got != tt.want {
				t.Errorf("IsAutomated(%q, %q) = %v, want %v", tt.subject, tt.body, got, tt.want)
			}
		})
	}
}
