package reply

import (
	"net/textproto"
	"strings"
)

// automatedPatterns are case-insensitive substrings that mark a reply
// as machine generated when header signals are absent. English, French,
// and German variants.
var automatedPatterns = []string{
	// English
	"out of office",
	"out-of-office",
	"auto-reply",
	"autoreply",
	"automatic reply",
	"automated response",
	"away from the office",
	"on vacation",
	"on annual leave",
	"currently unavailable",
	"do not reply to this email",
	"this is an automated",
	// French
	"absent du bureau",
	"absente du bureau",
	"réponse automatique",
	"reponse automatique",
	"en congé",
	"en conge",
	// German
	"abwesenheitsnotiz",
	"automatische antwort",
	"bin außer haus",
	"bin ausser haus",
	"nicht im büro",
	"nicht im buero",
}

// IsAutomated classifies a reply as machine generated. Header signals
// win; the substring patterns over subject and body are the fallback.
func IsAutomated(header textproto.MIMEHeader, subject, body string) bool {
	if v := header.Get("Auto-Submitted"); v != "" && !strings.EqualFold(v, "no") {
		return true
	}
	if strings.EqualFold(header.Get("X-Autorespond"), "yes") {
		return true
	}
	if strings.EqualFold(header.Get("X-Autoreply"), "yes") {
		return true
	}
	switch strings.ToLower(header.Get("Precedence")) {
	case "bulk", "auto_reply":
		return true
	}

	haystack := strings.ToLower(subject + "\n" + body)
	for _, p := range automatedPatterns {
		if strings.Contains(haystack, p) {
			return true
		}
	}
	return false
}
