package reply

import (
	"regexp"
	"strings"
)

// Parsed is a reply body split from its quoted history.
type Parsed struct {
	Headers string // leading mobile-signature and blank-line noise
	Reply   string // the text the human actually wrote
	History string // quoted prior conversation
}

var (
	onWroteRe   = regexp.MustCompile(`(?i)^on .+ wrote:\s*$`)
	quoteHdrRe  = regexp.MustCompile(`(?i)^(from|sent|to|subject):\s`)
	origMsgRe   = regexp.MustCompile(`(?i)^-+\s*original message\s*-+`)
	separatorRe = regexp.MustCompile(`^[-_=]{8,}\s*$`)
)

// mobile client footers treated as header noise before the reply starts
var mobileSignatures = []string{
	"sent from my iphone",
	"sent from my ipad",
	"sent from my android",
	"sent from my galaxy",
	"sent from my mobile",
	"sent from mobile",
	"get outlook for ios",
	"get outlook for android",
	"sent via",
}

func isHistoryMarker(line string) bool {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, ">") {
		return true
	}
	return onWroteRe.MatchString(trimmed) ||
		quoteHdrRe.MatchString(trimmed) ||
		origMsgRe.MatchString(trimmed) ||
		separatorRe.MatchString(trimmed)
}

func isMobileSignature(line string) bool {
	lower := strings.ToLower(strings.TrimSpace(line))
	for _, sig := range mobileSignatures {
		if strings.HasPrefix(lower, sig) {
			return true
		}
	}
	return false
}

// Parse splits a raw reply body by scanning lines. A history marker
// switches permanently into history mode. Before the first substantive
// line, blank lines and mobile footers collect as header noise.
func Parse(raw string) Parsed {
	var headers, reply, history []string
	inHistory := false
	replyStarted := false

	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		switch {
		case inHistory:
			history = append(history, line)
		case isHistoryMarker(line):
			inHistory = true
			history = append(history, line)
		case !replyStarted && (strings.TrimSpace(line) == "" || isMobileSignature(line)):
			headers = append(headers, line)
		default:
			replyStarted = true
			reply = append(reply, line)
		}
	}

	return Parsed{
		Headers: strings.TrimSpace(strings.Join(headers, "\n")),
		Reply:   strings.TrimSpace(strings.Join(reply, "\n")),
		History: strings.TrimSpace(strings.Join(history, "\n")),
	}
}
