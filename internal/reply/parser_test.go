package reply

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantReply   string
		wantHistory string
		wantHeaders string
	}{
		{
			name:      "plain reply",
			raw:       "Thanks, let's talk Tuesday.",
			wantReply: "Thanks, let's talk Tuesday.",
		},
		{
			name:        "quoted history after on-wrote",
			raw:         "Sounds good!\n\nOn Mon, Jun 2, 2025 at 9:14 AM Alex <alex@co.com> wrote:\n> Just checking in.\n> Best",
			wantReply:   "Sounds good!",
			wantHistory: "On Mon, Jun 2, 2025 at 9:14 AM Alex <alex@co.com> wrote:\n> Just checking in.\n> Best",
		},
		{
			name:        "outlook original message block",
			raw:         "Yes, works for me.\n-----Original Message-----\nFrom: Alex\nSubject: following up",
			wantReply:   "Yes, works for me.",
			wantHistory: "-----Original Message-----\nFrom: Alex\nSubject: following up",
		},
		{
			name:        "from header switches to history",
			raw:         "Got it.\nFrom: Alex Smith\nSent: Tuesday\nTo: jane@co.com",
			wantReply:   "Got it.",
			wantHistory: "From: Alex Smith\nSent: Tuesday\nTo: jane@co.com",
		},
		{
			name:        "separator run",
			raw:         "See attached.\n________________________\nolder content",
			wantReply:   "See attached.",
			wantHistory: "________________________\nolder content",
		},
		{
			name:        "mobile signature is header noise",
			raw:         "Sent from my iPhone\n\nHappy to chat.\n",
			wantReply:   "Happy to chat.",
			wantHeaders: "Sent from my iPhone",
		},
		{
			name:        "leading blank lines are header noise",
			raw:         "\n\nInterested, call me.\n",
			wantReply:   "Interested, call me.",
			wantHeaders: "",
		},
		{
			name:        "everything quoted leaves reply empty",
			raw:         "> original line one\n> original line two",
			wantReply:   "",
			wantHistory: "> original line one\n> original line two",
		},
		{
			name:        "crlf line endings",
			raw:         "Works for me.\r\n\r\nOn Tue, Jane wrote:\r\n> ping",
			wantReply:   "Works for me.",
			wantHistory: "On Tue, Jane wrote:\n> ping",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.raw)
			if got.Reply != tt.wantReply {
				t.Errorf("Reply = %q, want %q", got.Reply, tt.wantReply)
			}
			if got.History != tt.wantHistory {
				t.Errorf("History = %q, want %q", got.History, tt.wantHistory)
			}
			if got.Headers != tt.wantHeaders {
				t.Errorf("Headers = %q, want %q", got.Headers, tt.wantHeaders)
			}
		})
	}
}
