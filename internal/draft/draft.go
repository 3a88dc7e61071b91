// Package draft produces follow-up message content. Two implementations
// exist: an OpenAI-compatible chat completions client and a Liquid
// template renderer used when no drafting API key is configured.
package draft

import "context"

// Previous carries the context of the message being followed up.
type Previous struct {
	ContactName     string
	PreviousSubject string
	PreviousBody    string
}

// Options tunes how the draft relates to the previous message.
type Options struct {
	// KeepSubject reuses the previous subject (with a Re: prefix) instead
	// of drafting a new one.
	KeepSubject bool
	// PreserveThreadContext includes the previous body in the drafting
	// context so the follow-up can reference it.
	PreserveThreadContext bool
}

// Result is a drafted follow-up.
type Result struct {
	Subject  string
	BodyHTML string
}

// Drafter produces a follow-up draft from the previous message. A
// returned error leaves the source message eligible for retry.
type Drafter interface {
	Draft(ctx context.Context, prev Previous, opts Options) (*Result, error)
}
