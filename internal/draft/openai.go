package draft

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/touchbase/followup/internal/pkg/httpretry"
)

// OpenAIDrafter drafts follow-ups through an OpenAI-compatible chat
// completions endpoint.
type OpenAIDrafter struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient httpretry.HTTPDoer
}

// NewOpenAIDrafter creates a drafter against baseURL (e.g.
// https://api.openai.com/v1). A nil client gets a retrying default.
func NewOpenAIDrafter(apiKey, baseURL, model string, client httpretry.HTTPDoer) *OpenAIDrafter {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if client == nil {
		client = httpretry.New(nil, 3)
	}
	return &OpenAIDrafter{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: client,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// draftPayload is the JSON object the model is instructed to return.
type draftPayload struct {
	Subject  string `json:"subject"`
	BodyHTML string `json:"bodyHtml"`
}

const draftSystemPrompt = `You write short, polite follow-up emails for job applications.
Respond with a JSON object {"subject": "...", "bodyHtml": "..."}. The body is HTML.
Keep the tone professional and brief. Never invent facts about the recipient.`

// Draft requests a follow-up from the completions endpoint and parses
// the JSON payload out of the first choice.
func (d *OpenAIDrafter) Draft(ctx context.Context, prev Previous, opts Options) (*Result, error) {
	if d.apiKey == "" {
		return nil, fmt.Errorf("drafting API key not configured")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Write a follow-up to %s.\n", displayName(prev.ContactName))
	fmt.Fprintf(&sb, "Previous subject: %s\n", prev.PreviousSubject)
	if opts.PreserveThreadContext {
		fmt.Fprintf(&sb, "Previous message body:\n%s\n", prev.PreviousBody)
	}
	if opts.KeepSubject {
		sb.WriteString("Reuse the previous subject unchanged.\n")
	} else {
		sb.WriteString("Write a fresh subject line.\n")
	}

	reqBody := chatRequest{
		Model: d.model,
		Messages: []chatMessage{
			{Role: "system", Content: draftSystemPrompt},
			{Role: "user", Content: sb.String()},
		},
		Temperature:    0.7,
		MaxTokens:      1000,
		ResponseFormat: map[string]string{"type": "json_object"},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", d.baseURL+"/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("drafting request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("drafting API status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("parse drafting response: %w", err)
	}
	if cr.Error != nil {
		return nil, fmt.Errorf("drafting API error: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("drafting API returned no choices")
	}

	var payload draftPayload
	if err := json.Unmarshal([]byte(cr.Choices[0].Message.Content), &payload); err != nil {
		return nil, fmt.Errorf("parse draft payload: %w", err)
	}
	if payload.BodyHTML == "" {
		return nil, fmt.Errorf("drafting API returned an empty body")
	}

	subject := payload.Subject
	if opts.KeepSubject {
		subject = reSubject(prev.PreviousSubject)
	}
	if subject == "" {
		subject = reSubject(prev.PreviousSubject)
	}
	return &Result{Subject: subject, BodyHTML: payload.BodyHTML}, nil
}

func displayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "the recipient"
	}
	return name
}

// reSubject prefixes Re: unless the subject already carries one.
func reSubject(subject string) string {
	trimmed := strings.TrimSpace(subject)
	if trimmed == "" {
		return "Following up"
	}
	if strings.HasPrefix(strings.ToLower(trimmed), "re:") {
		return trimmed
	}
	return "Re: " + trimmed
}
