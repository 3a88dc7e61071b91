// Package gmail implements the Gmail REST collaborators: sending via
// users.messages/send, inbound listing for the reply poller, and the
// credential store over the oauth_credentials table.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/touchbase/followup/internal/mailer"
	"github.com/touchbase/followup/internal/pkg/httpretry"
	"github.com/touchbase/followup/internal/pkg/logger"
	"github.com/touchbase/followup/internal/reply"
)

// Client talks to the Gmail REST API. It implements both the outbound
// send contract (mailer.Client) and the inbound source contract
// (reply.InboundSource). Inbound operations read the mailbox of the
// owner the client was constructed for.
type Client struct {
	creds      *CredentialStore
	baseURL    string
	httpClient httpretry.HTTPDoer
	ownerID    uuid.UUID
	log        *logger.Logger
}

// NewClient creates a Gmail client. baseURL defaults to the public API
// host; tests point it at a local server.
func NewClient(creds *CredentialStore, baseURL string, ownerID uuid.UUID, httpClient httpretry.HTTPDoer) *Client {
	if baseURL == "" {
		baseURL = "https://gmail.googleapis.com"
	}
	if httpClient == nil {
		httpClient = httpretry.New(nil, 3)
	}
	return &Client{
		creds:      creds,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		ownerID:    ownerID,
		log:        logger.With("gmail"),
	}
}

type sendBody struct {
	Raw      string `json:"raw"`
	ThreadID string `json:"threadId,omitempty"`
}

type sendResponse struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

// Send posts a raw RFC822 message through users.messages/send. Setting
// threadId keeps follow-ups in the original conversation.
func (c *Client) Send(ctx context.Context, req mailer.SendRequest) (*mailer.SendResult, error) {
	cred, err := c.creds.Get(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	raw := mailer.BuildRawMessage(cred.Email, req)
	payload, err := json.Marshal(sendBody{
		Raw:      base64.URLEncoding.EncodeToString([]byte(raw)),
		ThreadID: req.ThreadID,
	})
	if err != nil {
		return nil, err
	}

	var out sendResponse
	err = c.call(ctx, req.UserID, "POST", "/gmail/v1/users/me/messages/send", payload, &out)
	if err != nil {
		return nil, err
	}

	c.log.Info("message sent via gmail",
		"recipient_email", req.To, "provider_id", out.ID)
	return &mailer.SendResult{MessageID: out.ID, ThreadID: out.ThreadID}, nil
}

type listResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// ListRecent returns refs for recent inbound mail, newest first.
func (c *Client) ListRecent(ctx context.Context) ([]reply.Ref, error) {
	q := url.Values{}
	q.Set("maxResults", "50")
	q.Set("q", "in:inbox newer_than:2d")

	var out listResponse
	err := c.call(ctx, c.ownerID, "GET", "/gmail/v1/users/me/messages?"+q.Encode(), nil, &out)
	if err != nil {
		return nil, err
	}
	refs := make([]reply.Ref, 0, len(out.Messages))
	for _, m := range out.Messages {
		refs = append(refs, reply.Ref{ID: m.ID})
	}
	return refs, nil
}

type gmailMessage struct {
	ID           string `json:"id"`
	ThreadID     string `json:"threadId"`
	InternalDate string `json:"internalDate"` // epoch millis
	Payload      struct {
		MimeType string        `json:"mimeType"`
		Headers  []gmailHeader `json:"headers"`
		Body     gmailBody     `json:"body"`
		Parts    []gmailPart   `json:"parts"`
	} `json:"payload"`
}

type gmailHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type gmailBody struct {
	Data string `json:"data"`
}

type gmailPart struct {
	MimeType string      `json:"mimeType"`
	Body     gmailBody   `json:"body"`
	Parts    []gmailPart `json:"parts"`
}

// Get fetches one message in full form and flattens it into the
// provider-neutral shape the correlator consumes.
func (c *Client) Get(ctx context.Context, id string) (*reply.InboundMessage, error) {
	var msg gmailMessage
	err := c.call(ctx, c.ownerID, "GET", "/gmail/v1/users/me/messages/"+url.PathEscape(id)+"?format=full", nil, &msg)
	if err != nil {
		return nil, err
	}

	in := &reply.InboundMessage{
		ID:       msg.ID,
		ThreadID: msg.ThreadID,
		Header:   textproto.MIMEHeader{},
	}
	for _, h := range msg.Payload.Headers {
		in.Header.Add(h.Name, h.Value)
	}
	in.Subject = in.Header.Get("Subject")
	in.From = extractAddress(in.Header.Get("From"))
	if ms, err := strconv.ParseInt(msg.InternalDate, 10, 64); err == nil {
		in.InternalDate = time.UnixMilli(ms)
	}

	plain, html := collectBodies(msg.Payload.MimeType, msg.Payload.Body, msg.Payload.Parts)
	in.Body = plain
	if in.Body == "" {
		in.Body = html
	}
	return in, nil
}

func collectBodies(mimeType string, body gmailBody, parts []gmailPart) (plain, html string) {
	decode := func(data string) string {
		b, err := base64.URLEncoding.DecodeString(data)
		if err != nil {
			// Gmail sometimes omits padding.
			b, err = base64.RawURLEncoding.DecodeString(data)
			if err != nil {
				return ""
			}
		}
		return string(b)
	}

	if body.Data != "" {
		switch {
		case strings.HasPrefix(mimeType, "text/plain"):
			plain = decode(body.Data)
		case strings.HasPrefix(mimeType, "text/html"):
			html = decode(body.Data)
		}
	}
	for _, p := range parts {
		subPlain, subHTML := collectBodies(p.MimeType, p.Body, p.Parts)
		if plain == "" {
			plain = subPlain
		}
		if html == "" {
			html = subHTML
		}
	}
	return plain, html
}

// extractAddress pulls the bare address out of "Name <addr>" forms.
func extractAddress(from string) string {
	if start := strings.LastIndex(from, "<"); start >= 0 {
		if end := strings.Index(from[start:], ">"); end > 0 {
			return strings.ToLower(from[start+1 : start+end])
		}
	}
	return strings.ToLower(strings.TrimSpace(from))
}

// call performs an authenticated API request and decodes the response.
// 401/403 invalidate the stored grant and come back as credential
// errors; other failures stay transient.
func (c *Client) call(ctx context.Context, userID uuid.UUID, method, path string, body []byte, out any) error {
	ts, err := c.creds.TokenSource(ctx, userID)
	if err != nil {
		return err
	}
	tok, err := ts.Token()
	if err != nil {
		return err
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gmail %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		reason := fmt.Sprintf("gmail API status %d", resp.StatusCode)
		if ierr := c.creds.Invalidate(ctx, userID, reason); ierr != nil {
			c.log.Error("failed to invalidate credentials", "error", ierr)
		}
		return &mailer.CredentialError{Reason: reason}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("gmail API status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse gmail response: %w", err)
	}
	return nil
}
