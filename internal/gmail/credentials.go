package gmail

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/touchbase/followup/internal/mailer"
)

// Credential is one owner's stored Gmail grant.
type Credential struct {
	UserID       uuid.UUID
	Email        string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	IsValid      bool
	LastError    string
	UpdatedAt    time.Time
}

// Status is what the send executor checks before attempting a send.
type Status struct {
	IsValid   bool
	LastError string
}

// CredentialStore persists Gmail OAuth grants per owner and hands out
// refreshing token sources.
type CredentialStore struct {
	db   *sql.DB
	conf *oauth2.Config
}

// NewCredentialStore creates a store. clientID/clientSecret come from
// the Google Cloud OAuth app.
func NewCredentialStore(db *sql.DB, clientID, clientSecret string) *CredentialStore {
	return &CredentialStore{
		db: db,
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes: []string{
				"https://www.googleapis.com/auth/gmail.send",
				"https://www.googleapis.com/auth/gmail.readonly",
			},
			Endpoint: google.Endpoint,
		},
	}
}

// Status returns the credential health for an owner, or nil when none
// is on file.
func (cs *CredentialStore) Status(ctx context.Context, userID uuid.UUID) (*Status, error) {
	var st Status
	var lastErr sql.NullString
	err := cs.db.QueryRowContext(ctx,
		`SELECT is_valid, last_error FROM oauth_credentials WHERE user_id = $1`,
		userID).Scan(&st.IsValid, &lastErr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credential status: %w", err)
	}
	st.LastError = lastErr.String
	return &st, nil
}

// Get loads an owner's credential. Returns ErrNoCredentials when absent.
func (cs *CredentialStore) Get(ctx context.Context, userID uuid.UUID) (*Credential, error) {
	c := &Credential{UserID: userID}
	var refresh, lastErr sql.NullString
	err := cs.db.QueryRowContext(ctx, `SELECT email, access_token, refresh_token, expiry,
		is_valid, last_error, updated_at FROM oauth_credentials WHERE user_id = $1`,
		userID).Scan(&c.Email, &c.AccessToken, &refresh, &c.Expiry, &c.IsValid, &lastErr, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, mailer.ErrNoCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	c.RefreshToken = refresh.String
	c.LastError = lastErr.String
	if !c.IsValid {
		return nil, mailer.ErrCredentialInvalid
	}
	return c, nil
}

// Save upserts an owner's grant, marking it valid again.
func (cs *CredentialStore) Save(ctx context.Context, userID uuid.UUID, email string, tok *oauth2.Token) error {
	_, err := cs.db.ExecContext(ctx, `INSERT INTO oauth_credentials
		(user_id, email, access_token, refresh_token, expiry, is_valid, last_error, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, TRUE, NULL, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(EXCLUDED.refresh_token, oauth_credentials.refresh_token),
			expiry = EXCLUDED.expiry,
			is_valid = TRUE, last_error = NULL, updated_at = NOW()`,
		userID, email, tok.AccessToken, tok.RefreshToken, tok.Expiry)
	return err
}

// Invalidate records that the grant stopped working. The send executor
// treats the owner's messages as terminally failed until reconnect.
func (cs *CredentialStore) Invalidate(ctx context.Context, userID uuid.UUID, reason string) error {
	_, err := cs.db.ExecContext(ctx, `UPDATE oauth_credentials
		SET is_valid = FALSE, last_error = $2, updated_at = NOW() WHERE user_id = $1`,
		userID, reason)
	return err
}

// TokenSource returns a refreshing token source for the owner. Token
// refreshes are persisted back so the stored access token stays warm.
func (cs *CredentialStore) TokenSource(ctx context.Context, userID uuid.UUID) (oauth2.TokenSource, error) {
	c, err := cs.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		Expiry:       c.Expiry,
		TokenType:    "Bearer",
	}
	inner := cs.conf.TokenSource(ctx, tok)
	return &persistingSource{inner: inner, store: cs, userID: userID, email: c.Email, last: tok}, nil
}

// persistingSource writes refreshed tokens back to the store.
type persistingSource struct {
	inner  oauth2.TokenSource
	store  *CredentialStore
	userID uuid.UUID
	email  string
	last   *oauth2.Token
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.inner.Token()
	if err != nil {
		return nil, &mailer.CredentialError{Reason: "token refresh failed", Err: err}
	}
	if tok.AccessToken != p.last.AccessToken {
		// Best effort: a failed save only costs an extra refresh later.
		_ = p.store.Save(context.Background(), p.userID, p.email, tok)
		p.last = tok
	}
	return tok, nil
}
