// Package auth provides the credential material attached to outbound operations. A TokenSource
// obtains credentials; a Coordinator shares one credential across every transport of a dispatcher
// and makes sure at most one refresh is in flight at a time.
package auth

import (
	"context"
	"time"
)

// Credential is one access credential. Values are never mutated after creation; a refresh
// produces a new Credential.
type Credential struct {
	// Value is the opaque token presented to the remote
	Value string `json:"value"`
	// TokenType is the authorization scheme, "Bearer" when empty
	TokenType string    `json:"token_type,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	// ExpiresAt is zero for credentials that never expire
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the credential is past its expiry at now
func (c *Credential) Expired(now time.Time) bool {
	return c != nil && !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ExpiringWithin reports whether the credential expires within skew of now
func (c *Credential) ExpiringWithin(skew time.Duration, now time.Time) bool {
	return c != nil && !c.ExpiresAt.IsZero() && !now.Add(skew).Before(c.ExpiresAt)
}

// Header returns the Authorization header value
func (c *Credential) Header() string {
	if c == nil {
		return ""
	}
	scheme := c.TokenType
	if scheme == "" {
		scheme = "Bearer"
	}
	return scheme + " " + c.Value
}

// TokenSource obtains a fresh credential. Implementations perform the network call the
// Coordinator deduplicates.
type TokenSource interface {
	Token(ctx context.Context) (*Credential, error)
}

// TokenSourceFunc adapts a function to TokenSource
type TokenSourceFunc func(ctx context.Context) (*Credential, error)

// Token calls f
func (f TokenSourceFunc) Token(ctx context.Context) (*Credential, error) {
	return f(ctx)
}

// AuthRequest is the body posted to a token endpoint
type AuthRequest struct {
	// Type is the grant type: "client_credentials" or "refresh_token"
	Type string `json:"type"`

	// Credentials holds clientId/clientSecret or refreshToken depending on Type
	Credentials map[string]interface{} `json:"credentials"`

	// Scopes requested for the credential
	Scopes []string `json:"scopes,omitempty"`
}

// AuthResult is the token endpoint response
type AuthResult struct {
	// AccessToken is the token to be used for authenticated requests
	AccessToken string `json:"accessToken"`

	// RefreshToken is used to obtain new access tokens (optional)
	RefreshToken string `json:"refreshToken,omitempty"`

	// ExpiresIn indicates the access token lifetime in seconds
	ExpiresIn int64 `json:"expiresIn"`

	// TokenType describes the token type (e.g., "Bearer")
	TokenType string `json:"tokenType"`

	// IssuedAt timestamp for token issuance
	IssuedAt time.Time `json:"issuedAt"`
}

// Credential converts the result. A missing IssuedAt is taken as now.
func (r *AuthResult) Credential(now time.Time) *Credential {
	issued := r.IssuedAt
	if issued.IsZero() {
		issued = now
	}
	cred := &Credential{Value: r.AccessToken, TokenType: r.TokenType, IssuedAt: issued}
	if r.ExpiresIn > 0 {
		cred.ExpiresAt = issued.Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return cred
}

type credentialKey struct{}

// ContextWithCredential attaches the credential an adapter must present for one attempt
func ContextWithCredential(ctx context.Context, cred *Credential) context.Context {
	return context.WithValue(ctx, credentialKey{}, cred)
}

// CredentialFromContext returns the credential attached by ContextWithCredential, or nil
func CredentialFromContext(ctx context.Context) *Credential {
	cred, _ := ctx.Value(credentialKey{}).(*Credential)
	return cred
}
