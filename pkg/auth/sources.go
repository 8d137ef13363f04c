package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	dispatcherrors "github.com/ajitpratap0/agent-dispatch-go/pkg/errors"
)

// StaticTokenSource returns the same token every time. A positive TTL gives each returned
// credential an expiry so the Coordinator re-issues it periodically.
type StaticTokenSource struct {
	Value string
	TTL   time.Duration
}

// Token returns a credential for the static value
func (s StaticTokenSource) Token(ctx context.Context) (*Credential, error) {
	if s.Value == "" {
		return nil, fmt.Errorf("static token source: empty token")
	}
	now := time.Now()
	cred := &Credential{Value: s.Value, IssuedAt: now}
	if s.TTL > 0 {
		cred.ExpiresAt = now.Add(s.TTL)
	}
	return cred, nil
}

// JWTTokenSource reads a signed JWT, for example a projected service-account token, and derives
// the credential lifetime from its iat and exp claims.
type JWTTokenSource struct {
	// Fetch returns the serialized token
	Fetch func(ctx context.Context) ([]byte, error)
	// Key verifies the signature when set; otherwise the token is only decoded
	Key       interface{}
	Algorithm jwa.SignatureAlgorithm
}

// NewFileJWTSource reads the token from path on every refresh
func NewFileJWTSource(path string) *JWTTokenSource {
	return &JWTTokenSource{
		Fetch: func(ctx context.Context) ([]byte, error) {
			return os.ReadFile(path)
		},
	}
}

// Token fetches and parses the JWT
func (s *JWTTokenSource) Token(ctx context.Context) (*Credential, error) {
	raw, err := s.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch jwt: %w", err)
	}
	raw = bytes.TrimSpace(raw)

	opts := []jwt.ParseOption{jwt.WithVerify(false)}
	if s.Key != nil {
		alg := s.Algorithm
		if alg == "" {
			alg = jwa.RS256
		}
		opts = []jwt.ParseOption{jwt.WithKey(alg, s.Key)}
	}

	tok, err := jwt.Parse(raw, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse jwt: %w", err)
	}

	issued := tok.IssuedAt()
	if issued.IsZero() {
		issued = time.Now()
	}
	return &Credential{
		Value:     string(raw),
		TokenType: "Bearer",
		IssuedAt:  issued,
		ExpiresAt: tok.Expiration(),
	}, nil
}

// EndpointTokenSource obtains credentials from an HTTP token endpoint. The first call uses the
// client credentials grant; later calls use the refresh token when the endpoint issued one.
type EndpointTokenSource struct {
	URL          string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Client       *http.Client

	mu           sync.Mutex
	refreshToken string
}

// NewEndpointTokenSource creates an EndpointTokenSource with a default HTTP client
func NewEndpointTokenSource(url, clientID, clientSecret string) *EndpointTokenSource {
	return &EndpointTokenSource{
		URL:          url,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Client:       &http.Client{Timeout: 30 * time.Second},
	}
}

// Token performs one token request
func (s *EndpointTokenSource) Token(ctx context.Context) (*Credential, error) {
	s.mu.Lock()
	refresh := s.refreshToken
	s.mu.Unlock()

	req := AuthRequest{
		Type: "client_credentials",
		Credentials: map[string]interface{}{
			"clientId":     s.ClientID,
			"clientSecret": s.ClientSecret,
		},
		Scopes: s.Scopes,
	}
	if refresh != "" {
		req.Type = "refresh_token"
		req.Credentials = map[string]interface{}{
			"clientId":     s.ClientID,
			"refreshToken": refresh,
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("token endpoint: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("token endpoint: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if refresh != "" {
			// the refresh token was refused; fall back to client credentials next time
			s.mu.Lock()
			if s.refreshToken == refresh {
				s.refreshToken = ""
			}
			s.mu.Unlock()
		}
		return nil, dispatcherrors.NewErrorf(dispatcherrors.CodeAuthFailure, dispatcherrors.CategoryAuth,
			dispatcherrors.SeverityError, "token endpoint refused credentials: %s", strings.TrimSpace(string(data)))
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("token endpoint: unexpected status %d", resp.StatusCode)
	}

	var result AuthResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("token endpoint: decode response: %w", err)
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint: response carried no access token")
	}

	s.mu.Lock()
	if result.RefreshToken != "" {
		s.refreshToken = result.RefreshToken
	}
	s.mu.Unlock()

	return result.Credential(time.Now()), nil
}
