package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dispatcherrors "github.com/ajitpratap0/agent-dispatch-go/pkg/errors"
)

func signedToken(t *testing.T, key *rsa.PrivateKey, issued, expires time.Time) []byte {
	t.Helper()
	token := jwt.New()
	require.NoError(t, token.Set(jwt.SubjectKey, "agent-dispatch"))
	require.NoError(t, token.Set(jwt.IssuedAtKey, issued))
	require.NoError(t, token.Set(jwt.ExpirationKey, expires))

	jwkKey, err := jwk.FromRaw(key)
	require.NoError(t, err)
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, jwkKey))
	require.NoError(t, err)
	return signed
}

func TestStaticTokenSource(t *testing.T) {
	cred, err := StaticTokenSource{Value: "k", TTL: time.Minute}.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "k", cred.Value)
	assert.WithinDuration(t, cred.IssuedAt.Add(time.Minute), cred.ExpiresAt, time.Millisecond)

	forever, err := StaticTokenSource{Value: "k"}.Token(context.Background())
	require.NoError(t, err)
	assert.True(t, forever.ExpiresAt.IsZero())

	_, err = StaticTokenSource{}.Token(context.Background())
	assert.Error(t, err)
}

func TestTokenSourceFunc(t *testing.T) {
	src := TokenSourceFunc(func(ctx context.Context) (*Credential, error) {
		return &Credential{Value: "fn"}, nil
	})
	cred, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fn", cred.Value)
}

func TestJWTTokenSource(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	issued := time.Now().Add(-time.Minute).Truncate(time.Second)
	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	raw := signedToken(t, key, issued, expires)

	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, append(raw, '\n'), 0o600))

	t.Run("decode only", func(t *testing.T) {
		cred, err := NewFileJWTSource(path).Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, string(raw), cred.Value)
		assert.True(t, issued.Equal(cred.IssuedAt))
		assert.True(t, expires.Equal(cred.ExpiresAt))
	})

	t.Run("verified", func(t *testing.T) {
		src := NewFileJWTSource(path)
		src.Key = &key.PublicKey
		src.Algorithm = jwa.RS256
		_, err := src.Token(context.Background())
		require.NoError(t, err)

		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		src.Key = &other.PublicKey
		_, err = src.Token(context.Background())
		assert.Error(t, err)
	})
}

func TestEndpointTokenSource(t *testing.T) {
	var calls atomic.Int32
	var grants []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req AuthRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		grants = append(grants, req.Type)

		if req.Type == "client_credentials" && req.Credentials["clientSecret"] != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(AuthResult{
			AccessToken:  "access-" + req.Type,
			RefreshToken: "refresh-1",
			ExpiresIn:    60,
			TokenType:    "Bearer",
		})
	}))
	defer server.Close()

	src := NewEndpointTokenSource(server.URL, "dispatch", "s3cret")

	first, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-client_credentials", first.Value)
	assert.WithinDuration(t, first.IssuedAt.Add(time.Minute), first.ExpiresAt, time.Second)

	second, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-refresh_token", second.Value)
	assert.Equal(t, []string{"client_credentials", "refresh_token"}, grants)

	bad := NewEndpointTokenSource(server.URL, "dispatch", "wrong")
	_, err = bad.Token(context.Background())
	require.Error(t, err)
	assert.Equal(t, dispatcherrors.FailureAuth, dispatcherrors.Classify(err))
}

func TestAuthResultCredential(t *testing.T) {
	issued := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cred := (&AuthResult{AccessToken: "a", ExpiresIn: 120, IssuedAt: issued}).Credential(time.Now())
	assert.Equal(t, issued.Add(2*time.Minute), cred.ExpiresAt)

	now := time.Now()
	noExpiry := (&AuthResult{AccessToken: "a"}).Credential(now)
	assert.Equal(t, now, noExpiry.IssuedAt)
	assert.True(t, noExpiry.ExpiresAt.IsZero())
}
