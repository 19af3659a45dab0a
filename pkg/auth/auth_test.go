package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climatepath/pendo/pkg/config"
)

type testKeys struct {
	private jwk.Key
	public  jwk.Set
}

func newTestKeys(t *testing.T) *testKeys {
	t.Helper()
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	private, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, private.Set(jwk.KeyIDKey, "test-key"))
	require.NoError(t, private.Set(jwk.AlgorithmKey, jwa.RS256))

	public, err := private.PublicKey()
	require.NoError(t, err)
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(public))

	return &testKeys{private: private, public: set}
}

func (k *testKeys) sign(t *testing.T, mutate func(b *jwt.Builder)) string {
	t.Helper()
	b := jwt.NewBuilder().
		Subject("user-1").
		Issuer("https://issuer.example").
		Audience([]string{"authenticated"}).
		IssuedAt(time.Now().Add(-time.Minute)).
		Expiration(time.Now().Add(time.Hour)).
		Claim("email", "user@example.org").
		Claim("user_type", "job_seeker").
		Claim("permissions", []string{"chat"})
	if mutate != nil {
		mutate(b)
	}
	tok, err := b.Build()
	require.NoError(t, err)

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, k.private))
	require.NoError(t, err)
	return string(signed)
}

func TestValidateExtractsPrincipal(t *testing.T) {
	keys := newTestKeys(t)
	v := NewStaticValidator(keys.public, "https://issuer.example", "authenticated")

	p, err := v.Validate(context.Background(), keys.sign(t, nil))
	require.NoError(t, err)

	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, "user@example.org", p.Email)
	assert.Equal(t, "job_seeker", p.UserType)
	assert.Equal(t, []string{"chat"}, p.Permissions)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	keys := newTestKeys(t)
	v := NewStaticValidator(keys.public, "https://issuer.example", "authenticated")

	token := keys.sign(t, func(b *jwt.Builder) {
		b.Expiration(time.Now().Add(-time.Hour))
	})
	_, err := v.Validate(context.Background(), token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestValidateRejectsWrongAudience(t *testing.T) {
	keys := newTestKeys(t)
	v := NewStaticValidator(keys.public, "https://issuer.example", "authenticated")

	token := keys.sign(t, func(b *jwt.Builder) {
		b.Audience([]string{"somewhere-else"})
	})
	_, err := v.Validate(context.Background(), token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestValidateRejectsForeignSignature(t *testing.T) {
	keys := newTestKeys(t)
	other := newTestKeys(t)
	v := NewStaticValidator(keys.public, "https://issuer.example", "authenticated")

	_, err := v.Validate(context.Background(), other.sign(t, nil))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestMiddlewareInjectsPrincipal(t *testing.T) {
	keys := newTestKeys(t)
	v := NewStaticValidator(keys.public, "https://issuer.example", "authenticated")

	var got *Principal
	handler := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/chat/history", nil)
	req.Header.Set("Authorization", "Bearer "+keys.sign(t, nil))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.UserID)
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	keys := newTestKeys(t)
	v := NewStaticValidator(keys.public, "", "")

	handler := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDisabledModeIsAnonymous(t *testing.T) {
	v, err := NewValidator(context.Background(), &config.AuthConfig{Disabled: true})
	require.NoError(t, err)
	assert.True(t, v.Disabled())

	p, err := v.Validate(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "anonymous", p.UserID)

	var got *Principal
	handler := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotNil(t, got)
	assert.Equal(t, "anonymous", got.UserType)
}

func TestNewValidatorRequiresJWKSURL(t *testing.T) {
	_, err := NewValidator(context.Background(), &config.AuthConfig{})
	assert.Error(t, err)
}
