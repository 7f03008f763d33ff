package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/config"
)

// NoOpLogger for testing
type NoOpLogger struct{}

func (l *NoOpLogger) Debug(msg string, args ...any) {}
func (l *NoOpLogger) Info(msg string, args ...any)  {}
func (l *NoOpLogger) Error(msg string, args ...any) {}

// MockKeySet satisfies oidc.KeySet to bypass signature verification
type MockKeySet struct{}

func (m *MockKeySet) VerifySignature(ctx context.Context, jwtToken string) ([]byte, error) {
	parts := strings.Split(jwtToken, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed jwt")
	}
	return base64.RawURLEncoding.DecodeString(parts[1])
}

const testIssuer = "https://test-issuer.com"

func fakeToken(t *testing.T, claims map[string]interface{}) string {
	t.Helper()
	header, err := json.Marshal(map[string]interface{}{"alg": "RS256", "typ": "JWT", "kid": "test-key"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("fakesignature"))
}

func validClaims(email string) map[string]interface{} {
	return map[string]interface{}{
		"iss":   testIssuer,
		"aud":   "test-client",
		"sub":   "test-user",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Add(-1 * time.Minute).Unix(),
		"email": email,
	}
}

func testVerifier() *oidc.IDTokenVerifier {
	return oidc.NewVerifier(testIssuer, &MockKeySet{}, &oidc.Config{
		ClientID:          "test-client",
		SkipClientIDCheck: true,
	})
}

func TestRequireAuth_BearerToken_AttachesOperator(t *testing.T) {
	a := &Auth{apiVerifier: testVerifier(), logger: &NoOpLogger{}}

	req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
	req.Header.Set("Authorization", "Bearer "+fakeToken(t, validClaims("Operator@Acme.com")))
	rec := httptest.NewRecorder()

	var operator string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operator = OperatorFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	a.RequireAuth(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Logf("Response Body: %s", rec.Body.String())
	}
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "operator@acme.com", operator)
}

func TestRequireAuth_BearerToken_Expired(t *testing.T) {
	a := &Auth{apiVerifier: testVerifier(), logger: &NoOpLogger{}}

	claims := validClaims("operator@acme.com")
	claims["exp"] = time.Now().Add(-time.Hour).Unix()

	req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
	req.Header.Set("Authorization", "Bearer "+fakeToken(t, claims))
	rec := httptest.NewRecorder()

	a.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuth_BearerToken_NoEmail(t *testing.T) {
	a := &Auth{apiVerifier: testVerifier(), logger: &NoOpLogger{}}

	claims := validClaims("")
	delete(claims, "email")

	req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
	req.Header.Set("Authorization", "Bearer "+fakeToken(t, claims))
	rec := httptest.NewRecorder()

	a.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "email")
}

func TestRequireAuth_MissingCookieRedirectsToLogin(t *testing.T) {
	a := &Auth{verifier: testVerifier(), apiVerifier: testVerifier()}

	req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
	rec := httptest.NewRecorder()

	a.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestRequireAuth_BypassMode(t *testing.T) {
	cfg := &config.Config{
		Environment:   "DEV",
		DevModeBypass: true,
	}
	a, err := New(context.Background(), cfg, &NoOpLogger{})
	require.NoError(t, err)
	assert.True(t, a.Bypassed())

	req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
	rec := httptest.NewRecorder()

	var operator string
	a.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operator = OperatorFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, DevOperator, operator)
}

func TestNew_IncompleteConfig(t *testing.T) {
	cfg := &config.Config{Environment: "PROD"}
	_, err := New(context.Background(), cfg, &NoOpLogger{})
	assert.EqualError(t, err, "auth configuration is incomplete")
}

func TestOperatorFrom_Empty(t *testing.T) {
	assert.Equal(t, "", OperatorFrom(context.Background()))
	assert.Equal(t, "a@b.c", OperatorFrom(WithOperator(context.Background(), "a@b.c")))
}
