package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func contextWithToken(t *testing.T, tokenStr, secret string) echo.Context {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	assert.NoError(t, err)
	c.Set("user", token)
	return c
}

func TestGenerateToken_RoundTrip(t *testing.T) {
	secret := "test-secret"
	tenantID := uuid.New()

	tokenStr, expiresAt, err := GenerateToken(tenantID, "user-1", secret, time.Hour)
	assert.NoError(t, err)
	assert.NotEmpty(t, tokenStr)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	c := contextWithToken(t, tokenStr, secret)

	gotTenant, err := TenantIDFromContext(c)
	assert.NoError(t, err)
	assert.Equal(t, tenantID, gotTenant)

	gotUser, err := UserIDFromContext(c)
	assert.NoError(t, err)
	assert.Equal(t, "user-1", gotUser)
}

func TestGenerateToken_Validation(t *testing.T) {
	_, _, err := GenerateToken(uuid.Nil, "user-1", "secret", time.Hour)
	assert.Error(t, err)

	_, _, err = GenerateToken(uuid.New(), "user-1", "", time.Hour)
	assert.Error(t, err)

	_, _, err = GenerateToken(uuid.New(), "user-1", "secret", 0)
	assert.Error(t, err)
}

func TestTenantIDFromContext_MissingToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	_, err := TenantIDFromContext(c)
	assert.Error(t, err)

	httpErr, ok := err.(*echo.HTTPError)
	assert.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestTenantIDFromContext_BadTenantClaim(t *testing.T) {
	secret := "test-secret"
	claims := jwt.MapClaims{
		"tenant_id": "not-a-uuid",
		"exp":       time.Now().Add(time.Hour).Unix(),
	}
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	assert.NoError(t, err)

	c := contextWithToken(t, tokenStr, secret)
	_, err = TenantIDFromContext(c)
	assert.Error(t, err)
}
