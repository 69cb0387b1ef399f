package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"pairgo/backend/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHandler(secret string) *Handler {
	return NewHandler(&config.Config{JWTSecret: secret}, nil, nil, nil)
}

func TestJWTRoundTrip(t *testing.T) {
	h := testHandler("test-secret")

	token, err := h.generateJWT("anon-123")
	require.NoError(t, err)

	anonID, err := h.validateAndGetAnonID(token)
	require.NoError(t, err)
	assert.Equal(t, "anon-123", anonID)
}

func TestJWTWrongSecretRejected(t *testing.T) {
	token, err := testHandler("secret-one").generateJWT("anon-123")
	require.NoError(t, err)

	_, err = testHandler("secret-two").validateAndGetAnonID(token)
	assert.Error(t, err)
}

func TestJWTGarbageRejected(t *testing.T) {
	_, err := testHandler("test-secret").validateAndGetAnonID("not-a-token")
	assert.Error(t, err)
}

func TestGetAnonID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := testHandler("test-secret")

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/anonid", nil)

	h.GetAnonID(c)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Token  string `json:"token"`
		AnonID string `json:"anon_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.Token)
	require.NotEmpty(t, body.AnonID)

	// The issued token must authenticate as the id it was minted for.
	anonID, err := h.validateAndGetAnonID(body.Token)
	require.NoError(t, err)
	assert.Equal(t, body.AnonID, anonID)
}
