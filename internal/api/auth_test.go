package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/openctf/ctfcore/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionCookieContract(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &Handler{cfg: &config.Config{
		Session: config.Session{Secret: "test-secret", ExpireHours: 72},
	}}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	require.NoError(t, h.setSessionCookies(c, "uid-1"))

	byName := map[string]*http.Cookie{}
	for _, ck := range w.Result().Cookies() {
		byName[ck.Name] = ck
	}

	session := byName["session"]
	require.NotNil(t, session)
	assert.True(t, session.HttpOnly)
	assert.NotEmpty(t, session.Value)

	// The CSRF token rides in the readable "token" cookie and is echoed
	// back in the X-CSRF-Token header by clients.
	token := byName["token"]
	require.NotNil(t, token)
	assert.False(t, token.HttpOnly)
	assert.NotEmpty(t, token.Value)
	assert.NotEqual(t, session.Value, token.Value)
}
