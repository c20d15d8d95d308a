package access

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/bazaar/internal/access"
	"github.com/Additional-Code/bazaar/internal/cache"
	"github.com/Additional-Code/bazaar/internal/config"
)

func newTestServer(t *testing.T, token string) (*echo.Echo, *access.Grants) {
	t.Helper()
	cfg := config.Config{Access: config.Access{AdminToken: token, GrantTTL: time.Hour}}
	grants, err := access.NewGrants(cache.NewMemoryStore(time.Hour), cfg, zap.NewNop())
	require.NoError(t, err)

	e := echo.New()
	Register(e, NewHandler(grants, cfg, zap.NewNop()))
	return e, grants
}

func send(e *echo.Echo, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(HeaderAdminToken, token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestGrantHandler_GrantAndRevoke(t *testing.T) {
	e, grants := newTestServer(t, "s3cret")
	id := uuid.New()

	rec := send(e, http.MethodPost, "/grants", "s3cret", `{"identity":"`+id.String()+`","ttl":"10m"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, grants.HasElevatedAccess(context.Background(), id))

	rec = send(e, http.MethodDelete, "/grants/"+id.String(), "s3cret", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, grants.HasElevatedAccess(context.Background(), id))
}

func TestGrantHandler_RejectsBadRequests(t *testing.T) {
	e, _ := newTestServer(t, "s3cret")

	assert.Equal(t, http.StatusForbidden, send(e, http.MethodPost, "/grants", "wrong", `{}`).Code)
	assert.Equal(t, http.StatusForbidden, send(e, http.MethodPost, "/grants", "", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, send(e, http.MethodPost, "/grants", "s3cret", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		send(e, http.MethodPost, "/grants", "s3cret", `{"identity":"`+uuid.NewString()+`","ttl":"soon"}`).Code)
}

func TestGrantHandler_DisabledWithoutToken(t *testing.T) {
	e, _ := newTestServer(t, "")
	assert.Equal(t, http.StatusForbidden, send(e, http.MethodPost, "/grants", "anything", `{}`).Code)
}
