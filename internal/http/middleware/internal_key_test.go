package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

func callWithKey(t *testing.T, configured, presented string) int {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/internal/queue/process", nil)
	if presented != "" {
		req.Header.Set("X-Internal-Key", presented)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	mw := InternalKeyMiddleware(configured)
	handler := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	require.NoError(t, handler(c))
	return rec.Code
}

func TestInternalKey_Accepts(t *testing.T) {
	require.Equal(t, http.StatusOK, callWithKey(t, "secret", "secret"))
}

func TestInternalKey_Rejects(t *testing.T) {
	require.Equal(t, http.StatusUnauthorized, callWithKey(t, "secret", "wrong"))
	require.Equal(t, http.StatusUnauthorized, callWithKey(t, "secret", ""))
}

func TestInternalKey_Unconfigured(t *testing.T) {
	require.Equal(t, http.StatusServiceUnavailable, callWithKey(t, "", "anything"))
}
