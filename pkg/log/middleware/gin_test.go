package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/dapp-wallet/pkg/log"
	"moff.io/dapp-wallet/pkg/log/meta"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RecoveredHTTPLog(), TimeoutHTTP(50*time.Millisecond))
	r.GET("/ok", func(ctx *gin.Context) {
		meta.WithValue(ctx.Request.Context(), meta.KeyOperation, "state")
		ctx.JSON(http.StatusOK, gin.H{"code": 0, "msg": "ok"})
	})
	r.GET("/panic", func(ctx *gin.Context) {
		panic("boom")
	})
	r.GET("/deadline", func(ctx *gin.Context) {
		<-ctx.Request.Context().Done()
		ctx.JSON(http.StatusGatewayTimeout, gin.H{"msg": ctx.Request.Context().Err().Error()})
	})
	return r
}

func captureLog(t *testing.T) *bytes.Buffer {
	buf := &bytes.Buffer{}
	log.SetOutput(buf)
	t.Cleanup(func() { log.SetOutput(nil) })
	return buf
}

func TestRequestIDIsAssignedAndLogged(t *testing.T) {
	buf := captureLog(t)
	w := httptest.NewRecorder()
	newRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	require.Equal(t, http.StatusOK, w.Code)
	id := w.Header().Get(HeaderRequestID)
	assert.NotEmpty(t, id)
	assert.Contains(t, buf.String(), id)
	assert.Contains(t, buf.String(), `"operation":"state"`)
}

func TestRequestIDIsKept(t *testing.T) {
	captureLog(t)
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(HeaderRequestID, "from-client")
	req.Header.Set("Authorization", "secret")
	w := httptest.NewRecorder()
	newRouter().ServeHTTP(w, req)
	assert.Equal(t, "from-client", w.Header().Get(HeaderRequestID))
}

func TestPanicBecomesInternalError(t *testing.T) {
	t.Setenv("DEBUG", "1")
	buf := captureLog(t)
	w := httptest.NewRecorder()
	newRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Server internal error")
	assert.Contains(t, buf.String(), "boom")
}

func TestTimeout(t *testing.T) {
	captureLog(t)
	w := httptest.NewRecorder()
	newRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/deadline", nil))
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "deadline exceeded"))
}

func TestHeaderFilter(t *testing.T) {
	filtered := requestHeaderFilter(map[string][]string{"Token": {"x"}, "Accept": {"a", "b"}})
	assert.Equal(t, map[string]string{"accept": "a;b"}, filtered)
}
