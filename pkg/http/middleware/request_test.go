package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	applogger "LevPair/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type digests struct {
	mu  sync.Mutex
	got []applogger.Digest
}

func (d *digests) PublishMessage(_ context.Context, _ string, payload any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, payload.(applogger.Digest))
	return nil
}

func newEcho(l *applogger.Logger) *echo.Echo {
	e := echo.New()
	e.Use(Recover(l), RequestLogging(l))
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	e.GET("/panic", func(c echo.Context) error { panic("bad state") })
	return e
}

func TestRecoverRendersInternalError(t *testing.T) {
	pub := &digests{}
	l := applogger.Nop()
	l.Collect(applogger.NewCollector(applogger.CollectorConfig{Interval: time.Hour, Threshold: 10, Publisher: pub}))
	e := newEcho(l)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal error")

	require.NoError(t, l.Close())
	require.Len(t, pub.got, 1)
	entry := pub.got[0].Entries[0]
	assert.Equal(t, "http handler panic", entry.Message)
	assert.Equal(t, "bad state", entry.Fields["panic"])
	assert.Equal(t, "/panic", entry.Fields["route"])
	assert.LessOrEqual(t, strings.Count(entry.Fields["stack"].(string), "\n"), stackLines-1)
}

func TestRequestLoggingAssignsRequestID(t *testing.T) {
	e := newEcho(applogger.Nop())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, rec.Header().Get(echo.HeaderXRequestID), 36)

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(echo.HeaderXRequestID, "caller-7")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, "caller-7", rec.Header().Get(echo.HeaderXRequestID))
}
