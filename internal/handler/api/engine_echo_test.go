package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	models "LevPair/internal/domain/models"
	"LevPair/internal/middleware"
	"LevPair/pkg/metrics"
)

type fixedStatus struct{ st models.EngineStatus }

func (f fixedStatus) Status() models.EngineStatus { return f.st }

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(st models.EngineStatus, inbox *middleware.OutcomeInbox) *echo.Echo {
	e := echo.New()
	NewEngineHandler(nil, fixedStatus{st}, inbox).RegisterRoutes(e)
	return e
}

func do(t *testing.T, e *echo.Echo, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func sampleStatus() models.EngineStatus {
	at := time.Date(2024, 10, 10, 15, 0, 0, 0, time.UTC)
	return models.EngineStatus{
		Strategy:  "qqq-pair",
		State:     models.StateHoldingA,
		Threshold: 0.6,
		Members:   []models.ModelState{{Name: "logistic", BlendWeight: 1, IsFitted: true}},
		Patterns:  models.PatternStats{Winners: 3, Losers: 1},
		LastSignal: &models.Recommendation{
			At:    at,
			State: models.StateHoldingA,
			Trends: map[models.Instrument]models.TrendReport{
				models.InstrumentA: {Instrument: models.InstrumentA, Consensus: models.DirectionUp, Confidence: 0.7},
				models.InstrumentB: {Instrument: models.InstrumentB, Consensus: models.DirectionDown, Confidence: 0.6},
			},
		},
		UpdatedAt: at,
	}
}

func testInbox(opts ...middleware.InboxOption) *middleware.OutcomeInbox {
	return middleware.NewOutcomeInbox(metrics.Nop{}, append([]middleware.InboxOption{middleware.WithMaxRPS(0)}, opts...)...)
}

func TestStatusAndPatternStats(t *testing.T) {
	e := newTestServer(sampleStatus(), testInbox())

	rec, env := do(t, e, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st models.EngineStatus
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, "qqq-pair", st.Strategy)
	assert.Equal(t, models.StateHoldingA, st.State)

	rec, env = do(t, e, http.MethodGet, "/api/v1/patterns/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ps models.PatternStats
	require.NoError(t, json.Unmarshal(env.Data, &ps))
	assert.Equal(t, 3, ps.Winners)
}

func TestSignalBeforeFirstCycle(t *testing.T) {
	e := newTestServer(models.EngineStatus{State: models.StateHold}, testInbox())

	rec, env := do(t, e, http.MethodGet, "/api/v1/signal", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusNotFound, env.Status)
}

func TestTrendFilter(t *testing.T) {
	e := newTestServer(sampleStatus(), testInbox())

	rec, env := do(t, e, http.MethodGet, "/api/v1/trend?instrument=b", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rep models.TrendReport
	require.NoError(t, json.Unmarshal(env.Data, &rep))
	assert.Equal(t, models.DirectionDown, rep.Consensus)

	rec, _ = do(t, e, http.MethodGet, "/api/v1/trend?instrument=C", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = do(t, e, http.MethodGet, "/api/v1/trend", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all map[models.Instrument]models.TrendReport
	require.NoError(t, json.Unmarshal(env.Data, &all))
	assert.Len(t, all, 2)
}

func TestHealth(t *testing.T) {
	st := sampleStatus()
	st.LastSignal.Degraded = true
	e := newTestServer(st, testInbox())

	rec, env := do(t, e, http.MethodGet, "/api/v1/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var h models.HealthResponse
	require.NoError(t, json.Unmarshal(env.Data, &h))
	assert.Equal(t, "degraded", h.Status)
	assert.True(t, h.Fitted)
}

func TestSubmitOutcome(t *testing.T) {
	inbox := testInbox()
	e := newTestServer(sampleStatus(), inbox)

	rec, env := do(t, e, http.MethodPost, "/api/v1/outcomes",
		`{"instrument":"A","entry_price":100,"exit_price":101.5,"confidence_at_entry":0.7}`)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var ack models.OutcomeAccepted
	require.NoError(t, json.Unmarshal(env.Data, &ack))
	assert.NotEmpty(t, ack.TradeID)
	assert.Equal(t, 1, ack.Queued)

	items := inbox.Drain(0)
	require.Len(t, items, 1)
	assert.Equal(t, "http", items[0].Source)
	assert.Equal(t, ack.TradeID, items[0].Outcome.TradeID)
	assert.Equal(t, models.InstrumentA, items[0].Outcome.Instrument)
}

func TestSubmitOutcomeValidation(t *testing.T) {
	e := newTestServer(sampleStatus(), testInbox())
	tests := []struct {
		name string
		body string
	}{
		{"missing instrument", `{"entry_price":100,"exit_price":101}`},
		{"negative price", `{"instrument":"B","entry_price":-1,"exit_price":101}`},
		{"wrong feature arity", `{"instrument":"B","entry_price":1,"exit_price":2,"features_at_entry":[1,2,3]}`},
		{"confidence above one", `{"instrument":"B","entry_price":1,"exit_price":2,"confidence_at_entry":1.5}`},
		{"not json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, e, http.MethodPost, "/api/v1/outcomes", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, http.StatusBadRequest, env.Status)
		})
	}
}

func TestSubmitOutcomeThrottled(t *testing.T) {
	inbox := middleware.NewOutcomeInbox(metrics.Nop{}, middleware.WithMaxRPS(0.001))
	e := newTestServer(sampleStatus(), inbox)
	body := `{"instrument":"A","entry_price":100,"exit_price":101}`

	rec, _ := do(t, e, http.MethodPost, "/api/v1/outcomes", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec, env := do(t, e, http.MethodPost, "/api/v1/outcomes", body)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, http.StatusTooManyRequests, env.Status)
}

func TestSubmitOutcomeInboxFull(t *testing.T) {
	e := newTestServer(sampleStatus(), testInbox(middleware.WithBufferSize(1)))
	body := `{"instrument":"A","entry_price":100,"exit_price":101}`

	rec, _ := do(t, e, http.MethodPost, "/api/v1/outcomes", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec, _ = do(t, e, http.MethodPost, "/api/v1/outcomes", body)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRetrainEnqueuesCommand(t *testing.T) {
	inbox := testInbox()
	e := newTestServer(sampleStatus(), inbox)

	rec, _ := do(t, e, http.MethodPost, "/api/v1/retrain", "")

	require.Equal(t, http.StatusAccepted, rec.Code)
	items := inbox.Drain(0)
	require.Len(t, items, 1)
	assert.Equal(t, middleware.CommandRetrain, items[0].Command)
	assert.Equal(t, "api", items[0].Source)

	inbox.Close()
	rec, _ = do(t, e, http.MethodPost, "/api/v1/retrain", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
