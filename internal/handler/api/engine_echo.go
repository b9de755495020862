package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	models "LevPair/internal/domain/models"
	"LevPair/internal/middleware"
	"LevPair/internal/service/metrics"
	xhttp "LevPair/pkg/http"
	xlogger "LevPair/pkg/logger"
)

// StatusReader is the read-only view of the engine.
type StatusReader interface {
	Status() models.EngineStatus
}

// Inbox accepts work for the engine loop.
type Inbox interface {
	Submit(ctx context.Context, source string, o models.TradeOutcome) error
	Command(cmd middleware.Command, source string) error
	Depth() int
}

// EngineHandler serves the engine API. Reads come from the published status snapshot,
// writes only enqueue; nothing here touches core state directly.
type EngineHandler struct {
	logger *xlogger.Logger
	engine StatusReader
	inbox  Inbox
}

func NewEngineHandler(logger *xlogger.Logger, engine StatusReader, inbox Inbox) *EngineHandler {
	metrics.Register()
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &EngineHandler{logger: logger, engine: engine, inbox: inbox}
}

func (h *EngineHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.GET("/status", h.Status)
	g.GET("/signal", h.Signal)
	g.GET("/trend", h.Trend)
	g.GET("/patterns/stats", h.PatternStats)
	g.GET("/health", h.Health)
	g.POST("/outcomes", h.SubmitOutcome)
	g.POST("/retrain", h.Retrain)
}

func observe(endpoint string) func() {
	start := time.Now()
	return func() { metrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }
}

func (h *EngineHandler) Status(c echo.Context) error {
	defer observe("status")()
	return xhttp.OK(c, h.engine.Status())
}

func (h *EngineHandler) Signal(c echo.Context) error {
	defer observe("signal")()
	st := h.engine.Status()
	if st.LastSignal == nil {
		return xhttp.Fail(c, xhttp.NotFound("no cycle has completed yet"))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.OK(c, st.LastSignal)
}

func (h *EngineHandler) Trend(c echo.Context) error {
	defer observe("trend")()
	req := &models.TrendRequest{}
	if problems := xhttp.Bind(c, req); problems != nil {
		metrics.APIErrors.WithLabelValues("trend").Inc()
		return xhttp.Invalid(c, problems)
	}
	st := h.engine.Status()
	if st.LastSignal == nil {
		return xhttp.Fail(c, xhttp.NotFound("no cycle has completed yet"))
	}
	if req.Instrument == "" {
		return xhttp.OK(c, st.LastSignal.Trends)
	}
	inst, _ := models.ParseInstrument(req.Instrument)
	rep, ok := st.LastSignal.Trends[inst]
	if !ok {
		return xhttp.Fail(c, xhttp.NotFound("no trend for instrument %s in the last cycle", inst).For("instrument"))
	}
	return xhttp.OK(c, rep)
}

func (h *EngineHandler) PatternStats(c echo.Context) error {
	defer observe("patterns_stats")()
	return xhttp.OK(c, h.engine.Status().Patterns)
}

func (h *EngineHandler) Health(c echo.Context) error {
	defer observe("health")()
	st := h.engine.Status()
	res := models.HealthResponse{
		Status:     "ok",
		State:      st.State,
		InboxDepth: h.inbox.Depth(),
	}
	for _, m := range st.Members {
		if m.IsFitted {
			res.Fitted = true
			break
		}
	}
	if st.LastSignal != nil {
		res.LastCycle = st.LastSignal.At
		res.Degraded = st.LastSignal.Degraded
	}
	if res.Degraded {
		res.Status = "degraded"
	}
	return xhttp.OK(c, res)
}

func (h *EngineHandler) SubmitOutcome(c echo.Context) error {
	defer observe("outcomes")()
	req := &models.OutcomeRequest{}
	if problems := xhttp.Bind(c, req); problems != nil {
		metrics.InboxRejected.WithLabelValues("validation").Inc()
		return xhttp.Invalid(c, problems)
	}
	if req.TradeID == "" {
		req.TradeID = uuid.NewString()
	}

	err := h.inbox.Submit(c.Request().Context(), "http", req.Outcome())
	switch {
	case err == nil:
		return xhttp.Respond(c, http.StatusAccepted, models.OutcomeAccepted{TradeID: req.TradeID, Queued: h.inbox.Depth()})
	case errors.Is(err, models.ErrConfigInconsistency):
		metrics.InboxRejected.WithLabelValues("validation").Inc()
		return xhttp.Fail(c, xhttp.BadRequest("%s", err.Error()))
	case errors.Is(err, middleware.ErrThrottled):
		metrics.InboxRejected.WithLabelValues("throttled").Inc()
		return xhttp.Fail(c,
			xhttp.Errorf(http.StatusTooManyRequests, "ERR_THROTTLED", "too many outcomes for this instrument").For("instrument"))
	case errors.Is(err, middleware.ErrInboxFull), errors.Is(err, middleware.ErrInboxClosed):
		metrics.InboxRejected.WithLabelValues("unavailable").Inc()
		h.logger.Warn("outcome not enqueued", xlogger.String("trade_id", req.TradeID), xlogger.Error(err))
		return xhttp.Fail(c, xhttp.Unavailable("engine is not accepting outcomes right now").Wrap(err))
	default:
		metrics.APIErrors.WithLabelValues("outcomes").Inc()
		h.logger.Error("outcome submit failed", xlogger.String("trade_id", req.TradeID), xlogger.Error(err))
		return xhttp.Fail(c, err)
	}
}

func (h *EngineHandler) Retrain(c echo.Context) error {
	defer observe("retrain")()
	req := &models.RetrainRequest{}
	if problems := xhttp.Bind(c, req); problems != nil {
		metrics.APIErrors.WithLabelValues("retrain").Inc()
		return xhttp.Invalid(c, problems)
	}
	if err := h.inbox.Command(middleware.CommandRetrain, req.Source); err != nil {
		metrics.APIErrors.WithLabelValues("retrain").Inc()
		h.logger.Warn("retrain not enqueued", xlogger.Error(err))
		return xhttp.Fail(c, xhttp.Unavailable("engine is not accepting commands right now").Wrap(err))
	}
	h.logger.Info("retrain requested", xlogger.String("source", req.Source))
	return xhttp.Respond(c, http.StatusAccepted, map[string]string{"command": string(middleware.CommandRetrain)})
}
