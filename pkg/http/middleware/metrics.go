package middleware

import (
	"strconv"
	"time"

	applogger "LevPair/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RequestMetrics holds the HTTP series. Labels use the matched route template
// so raw URLs never become label values.
type RequestMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewRequestMetrics registers the series on reg. A nil reg keeps them unregistered.
func NewRequestMetrics(reg prometheus.Registerer) *RequestMetrics {
	f := promauto.With(reg)
	return &RequestMetrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "levpair",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "levpair",
			Subsystem: "http",
			Name:      "request_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"route", "method"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "levpair",
			Subsystem: "http",
			Name:      "in_flight",
			Help:      "Requests currently being served.",
		}),
	}
}

// Middleware records every request. Server errors log at error level and
// requests slower than slow log as warnings.
func (m *RequestMetrics) Middleware(l *applogger.Logger, slow time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.inFlight.Inc()
			defer m.inFlight.Dec()
			start := time.Now()

			if err := next(c); err != nil {
				// render now so the recorded status is the one the client sees
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			code := c.Response().Status
			took := time.Since(start)
			m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
			m.latency.WithLabelValues(route, method).Observe(took.Seconds())

			if l == nil {
				return nil
			}
			fields := []applogger.Field{
				applogger.String("route", route),
				applogger.String("method", method),
				applogger.Int("code", code),
				applogger.Duration("took", took),
			}
			if code >= 500 {
				l.Error("http request failed", fields...)
			} else if slow > 0 && took >= slow {
				l.Warn("http request slow", fields...)
			}
			return nil
		}
	}
}
