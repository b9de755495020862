package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"LevPair/internal/domain/models"
	domrepo "LevPair/internal/domain/repository"
	xhttp "LevPair/pkg/http"
	applogger "LevPair/pkg/logger"
	xutil "LevPair/pkg/util"
)

// HTTPBarSource pulls bars from a REST market data endpoint:
//
//	GET {base}/v1/bars?symbol=TQQQ&interval=1m&limit=60
//	{"bars":[{"t":"2024-01-02T15:04:00Z","o":1,"h":1,"l":1,"c":1,"v":10}]}
//
// Timestamps may be RFC3339 strings or unix seconds. Bars are returned oldest first.
type HTTPBarSource struct {
	attempts int
	client   *xhttp.Client
	l        *applogger.Logger
}

var _ domrepo.BarSource = (*HTTPBarSource)(nil)

// NewHTTPBarSource builds the client; attempts below 1 means a single try.
func NewHTTPBarSource(baseURL, apiKey string, timeout time.Duration, attempts int, l *applogger.Logger) (*HTTPBarSource, error) {
	if baseURL == "" {
		return nil, models.NewCoreError(models.KindConfigInconsistency, "http bars", "", errors.New("base url is required"))
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if attempts < 1 {
		attempts = 1
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &HTTPBarSource{
		attempts: attempts,
		client:   xhttp.NewClient(baseURL, timeout, xhttp.WithBearer(apiKey)),
		l:        l,
	}, nil
}

type wireBar struct {
	T any     `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

type barsResponse struct {
	Bars []wireBar `json:"bars"`
}

// GetBars fetches up to limit bars, retrying transient failures with linear backoff.
func (s *HTTPBarSource) GetBars(ctx context.Context, symbol string, interval domrepo.Interval, limit int) ([]models.Bar, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := url.Values{
		"symbol":   {symbol},
		"interval": {string(interval)},
		"limit":    {strconv.Itoa(limit)},
	}

	var resp barsResponse
	var err error
	for i := 1; i <= s.attempts; i++ {
		resp = barsResponse{}
		err = s.client.GetJSON(ctx, "/v1/bars", query, &resp)
		if err == nil || !retryable(err) || i == s.attempts {
			break
		}
		s.l.Debug("bar request retry",
			applogger.String("symbol", symbol),
			applogger.Int("attempt", i),
			applogger.Error(err))
		select {
		case <-time.After(time.Duration(i) * 50 * time.Millisecond):
		case <-ctx.Done():
			return nil, models.DataUnavailable("http get bars", models.InstrumentNone, ctx.Err())
		}
	}
	if err != nil {
		return nil, models.DataUnavailable("http get bars", models.InstrumentNone, fmt.Errorf("%s %s: %w", symbol, interval, err))
	}

	out := make([]models.Bar, 0, len(resp.Bars))
	for _, wb := range resp.Bars {
		ts, ok := xutil.TimeOf(wb.T)
		if !ok {
			s.l.Warn("bar with unreadable timestamp dropped", applogger.String("symbol", symbol), applogger.Any("t", wb.T))
			continue
		}
		out = append(out, models.Bar{
			Bucket:   ts,
			Symbol:   symbol,
			Interval: string(interval),
			Open:     wb.O,
			High:     wb.H,
			Low:      wb.L,
			Close:    wb.C,
			Volume:   wb.V,
		})
	}
	sortBars(out)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func retryable(err error) bool {
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	var syn *json.SyntaxError
	return !errors.As(err, &syn) && !errors.Is(err, context.Canceled)
}
