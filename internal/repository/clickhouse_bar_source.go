package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"LevPair/internal/domain/models"
	domrepo "LevPair/internal/domain/repository"
	pkgch "LevPair/pkg/clickhouse"
	applogger "LevPair/pkg/logger"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// CHBarSource reads bars from a ClickHouse candles table laid out as
// (bucket, symbol, interval, open, high, low, close, volume).
type CHBarSource struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

var _ domrepo.BarSource = (*CHBarSource)(nil)

// NewCHBarSource validates the table name since it is interpolated into queries.
func NewCHBarSource(ch *pkgch.Client, table string, l *applogger.Logger) (*CHBarSource, error) {
	if !identRe.MatchString(table) {
		return nil, models.NewCoreError(models.KindConfigInconsistency, "clickhouse bars", "",
			fmt.Errorf("invalid table name %q", table))
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &CHBarSource{db: ch.DB(), table: table, l: l}, nil
}

// CandlesSchema returns the DDL for the candles table.
func CandlesSchema(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            bucket   DateTime64(3, 'UTC'),
            symbol   LowCardinality(String),
            interval LowCardinality(String),
            open     Float64,
            high     Float64,
            low      Float64,
            close    Float64,
            volume   Float64
        ) ENGINE = ReplacingMergeTree ORDER BY (symbol, interval, bucket)`, table)
}

// GetBars returns the newest limit bars, oldest first.
func (s *CHBarSource) GetBars(ctx context.Context, symbol string, interval domrepo.Interval, limit int) ([]models.Bar, error) {
	if limit <= 0 {
		return nil, nil
	}
	start := time.Now()
	const qtpl = `
        SELECT bucket, symbol, open, high, low, close, volume
        FROM %s FINAL
        WHERE symbol = ? AND interval = ?
        ORDER BY bucket DESC
        LIMIT ?
    `
	q := fmt.Sprintf(qtpl, s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, string(interval), limit)
	if err != nil {
		s.l.Error("clickhouse get_bars query error",
			applogger.String("table", s.table),
			applogger.String("symbol", symbol),
			applogger.String("interval", string(interval)),
			applogger.Error(err),
		)
		return nil, models.DataUnavailable("clickhouse get bars", models.InstrumentNone, err)
	}
	defer rows.Close()

	tmp := make([]models.Bar, 0, limit)
	for rows.Next() {
		b := models.Bar{Interval: string(interval)}
		if err := rows.Scan(&b.Bucket, &b.Symbol, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			s.l.Error("clickhouse get_bars scan error",
				applogger.String("table", s.table),
				applogger.String("symbol", symbol),
				applogger.Error(err),
			)
			return nil, models.DataUnavailable("clickhouse scan bar", models.InstrumentNone, err)
		}
		tmp = append(tmp, b)
	}
	if err := rows.Err(); err != nil {
		return nil, models.DataUnavailable("clickhouse rows", models.InstrumentNone, err)
	}
	reverseBars(tmp)

	s.l.Debug("clickhouse get_bars ok",
		applogger.String("symbol", symbol),
		applogger.String("interval", string(interval)),
		applogger.Int("limit", limit),
		applogger.Int("rows", len(tmp)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return tmp, nil
}

func reverseBars(bars []models.Bar) {
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
}
