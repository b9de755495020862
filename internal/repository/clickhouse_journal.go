package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"LevPair/internal/domain/models"
	domrepo "LevPair/internal/domain/repository"
	pkgch "LevPair/pkg/clickhouse"
)

// CHJournal appends engine events and applied trade outcomes to ClickHouse. It is both
// an event sink and the outcome journal.
type CHJournal struct {
	db       *sql.DB
	database string
}

var (
	_ domrepo.EventPublisher = (*CHJournal)(nil)
	_ domrepo.OutcomeJournal = (*CHJournal)(nil)
)

// NewCHJournal writes into tables of the given database.
func NewCHJournal(ch *pkgch.Client, database string) (*CHJournal, error) {
	if !identRe.MatchString(database) {
		return nil, models.NewCoreError(models.KindConfigInconsistency, "clickhouse journal", "",
			fmt.Errorf("invalid database name %q", database))
	}
	return &CHJournal{db: ch.DB(), database: database}, nil
}

// JournalSchema returns the DDL for the journal tables.
func JournalSchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.engine_events (
            at       DateTime64(3, 'UTC'),
            id       String,
            type     LowCardinality(String),
            strategy LowCardinality(String),
            payload  String
        ) ENGINE = MergeTree ORDER BY (strategy, at)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.trade_outcomes (
            trade_id    String,
            strategy    LowCardinality(String),
            instrument  LowCardinality(String),
            entry_time  DateTime64(3, 'UTC'),
            exit_time   DateTime64(3, 'UTC'),
            entry_price Float64,
            exit_price  Float64,
            return_pct  Float64,
            win         UInt8,
            confidence  Float64
        ) ENGINE = ReplacingMergeTree ORDER BY (strategy, trade_id)`, database),
	}
}

// Publish stores one event with its payload as JSON.
func (j *CHJournal) Publish(ctx context.Context, ev models.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return models.NewCoreError(models.KindSerializationFailure, "journal event", "", err)
	}
	q := fmt.Sprintf("INSERT INTO %s.engine_events (at, id, type, strategy, payload) VALUES (?, ?, ?, ?, ?)", j.database)
	if _, err := j.db.ExecContext(ctx, q, ev.At.UTC(), ev.ID, string(ev.Type), ev.Strategy, string(payload)); err != nil {
		return fmt.Errorf("journal event: %w", err)
	}
	return nil
}

// RecordOutcome stores one applied outcome.
func (j *CHJournal) RecordOutcome(ctx context.Context, strategy string, o models.TradeOutcome, returnPct float64, win bool) error {
	q := fmt.Sprintf(`INSERT INTO %s.trade_outcomes
        (trade_id, strategy, instrument, entry_time, exit_time, entry_price, exit_price, return_pct, win, confidence)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, j.database)
	_, err := j.db.ExecContext(ctx, q,
		o.TradeID,
		strategy,
		string(o.Instrument),
		o.EntryTime.UTC(),
		o.ExitTime.UTC(),
		o.EntryPrice,
		o.ExitPrice,
		returnPct,
		boolToUInt8(win),
		o.ConfidenceAtEntry,
	)
	if err != nil {
		return fmt.Errorf("journal outcome: %w", err)
	}
	return nil
}

// Close is a no-op; the connection pool belongs to the ClickHouse client.
func (j *CHJournal) Close() error { return nil }

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
