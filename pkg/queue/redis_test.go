package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 10, 10, 15, 0, 0, 0, time.UTC)

type recordingHandler struct {
	typ      string
	err      error
	payloads []string
}

func (h *recordingHandler) Type() string { return h.typ }

func (h *recordingHandler) Handle(_ context.Context, payload json.RawMessage) error {
	h.payloads = append(h.payloads, string(payload))
	return h.err
}

func newTestConsumer(t *testing.T, h Handler) (*RedisConsumer, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	c := NewRedisConsumer(db, Config{Prefix: "test:outcomes", MaxRetries: 2, RetryDelay: 2 * time.Second}, nil, h)
	c.now = func() time.Time { return fixedNow }
	return c, mock
}

func envelope(attempts int) string {
	return `{"id":"m-1","type":"trade_outcome","payload":{"trade_id":"t-1"},"attempts":` +
		strconv.Itoa(attempts) + `,"enqueued_at":"2024-10-10T14:30:00Z"}`
}

func TestPublishPushesEnvelope(t *testing.T) {
	db, mock := redismock.NewClientMock()
	p := NewRedisPublisher(db, "test:events")
	p.newID = func() string { return "m-1" }
	p.now = func() time.Time { return time.Date(2024, 10, 10, 14, 30, 0, 0, time.UTC) }

	mock.ExpectLPush("test:events:messages", envelope(0)).SetVal(1)

	require.NoError(t, p.Publish(context.Background(), "trade_outcome", map[string]string{"trade_id": "t-1"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishReportsRedisError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	p := NewRedisPublisher(db, "")
	p.newID = func() string { return "m-1" }
	p.now = func() time.Time { return time.Date(2024, 10, 10, 14, 30, 0, 0, time.UTC) }

	mock.ExpectLPush(DefaultPrefix+":messages", envelope(0)).SetErr(errors.New("connection refused"))

	err := p.Publish(context.Background(), "trade_outcome", map[string]string{"trade_id": "t-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestProcessDispatchesPayload(t *testing.T) {
	h := &recordingHandler{typ: "trade_outcome"}
	c, mock := newTestConsumer(t, h)

	c.process(context.Background(), envelope(0))

	assert.Equal(t, []string{`{"trade_id":"t-1"}`}, h.payloads)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessSchedulesRetry(t *testing.T) {
	h := &recordingHandler{typ: "trade_outcome", err: errors.New("inbox full")}
	c, mock := newTestConsumer(t, h)

	mock.ExpectZAdd("test:outcomes:retry", redis.Z{
		Score:  float64(fixedNow.Add(2 * time.Second).UnixMilli()),
		Member: envelope(1),
	}).SetVal(1)

	c.process(context.Background(), envelope(0))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessDeadLettersAfterLastAttempt(t *testing.T) {
	h := &recordingHandler{typ: "trade_outcome", err: errors.New("inbox full")}
	c, mock := newTestConsumer(t, h)

	mock.ExpectLPush("test:outcomes:dlq", envelope(3)).SetVal(1)

	c.process(context.Background(), envelope(2))

	assert.Len(t, h.payloads, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessDeadLettersPermanentFailureAtOnce(t *testing.T) {
	h := &recordingHandler{typ: "trade_outcome", err: fmt.Errorf("%w: bad instrument", ErrPermanent)}
	c, mock := newTestConsumer(t, h)

	mock.ExpectLPush("test:outcomes:dlq", envelope(1)).SetVal(1)

	c.process(context.Background(), envelope(0))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessDeadLettersUnroutableMessages(t *testing.T) {
	h := &recordingHandler{typ: "something_else"}
	c, mock := newTestConsumer(t, h)

	mock.ExpectLPush("test:outcomes:dlq", envelope(0)).SetVal(1)
	mock.ExpectLPush("test:outcomes:dlq", "not json").SetVal(1)

	c.process(context.Background(), envelope(0))
	c.process(context.Background(), "not json")

	assert.Empty(t, h.payloads)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoteDueMovesClaimedEntries(t *testing.T) {
	c, mock := newTestConsumer(t, &recordingHandler{typ: "trade_outcome"})
	ctx := context.Background()

	mock.ExpectZRangeByScore("test:outcomes:retry", &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(fixedNow.UnixMilli(), 10),
	}).SetVal([]string{envelope(1), envelope(2)})
	mock.ExpectZRem("test:outcomes:retry", envelope(1)).SetVal(1)
	mock.ExpectLPush("test:outcomes:messages", envelope(1)).SetVal(1)
	// another consumer already claimed the second entry
	mock.ExpectZRem("test:outcomes:retry", envelope(2)).SetVal(0)

	moved, err := c.promoteDue(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStartFailsWithoutRedis(t *testing.T) {
	c, mock := newTestConsumer(t, &recordingHandler{typ: "trade_outcome"})
	mock.ExpectPing().SetErr(errors.New("dial tcp: connection refused"))

	require.Error(t, c.Start())
	require.NoError(t, c.Stop(context.Background()))
}
