package clickhouse

import (
	"context"
	"testing"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsCarrySettings(t *testing.T) {
	cfg := Config{
		Host:             "ch",
		Database:         "levpair",
		User:             "default",
		Password:         "pw",
		MaxExecutionTime: 30 * time.Second,
		AsyncInsert:      true,
		WaitForAsync:     true,
	}
	cfg.setDefaults()
	opts := cfg.options()

	assert.Equal(t, []string{"ch:9000"}, opts.Addr)
	assert.Equal(t, ch.Native, opts.Protocol)
	assert.Equal(t, ch.Auth{Database: "levpair", Username: "default", Password: "pw"}, opts.Auth)
	assert.Equal(t, ch.Settings{"max_execution_time": 30, "async_insert": 1, "wait_for_async_insert": 1}, opts.Settings)
	assert.Equal(t, 10, opts.MaxOpenConns)
	assert.Equal(t, 5, opts.MaxIdleConns)
	assert.Equal(t, 5*time.Second, opts.DialTimeout)
}

func TestOptionsHTTPWithoutSettings(t *testing.T) {
	cfg := Config{Host: "ch", Database: "levpair", User: "u", UseHTTP: true, WaitForAsync: true}
	cfg.setDefaults()
	opts := cfg.options()

	assert.Equal(t, []string{"ch:8123"}, opts.Addr)
	assert.Equal(t, ch.HTTP, opts.Protocol)
	assert.Empty(t, opts.Settings, "waiting means nothing without async inserts")
}

func TestNewClientRequiresHost(t *testing.T) {
	_, err := NewClient(context.Background(), Config{Port: 9000})
	require.ErrorContains(t, err, "host is required")
}
