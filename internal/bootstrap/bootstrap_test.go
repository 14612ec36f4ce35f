package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"ticketflow/internal/config"
	"ticketflow/internal/retry"
	"ticketflow/internal/store/memory"
	"ticketflow/internal/worker/executor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestOpenStore_Memory(t *testing.T) {
	s, err := OpenStore(context.Background(), &config.Config{Store: "memory", MaxRetries: 3}, discard, true)
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.(*memory.Store)
	assert.True(t, ok)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestOpenStore_Unknown(t *testing.T) {
	_, err := OpenStore(context.Background(), &config.Config{Store: "sqlite"}, discard, false)
	assert.Error(t, err)
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy(&config.Config{RetryInitialInterval: time.Second, RetryMaxInterval: 4 * time.Second})
	exp, ok := p.(retry.Exponential)
	require.True(t, ok)
	assert.Equal(t, time.Second, exp.InitialInterval)
	assert.Equal(t, 4*time.Second, exp.MaxInterval)
	assert.LessOrEqual(t, p.Backoff(20), 4*time.Second+time.Second)
}

func TestNewExecutor(t *testing.T) {
	ex, err := NewExecutor(&config.Config{Executor: "http", ExecutorURL: "http://agents:9000"})
	require.NoError(t, err)
	assert.IsType(t, &executor.HTTPExecutor{}, ex)

	ex, err = NewExecutor(&config.Config{Executor: "process", ExecutorCommand: "./run-graph --json"})
	require.NoError(t, err)
	assert.IsType(t, &executor.ProcessExecutor{}, ex)

	_, err = NewExecutor(&config.Config{Executor: "http"})
	assert.Error(t, err)
}
