package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls int
	err   error
}

func (s *countingSweeper) Sweep(context.Context) (int, error) {
	s.calls++
	return 2, s.err
}

func TestSweepHandler(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sweeper := &countingSweeper{}
	h := NewSweepHandler(sweeper, logrus.NewEntry(logger))

	task, err := NewSweepTask(5 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, TypeReviewSweep, task.Type())
	assert.JSONEq(t, `{"interval":"5m0s"}`, string(task.Payload()))

	require.NoError(t, h.ProcessTask(context.Background(), task))
	assert.Equal(t, 1, sweeper.calls)

	sweeper.err = errors.New("db down")
	err = h.ProcessTask(context.Background(), task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestSweepHandler_BadPayload(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sweeper := &countingSweeper{}
	h := NewSweepHandler(sweeper, logrus.NewEntry(logger))

	err := h.ProcessTask(context.Background(), asynq.NewTask(TypeReviewSweep, []byte("{")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.Zero(t, sweeper.calls)
}

func TestNewSweepTask_SamePayloadOnEveryReplica(t *testing.T) {
	logger, _ := test.NewNullLogger()
	a := NewServer(asynq.RedisClientOpt{Addr: "127.0.0.1:0"}, &countingSweeper{}, time.Minute, "api-1", logger)
	b := NewServer(asynq.RedisClientOpt{Addr: "127.0.0.1:0"}, &countingSweeper{}, time.Minute, "api-2", logger)

	ta, err := NewSweepTask(a.interval)
	require.NoError(t, err)
	tb, err := NewSweepTask(b.interval)
	require.NoError(t, err)
	assert.NotEqual(t, a.instance, b.instance)
	assert.Equal(t, ta.Type(), tb.Type())
	assert.Equal(t, ta.Payload(), tb.Payload())

	other, err := NewSweepTask(2 * time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, ta.Payload(), other.Payload())
}
