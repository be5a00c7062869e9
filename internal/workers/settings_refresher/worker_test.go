package settings_refresher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingRefresher struct {
	calls int32
	err   error
}

func (c *countingRefresher) Refresh(context.Context) error {
	atomic.AddInt32(&c.calls, 1)
	return c.err
}

func TestStart_LoadsImmediately(t *testing.T) {
	r := &countingRefresher{}
	w := NewWorker(r, "@every 1h", zap.NewNop())

	require.NoError(t, w.Start())
	w.Stop()

	assert.Equal(t, int32(1), atomic.LoadInt32(&r.calls))
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	w := NewWorker(&countingRefresher{}, "not a schedule", zap.NewNop())
	assert.Error(t, w.Start())
}

func TestRunOnce_ToleratesErrors(t *testing.T) {
	r := &countingRefresher{err: errors.New("db down")}
	w := NewWorker(r, "", zap.NewNop())

	w.RunOnce()
	w.RunOnce()
	assert.Equal(t, int32(2), atomic.LoadInt32(&r.calls))
}
