package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/redis"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakePoller struct {
	calls atomic.Int32
	err   error
}

func (f *fakePoller) SyncAll(_ context.Context) ([]models.SyncResult, error) {
	f.calls.Add(1)
	return []models.SyncResult{{Provider: "github", ConnectionID: "c1", Synced: 2}}, f.err
}

type fakeLocker struct {
	held  bool
	names []string
}

func (f *fakeLocker) WithLock(ctx context.Context, name string, _ time.Duration, fn func(ctx context.Context) error) error {
	f.names = append(f.names, name)
	if f.held {
		return redis.ErrLockNotAcquired
	}
	return fn(ctx)
}

func TestNewScheduler_RejectsBadSchedule(t *testing.T) {
	_, err := NewScheduler(&fakePoller{}, nil, Config{Schedule: "every now and then"}, testLogger())
	assert.Error(t, err)
}

func TestRunOnce(t *testing.T) {
	poller := &fakePoller{}
	s, err := NewScheduler(poller, nil, Config{}, testLogger())
	require.NoError(t, err)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, int32(1), poller.calls.Load())

	poller.err = errors.New("one connection failed")
	assert.Error(t, s.RunOnce(context.Background()))
}

func TestRunOnce_LockHeldElsewhere(t *testing.T) {
	poller := &fakePoller{}
	locker := &fakeLocker{held: true}
	s, err := NewScheduler(poller, locker, Config{}, testLogger())
	require.NoError(t, err)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Zero(t, poller.calls.Load())
	assert.Equal(t, []string{DefaultLockName}, locker.names)

	locker.held = false
	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, int32(1), poller.calls.Load())
}

func TestStartStop(t *testing.T) {
	poller := &fakePoller{}
	s, err := NewScheduler(poller, nil, Config{Schedule: "@every 1s"}, testLogger())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	require.Eventually(t, func() bool { return poller.calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}
