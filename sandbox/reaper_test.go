package sandbox

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeReapable struct {
	calls   atomic.Int32
	removed int
	err     error
}

func (f *fakeReapable) ReapStale(context.Context) (int, error) {
	f.calls.Add(1)
	return f.removed, f.err
}

type reapCounter struct{ total atomic.Int32 }

func (r *reapCounter) ObserveReaped(n int) { r.total.Add(int32(n)) }

func TestReaperRunOnce(t *testing.T) {
	t.Run("ReportsRemoved", func(t *testing.T) {
		target := &fakeReapable{removed: 3}
		observer := &reapCounter{}
		r := NewReaper(zaptest.NewLogger(t), target, "@every 1h", WithReapObserver(observer))

		n, err := r.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, int32(3), observer.total.Load())
	})

	t.Run("Error", func(t *testing.T) {
		target := &fakeReapable{err: errors.New("daemon down")}
		r := NewReaper(zaptest.NewLogger(t), target, "@every 1h")

		_, err := r.RunOnce(context.Background())
		require.Error(t, err)
	})
}

func TestReaperSchedule(t *testing.T) {
	t.Run("InvalidSchedule", func(t *testing.T) {
		r := NewReaper(zaptest.NewLogger(t), &fakeReapable{}, "not a schedule")
		require.Error(t, r.Start())
	})

	t.Run("RunsOnSchedule", func(t *testing.T) {
		target := &fakeReapable{}
		r := NewReaper(zaptest.NewLogger(t), target, "@every 1s")
		require.NoError(t, r.Start())
		require.NoError(t, r.Start(), "second start is a no-op")

		assert.Eventually(t, func() bool { return target.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, r.Stop(ctx))
		require.NoError(t, r.Stop(ctx), "stop without start is a no-op")
	})
}
