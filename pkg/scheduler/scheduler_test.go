package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunNowRecordsSuccess(t *testing.T) {
	s := New(nil)
	calls := 0
	require.NoError(t, s.Register("sweep", time.Hour, func(ctx context.Context) error {
		calls++
		return nil
	}))

	require.NoError(t, s.RunNow(context.Background(), "sweep"))
	require.Equal(t, 1, calls)

	statuses := s.Status()
	require.Len(t, statuses, 1)
	require.Equal(t, "sweep", statuses[0].Name)
	require.Equal(t, 1, statuses[0].Runs)
	require.Equal(t, 0, statuses[0].Failures)
}

func TestRunNowRecordsFailureWithoutPropagatingAcrossTasks(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Register("flaky", time.Hour, func(ctx context.Context) error {
		return errors.New("boom")
	}))

	err := s.RunNow(context.Background(), "flaky")
	require.Error(t, err)

	statuses := s.Status()
	require.Equal(t, 1, statuses[0].Failures)
	require.Equal(t, 1, statuses[0].Runs)
}

func TestRegisterIsIdempotent(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Register("sweep", time.Hour, func(ctx context.Context) error { return nil }))
	require.NoError(t, s.Register("sweep", 2*time.Hour, func(ctx context.Context) error { return nil }))

	statuses := s.Status()
	require.Len(t, statuses, 1)
	require.Equal(t, 2*time.Hour, statuses[0].Interval)
}

func TestUnregisterRemovesTask(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Register("sweep", time.Hour, func(ctx context.Context) error { return nil }))
	s.Unregister("sweep")
	require.Empty(t, s.Status())
}

func TestRunNowUnknownTaskErrors(t *testing.T) {
	s := New(nil)
	err := s.RunNow(context.Background(), "nonexistent")
	require.Error(t, err)
}

func TestStopAllMaintenanceReturnsWithinGrace(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Register("sweep", time.Hour, func(ctx context.Context) error { return nil }))
	s.Start()

	done := make(chan struct{})
	go func() {
		s.StopAllMaintenance(time.Second)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StopAllMaintenance did not return")
	}
}
