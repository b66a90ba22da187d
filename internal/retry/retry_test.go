package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDo_FirstAttemptSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3}, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestDo_RecoversAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDo_ExhaustedReturnsLastError(t *testing.T) {
	calls := 0
	errA := errors.New("first")
	errB := errors.New("last")

	err := Do(context.Background(), Policy{Attempts: 2, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errA
		}
		return errB
	})
	require.ErrorIs(t, err, errB)
	require.Equal(t, 2, calls)
}

func TestDo_ZeroAttempts(t *testing.T) {
	err := Do(context.Background(), Policy{}, func(ctx context.Context) error {
		t.Fatal("fn must not be called")
		return nil
	})
	require.Error(t, err)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Do(ctx, Policy{Attempts: 3, BaseDelay: time.Hour}, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}
