package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryOnBusyEventualSuccess(t *testing.T) {
	attempts := 0
	err := retryOnBusy(context.Background(), func() error {
		attempts++
		if attempts < 5 {
			return ErrBusy
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, attempts)
}

func TestRetryOnBusyExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := retryOnBusy(context.Background(), func() error {
		attempts++
		return ErrBusy
	})
	require.Error(t, err)
	assert.True(t, IsBusy(err))
	assert.Equal(t, retryMaxAttempts, attempts)
}

func TestRetryOnBusyPermanentErrorNotRetried(t *testing.T) {
	boom := errors.New("constraint violated")
	attempts := 0
	err := retryOnBusy(context.Background(), func() error {
		attempts++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestRetryOnBusyHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := retryOnBusy(ctx, func() error {
		attempts++
		cancel()
		return ErrBusy
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestIsBusy(t *testing.T) {
	assert.False(t, IsBusy(nil))
	assert.False(t, IsBusy(errors.New("other")))
	assert.True(t, IsBusy(ErrBusy))
	assert.True(t, IsBusy(errors.Join(errors.New("wrapped"), ErrBusy)))
}
