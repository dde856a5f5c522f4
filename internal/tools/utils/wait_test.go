// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package utils

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForFunc(t *testing.T) {
	t.Run("ready after a few probes", func(t *testing.T) {
		probes := 0
		err := WaitForFunc(context.Background(), WaitConfig{
			Timeout:  time.Second,
			Interval: time.Millisecond,
		}, func() (bool, error) {
			probes++
			return probes >= 3, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, probes)
	})

	t.Run("probe error is terminal", func(t *testing.T) {
		probes := 0
		err := WaitForFunc(context.Background(), WaitConfig{
			Timeout:  time.Second,
			Interval: time.Millisecond,
		}, func() (bool, error) {
			probes++
			return false, errors.New("broken")
		})
		require.EqualError(t, err, "broken")
		assert.Equal(t, 1, probes)
	})

	t.Run("timeout", func(t *testing.T) {
		err := WaitForFunc(context.Background(), WaitConfig{
			Timeout:  10 * time.Millisecond,
			Interval: time.Millisecond,
		}, func() (bool, error) {
			return false, nil
		})
		require.ErrorIs(t, err, ErrWaitTimeout)
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := WaitForFunc(ctx, WaitConfig{
			Interval: time.Millisecond,
		}, func() (bool, error) {
			return false, nil
		})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestRetryN(t *testing.T) {
	t.Run("succeeds on a later attempt", func(t *testing.T) {
		attempts := 0
		err := RetryN(context.Background(), 3, time.Millisecond, func() error {
			attempts++
			if attempts < 3 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("gives up after all attempts", func(t *testing.T) {
		attempts := 0
		err := RetryN(context.Background(), 3, time.Millisecond, func() error {
			attempts++
			return errors.New("transient")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "gave up after 3 attempts")
		assert.Equal(t, 3, attempts)
	})

	t.Run("permanent error stops immediately", func(t *testing.T) {
		attempts := 0
		err := RetryN(context.Background(), 3, time.Millisecond, func() error {
			attempts++
			return backoff.Permanent(errors.New("hopeless"))
		})
		require.EqualError(t, err, "hopeless")
		assert.Equal(t, 1, attempts)
	})
}
