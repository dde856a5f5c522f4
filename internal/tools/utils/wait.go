// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package utils

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrWaitTimeout is returned by WaitForFunc when the condition did not become
// ready within the configured timeout.
var ErrWaitTimeout = errors.New("timed out waiting for condition")

// WaitConfig contains configuration for WaitForFunc.
type WaitConfig struct {
	// Timeout bounds the whole wait. Zero means the wait is bounded only by
	// the context.
	Timeout  time.Duration
	Interval time.Duration
	Logger   log.FieldLogger
}

// WaitForFunc polls isReady at the configured interval until it reports
// ready, returns an error, the timeout elapses, or the context is canceled.
// The condition is probed once immediately before the first sleep. An error
// from isReady is treated as terminal and surfaced as-is; probes that want
// to keep waiting on a transient condition return (false, nil).
func WaitForFunc(ctx context.Context, cfg WaitConfig, isReady func() (bool, error)) error {
	var timeout <-chan time.Time
	if cfg.Timeout > 0 {
		timer := time.NewTimer(cfg.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		ready, err := isReady()
		if err != nil {
			return err
		}
		if ready {
			return nil
		}
		if cfg.Logger != nil {
			cfg.Logger.Debug("Condition not ready; waiting")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return ErrWaitTimeout
		case <-ticker.C:
		}
	}
}

// RetryN invokes fn up to attempts times, sleeping interval between
// attempts. Errors wrapped with backoff.Permanent stop the retries
// immediately; the final error is returned otherwise. This retries whole
// actions — polling a status to a terminal value belongs in WaitForFunc.
func RetryN(ctx context.Context, attempts int, interval time.Duration, fn func() error) error {
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
	}

	return errors.Wrapf(err, "gave up after %d attempts", attempts)
}
