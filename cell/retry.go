/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package cell

import "time"

// RetryOption configures the bounds Retry enforces.
type RetryOption func(*retryConfig)

type retryConfig struct {
	maxAttempts int // 0 = unbounded
	deadline    time.Time
	hasDeadline bool
}

// WithMaxAttempts bounds Retry to at most n invocations of fn.
func WithMaxAttempts(n int) RetryOption {
	return func(c *retryConfig) { c.maxAttempts = n }
}

// WithTimeout bounds Retry to d wall-clock time from the call to Retry.
func WithTimeout(d time.Duration) RetryOption {
	return func(c *retryConfig) {
		c.deadline = time.Now().Add(d)
		c.hasDeadline = true
	}
}

// Retry wraps fn so that it runs inside a transaction, reinvoking it
// on transaction-conflict up to the bounds given by opts (§4.8). With
// neither WithMaxAttempts nor WithTimeout, it retries indefinitely.
// Any error other than a transaction-conflict propagates immediately.
func Retry(mgr *Manager, fn func(tx *Transaction) error, opts ...RetryOption) error {
	var cfg retryConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	for attempt := 1; ; attempt++ {
		if cfg.hasDeadline && !time.Now().Before(cfg.deadline) {
			return newError(KindRetryTimeout, "retry helper exceeded its deadline")
		}

		tx := mgr.Transaction()
		if err := fn(tx); err != nil {
			tx.Rollback()
			if !IsConflict(err) {
				return err
			}
			if cfg.maxAttempts > 0 && attempt >= cfg.maxAttempts {
				return newError(KindRetryExhausted, "retry helper exhausted its attempt budget")
			}
			continue
		}

		if err := tx.Commit(); err != nil {
			if !IsConflict(err) {
				return err
			}
			if cfg.maxAttempts > 0 && attempt >= cfg.maxAttempts {
				return newError(KindRetryExhausted, "retry helper exhausted its attempt budget")
			}
			continue
		}
		return nil
	}
}
