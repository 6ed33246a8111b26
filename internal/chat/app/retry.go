package app

import (
	"context"
	"time"

	"realtime_chat_service/pkg/config"
	errprocess "realtime_chat_service/pkg/err"
	"realtime_chat_service/pkg/logger"
	"realtime_chat_service/pkg/metrics"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// withRetry run fn with bounded exponential backoff. Only retryable errors are
// retried; when retries run out the last error surfaces as Transient.
func withRetry(ctx context.Context, policy config.Retry, op string, fn func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.InitialInterval
	eb.MaxInterval = policy.MaxInterval
	eb.MaxElapsedTime = policy.MaxElapsed

	var b backoff.BackOff = eb
	if policy.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, uint64(policy.MaxRetries))
	}
	b = backoff.WithContext(b, ctx)

	err := backoff.RetryNotify(func() error {
		err := fn(ctx)
		if err != nil && !errprocess.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		metrics.Retries.Inc()
		logger.Log.Warn("retry", zap.String("op", op), zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil && errprocess.IsRetryable(err) {
		return errprocess.Wrap(errprocess.Transient, err)
	}
	return err
}
