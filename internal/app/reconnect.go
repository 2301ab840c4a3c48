package app

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"termchat/internal/session"
)

type Connector interface {
	ConnectMessageStream(ctx context.Context) error
}

// ReconnectPolicy bounds stream reconnects after the server closes it.
type ReconnectPolicy struct {
	Attempts        uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultReconnectPolicy(attempts int) ReconnectPolicy {
	return ReconnectPolicy{
		Attempts:        uint64(attempts),
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Reconnect redials the message stream with exponential backoff. Losing the
// session stops it at once; there is nothing a retry could fix.
func Reconnect(ctx context.Context, c Connector, policy ReconnectPolicy, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.InitialInterval
	exp.MaxInterval = policy.MaxInterval
	exp.MaxElapsedTime = 0

	var b backoff.BackOff = exp
	if policy.Attempts > 0 {
		b = backoff.WithMaxRetries(b, policy.Attempts-1)
	}
	b = backoff.WithContext(b, ctx)

	attempt := 0
	op := func() error {
		attempt++
		err := c.ConnectMessageStream(ctx)
		if errors.Is(err, session.ErrUnauthenticated) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("stream reconnect failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return err
	}
	logger.Info("stream reconnected", zap.Int("attempts", attempt))
	return nil
}
