package amqp

import (
	"context"
	"errors"
	"strings"
	"time"

	"settleup/internal/log"
)

const maxBackoff = 30 * time.Second

// Consumer is a connected client able to consume group changed messages.
type Consumer interface {
	ConsumeGroupChanged(ctx context.Context, prefetch int, handler Handler) error
	Close() error
}

// Dialer opens a fresh consumer connection.
type Dialer func() (Consumer, error)

// ConsumeWithReconnect keeps a consumer running until ctx is done, redialing
// with exponential backoff when the broker connection drops.
func ConsumeWithReconnect(ctx context.Context, dial Dialer, prefetch int, handler Handler, logger *log.Logger) error {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentAMQP)

	for attempt := 0; ; attempt++ {
		consumer, err := dial()
		if err == nil {
			attempt = 0
			err = consumer.ConsumeGroupChanged(ctx, prefetch, handler)
			consumer.Close()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isConnectionError(err) {
			return err
		}

		wait := exponentialBackoff(attempt)
		logger.WarnContext(ctx, "AMQP connection lost, reconnecting", log.FieldError, err, "retry_in", wait.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Second << uint(attempt)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errChannelClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused",
		"connection closed",
		"connection reset",
		"channel/connection is not open",
		"eof",
		"broken pipe",
		"use of closed network connection",
		"message channel closed",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
