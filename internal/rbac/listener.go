package rbac

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Listener subscribes to the change channel and fans events out to
// registered handlers. More than one administrator session may edit
// permissions concurrently; without this, a revoked user keeps seeing gated
// screens until an unrelated reload.
type Listener struct {
	client *redis.Client
	logger *slog.Logger
}

// NewListener constructs a Listener on the shared Redis client.
func NewListener(client *redis.Client, logger *slog.Logger) *Listener {
	return &Listener{client: client, logger: logger}
}

// Subscribe starts consuming change events and invokes fn for each one. It
// returns a stop function owned by the caller; the subscription lives until
// stop is called or ctx is cancelled.
func (l *Listener) Subscribe(ctx context.Context, fn func(ChangeEvent)) (func(), error) {
	sub := l.client.Subscribe(ctx, ChangeChannel)
	// Force the subscription handshake so a dead Redis surfaces here, not on
	// the first missed event.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	var once sync.Once
	done := make(chan struct{})
	stop := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				stop()
				return
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					if l.logger != nil {
						l.logger.Warn("rbac listener: drop malformed event", slog.Any("error", err))
					}
					continue
				}
				fn(event)
			}
		}
	}()

	return stop, nil
}

// AttachEvaluator maps change events onto evaluator cache invalidation and
// returns the subscription's stop handle.
func (l *Listener) AttachEvaluator(ctx context.Context, ev *Evaluator) (func(), error) {
	return l.Subscribe(ctx, func(event ChangeEvent) {
		switch event.Table {
		case TableRolePermissions:
			ev.InvalidateRole(event.RoleID)
		case TableUserRoles:
			ev.InvalidateUser(event.UserID)
		case TableRoles:
			// Role mutations can affect any cached resolution.
			ev.Reset()
		default:
			if l.logger != nil {
				l.logger.Debug("rbac listener: ignore event", slog.String("table", event.Table))
			}
		}
	})
}
