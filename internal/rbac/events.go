package rbac

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ChangeChannel is the Redis channel carrying grant-table mutations to every
// running instance.
const ChangeChannel = "tallyard:rbac:changes"

// Tables referenced by change events.
const (
	TableRoles           = "roles"
	TableRolePermissions = "role_permissions"
	TableUserRoles       = "user_roles"
)

// Operations referenced by change events.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
	OpUpsert = "upsert"
)

// ChangeEvent describes one mutation of the RBAC tables.
type ChangeEvent struct {
	ID     string    `json:"id"`
	Table  string    `json:"table"`
	Op     string    `json:"op"`
	RoleID int64     `json:"role_id,omitempty"`
	UserID int64     `json:"user_id,omitempty"`
	At     time.Time `json:"at"`
}

// NewChangeEvent stamps identity and time onto an event.
func NewChangeEvent(table, op string, roleID, userID int64) ChangeEvent {
	return ChangeEvent{
		ID:     uuid.NewString(),
		Table:  table,
		Op:     op,
		RoleID: roleID,
		UserID: userID,
		At:     time.Now().UTC(),
	}
}

// Publisher broadcasts change events to other instances. A fake
// implementation keeps tests deterministic.
type Publisher interface {
	Publish(ctx context.Context, event ChangeEvent) error
}

// RedisPublisher publishes change events over Redis pub/sub.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher constructs a publisher on the shared Redis client.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish marshals and broadcasts the event.
func (p *RedisPublisher) Publish(ctx context.Context, event ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, ChangeChannel, payload).Err()
}
