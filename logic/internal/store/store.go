// Package store defines the logic tier's persistence interface and provides
// SQLite and PostgreSQL implementations. It backs the membership queries the
// edge nodes make on connect and the message archive.
package store

import (
	"context"
	"fmt"
	"time"
)

// Message is an archived message.
type Message struct {
	ID          string
	Ns          string // wire discriminator of the archived packet
	From        string
	To          string // uid or group id depending on Ns
	Kind        string
	Content     string
	ContentType string
	CreatedAt   time.Time
}

// Store is the persistence interface consumed by the logic tier.
type Store interface {
	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	CountMessages(ctx context.Context) (int64, error)

	// Group membership
	GroupsOfUser(ctx context.Context, uid string) ([]string, error)
	MembersOfGroup(ctx context.Context, gid string) ([]string, error)
	AddGroupMember(ctx context.Context, gid, uid string) error
	RemoveGroupMember(ctx context.Context, gid, uid string) error

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// New creates a store for the configured driver.
func New(driver, dsn string) (Store, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}
