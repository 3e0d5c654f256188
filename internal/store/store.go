// Package store defines the table store contract shared by the backends.
package store

import (
	"context"
	"errors"
	"sync"

	"bwmon/internal/model"
)

var (
	// ErrUnavailable covers transport and authentication failures.
	ErrUnavailable = errors.New("table store unavailable")
	// ErrRejected means the backend refused the request (bad payload,
	// quota, validation).
	ErrRejected = errors.New("table store rejected request")
)

// TableStore is a named collection of append-only tables.
type TableStore interface {
	TableExists(ctx context.Context, name string) (bool, error)
	CreateTable(ctx context.Context, name string) error
	AppendRows(ctx context.Context, name string, rows []model.Row) error
}

// Cached remembers tables known to exist so repeated existence checks in a
// run skip the backend. Only positive answers are kept.
type Cached struct {
	next  TableStore
	mu    sync.Mutex
	known map[string]struct{}
}

func NewCached(next TableStore) *Cached {
	return &Cached{next: next, known: map[string]struct{}{}}
}

func (c *Cached) TableExists(ctx context.Context, name string) (bool, error) {
	c.mu.Lock()
	_, ok := c.known[name]
	c.mu.Unlock()
	if ok {
		return true, nil
	}

	exists, err := c.next.TableExists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		c.remember(name)
	}
	return exists, nil
}

func (c *Cached) CreateTable(ctx context.Context, name string) error {
	if err := c.next.CreateTable(ctx, name); err != nil {
		return err
	}
	c.remember(name)
	return nil
}

func (c *Cached) AppendRows(ctx context.Context, name string, rows []model.Row) error {
	return c.next.AppendRows(ctx, name, rows)
}

func (c *Cached) remember(name string) {
	c.mu.Lock()
	c.known[name] = struct{}{}
	c.mu.Unlock()
}
