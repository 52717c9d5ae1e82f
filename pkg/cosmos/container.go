// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package cosmos

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Provisioner creates a database and a collection if they do not exist yet.
type Provisioner interface {
	CreateDatabaseIfNotExists(ctx context.Context, id string) error
	CreateCollectionIfNotExists(ctx context.Context, database, id string) error
}

// Ensurer provisions one database/collection pair lazily. The first success
// is remembered for the lifetime of the process; failures are not, so the
// next caller tries again. Concurrent first-time callers share one attempt.
type Ensurer struct {
	provisioner Provisioner
	database    string
	collection  string

	ready atomic.Bool
	group singleflight.Group
}

// NewEnsurer returns an Ensurer for database/collection.
func NewEnsurer(p Provisioner, database, collection string) *Ensurer {
	return &Ensurer{provisioner: p, database: database, collection: collection}
}

// Ensure makes sure the database and collection exist.
func (e *Ensurer) Ensure(ctx context.Context) error {
	if e.ready.Load() {
		return nil
	}

	// The shared attempt must not be aborted because the caller that happened
	// to start it went away; the client timeout still bounds it.
	shared := context.WithoutCancel(ctx)
	_, err, _ := e.group.Do(e.database+"/"+e.collection, func() (any, error) {
		if e.ready.Load() {
			return nil, nil
		}
		if err := e.provisioner.CreateDatabaseIfNotExists(shared, e.database); err != nil {
			return nil, fmt.Errorf("ensure database: %w", err)
		}
		if err := e.provisioner.CreateCollectionIfNotExists(shared, e.database, e.collection); err != nil {
			return nil, fmt.Errorf("ensure collection: %w", err)
		}
		e.ready.Store(true)
		return nil, nil
	})
	return err
}

// Reset forgets a previous success so the next Ensure provisions again.
func (e *Ensurer) Reset() {
	e.ready.Store(false)
}

// Container is a collection handle that provisions itself on first use.
type Container struct {
	client     *Client
	ensurer    *Ensurer
	database   string
	collection string
}

// Container returns a handle on database/collection. Nothing is sent to the
// service until the first item operation.
func (c *Client) Container(database, collection string) *Container {
	return &Container{
		client:     c,
		ensurer:    NewEnsurer(c, database, collection),
		database:   database,
		collection: collection,
	}
}

// CreateItem ensures the container exists and stores item. An item without
// an id, or with an empty one, gets a random UUID.
func (c *Container) CreateItem(ctx context.Context, item map[string]any) (json.RawMessage, error) {
	if id, ok := item["id"]; !ok || id == "" {
		item["id"] = uuid.NewString()
	}
	return withContainer(ctx, c, func() (json.RawMessage, error) {
		return c.client.CreateDocument(ctx, c.database, c.collection, item)
	})
}

// QueryItems ensures the container exists and returns every document
// matched by query.
func (c *Container) QueryItems(ctx context.Context, query string) ([]json.RawMessage, error) {
	return withContainer(ctx, c, func() ([]json.RawMessage, error) {
		return c.client.QueryDocuments(ctx, c.database, c.collection, query)
	})
}

// withContainer runs op once the container is provisioned. A 404 means the
// database or collection was removed behind our back: provision again and
// retry op once.
func withContainer[T any](ctx context.Context, c *Container, op func() (T, error)) (T, error) {
	var zero T
	if err := c.ensurer.Ensure(ctx); err != nil {
		return zero, err
	}
	result, err := op()
	if !IsNotFound(err) {
		return result, err
	}

	c.client.logger.Warn().
		Err(err).
		Str("database", c.database).
		Str("collection", c.collection).
		Msg("container vanished; provisioning again")
	c.ensurer.Reset()
	if err := c.ensurer.Ensure(ctx); err != nil {
		return zero, err
	}
	return op()
}
