// Package bootstrap builds the storage, object-store, and queue backends
// every crashvault binary needs from one loaded Config. The object store and
// the queue fall back to their in-memory backends when left unconfigured;
// the metadata store is always Postgres.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/crashvault/crashvault/internal/config"
	"github.com/crashvault/crashvault/internal/objectstore"
	objectmemory "github.com/crashvault/crashvault/internal/objectstore/memory"
	"github.com/crashvault/crashvault/internal/objectstore/s3"
	"github.com/crashvault/crashvault/internal/queue"
	queuememory "github.com/crashvault/crashvault/internal/queue/memory"
	"github.com/crashvault/crashvault/internal/queue/redisqueue"
	"github.com/crashvault/crashvault/internal/service"
	"github.com/crashvault/crashvault/internal/store"
)

// Resources is every shared backend a crashvault binary opens at startup.
type Resources struct {
	Store   service.AdminStorer
	Objects objectstore.Store
	Queue   queue.Queue

	redisClient *redis.Client
}

// Close releases every backend that owns a live connection.
func (r *Resources) Close() error {
	if err := r.Store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	if err := r.Queue.Close(); err != nil {
		return fmt.Errorf("close queue: %w", err)
	}
	if r.redisClient != nil {
		return r.redisClient.Close()
	}
	return nil
}

// New opens the metadata repository, object store, and processing queue
// cfg describes.
func New(ctx context.Context, cfg *config.Config) (*Resources, error) {
	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	objects, err := newObjectStore(ctx, cfg.ObjectStore)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open object store: %w", err)
	}

	q, redisClient, err := newQueue(cfg.Queue)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open queue: %w", err)
	}

	return &Resources{Store: st, Objects: objects, Queue: q, redisClient: redisClient}, nil
}

func newObjectStore(ctx context.Context, cfg config.ObjectStore) (objectstore.Store, error) {
	if cfg.Bucket == "" {
		return objectmemory.New(), nil
	}

	return s3.New(ctx, s3.Config{
		Bucket:          cfg.Bucket,
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		UsePathStyle:    cfg.UsePathStyle,
	})
}

func newQueue(cfg config.Queue) (queue.Queue, *redis.Client, error) {
	if cfg.Addr == "" {
		return queuememory.New(256), nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return redisqueue.New(client, cfg.Key), client, nil
}
