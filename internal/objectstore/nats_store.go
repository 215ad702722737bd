// Package objectstore stores speaker files and preview audio in NATS JetStream
// object store buckets.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrObjectNotFound is returned when a key does not exist in the bucket.
var ErrObjectNotFound = errors.New("object not found")

// NatsObjectStore implements core.ObjectStore on a single JetStream bucket.
type NatsObjectStore struct {
	bucket string
	store  nats.ObjectStore
}

// New creates the bucket, or binds to it when it already exists.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsObjectStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("speaker-forge %s bucket", bucketName),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsObjectStore{bucket: bucketName, store: store}, nil
}

// Bucket returns the bucket name.
func (n *NatsObjectStore) Bucket() string {
	return n.bucket
}

// Download retrieves an object.
func (n *NatsObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	data, err := n.store.GetBytes(key, nats.Context(ctx))
	if err != nil {
		return nil, n.wrap("get", key, err)
	}

	return data, nil
}

// Upload saves an object, replacing any previous object under the same key.
func (n *NatsObjectStore) Upload(ctx context.Context, key string, data []byte) error {
	_, err := n.store.Put(&nats.ObjectMeta{Name: key}, bytes.NewReader(data), nats.Context(ctx))
	if err != nil {
		return n.wrap("put", key, err)
	}

	return nil
}

// Delete removes an object.
func (n *NatsObjectStore) Delete(_ context.Context, key string) error {
	err := n.store.Delete(key)
	if err != nil {
		return n.wrap("delete", key, err)
	}

	return nil
}

// List returns the sorted keys of all live objects in the bucket.
func (n *NatsObjectStore) List(ctx context.Context) ([]string, error) {
	infos, err := n.store.List(nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrNoObjectsFound) {
			return []string{}, nil
		}

		return nil, fmt.Errorf("failed to list bucket '%s': %w", n.bucket, err)
	}

	keys := make([]string, 0, len(infos))

	for _, info := range infos {
		if !info.Deleted {
			keys = append(keys, info.Name)
		}
	}

	slices.Sort(keys)

	return keys, nil
}

func (n *NatsObjectStore) wrap(op, key string, err error) error {
	if errors.Is(err, nats.ErrObjectNotFound) {
		return fmt.Errorf("failed to %s object '%s' in bucket '%s': %w", op, key, n.bucket, ErrObjectNotFound)
	}

	return fmt.Errorf("failed to %s object '%s' in bucket '%s': %w", op, key, n.bucket, err)
}
