package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ObjectStore keeps artifacts in a NATS JetStream object store bucket.
type ObjectStore struct {
	store  nats.ObjectStore
	bucket string
}

// NewObjectStore creates the bucket, or binds to it if it already exists.
func NewObjectStore(js nats.JetStreamContext, bucket string) (*ObjectStore, error) {
	store, err := js.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucket,
		Description: "Synthesized feedback audio.",
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("artifact: create object store %q: %w", bucket, err)
		}
		store, err = js.ObjectStore(bucket)
		if err != nil {
			return nil, fmt.Errorf("artifact: bind object store %q: %w", bucket, err)
		}
	}
	return &ObjectStore{store: store, bucket: bucket}, nil
}

// Put uploads data under key.
func (s *ObjectStore) Put(ctx context.Context, key string, data []byte) (Locator, error) {
	_, err := s.store.Put(&nats.ObjectMeta{Name: key}, bytes.NewReader(data), nats.Context(ctx))
	if err != nil {
		return "", fmt.Errorf("artifact: put %s: %w", key, err)
	}
	return Locator(fmt.Sprintf("nats://%s/%s", s.bucket, key)), nil
}

// Open streams the object.
func (s *ObjectStore) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	obj, err := s.store.Get(key, nats.Context(ctx))
	if errors.Is(err, nats.ErrObjectNotFound) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("artifact: get %s: %w", key, err)
	}
	info, err := obj.Info()
	if err != nil {
		obj.Close()
		return nil, 0, err
	}
	return obj, int64(info.Size), nil
}

// Size reads the object's metadata.
func (s *ObjectStore) Size(ctx context.Context, key string) (int64, error) {
	info, err := s.store.GetInfo(key, nats.Context(ctx))
	if errors.Is(err, nats.ErrObjectNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("artifact: info %s: %w", key, err)
	}
	return int64(info.Size), nil
}

// Rename copies the object to its new name and deletes the old one.
// Object stores have no rename, so a reader may briefly see both.
func (s *ObjectStore) Rename(ctx context.Context, from, to string) (Locator, error) {
	data, err := s.store.GetBytes(from, nats.Context(ctx))
	if errors.Is(err, nats.ErrObjectNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("artifact: get %s: %w", from, err)
	}
	loc, err := s.Put(ctx, to, data)
	if err != nil {
		return "", err
	}
	if err := s.Delete(ctx, from); err != nil {
		return "", err
	}
	return loc, nil
}

// Delete removes the object.
func (s *ObjectStore) Delete(_ context.Context, key string) error {
	if err := s.store.Delete(key); err != nil && !errors.Is(err, nats.ErrObjectNotFound) {
		return fmt.Errorf("artifact: delete %s: %w", key, err)
	}
	return nil
}

// Close does nothing; the caller owns the NATS connection.
func (s *ObjectStore) Close() error { return nil }

var _ Store = (*ObjectStore)(nil)
