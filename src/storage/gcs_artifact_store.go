package storage

import (
	"context"
	"io"
	"log/slog"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"github.com/cenkalti/backoff/v4"

	"signalbot/src/utils/errors"
)

type GCSArtifactStore struct {
	client         *storage.Client
	bucket         string
	prefix         string
	maxElapsedTime time.Duration
}

// NewGCSArtifactStore uses application default credentials.
func NewGCSArtifactStore(ctx context.Context, bucket, prefix string) (*GCSArtifactStore, error) {
	if bucket == "" {
		return nil, errors.New("artifact bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create storage client")
	}
	slog.Info("Using GCS artifact store", "bucket", bucket, "prefix", prefix)
	return &GCSArtifactStore{
		client:         client,
		bucket:         bucket,
		prefix:         prefix,
		maxElapsedTime: 30 * time.Second,
	}, nil
}

func (s *GCSArtifactStore) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(path.Join(s.prefix, key))
}

func (s *GCSArtifactStore) retry(ctx context.Context, operation backoff.Operation) error {
	backoffStrategy := backoff.NewExponentialBackOff()
	backoffStrategy.MaxElapsedTime = s.maxElapsedTime
	return backoff.Retry(operation, backoff.WithContext(backoffStrategy, ctx))
}

func (s *GCSArtifactStore) Put(ctx context.Context, key string, data []byte) error {
	operation := func() error {
		w := s.object(key).NewWriter(ctx)
		w.ContentType = "application/json"
		if _, err := w.Write(data); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	}
	if err := s.retry(ctx, operation); err != nil {
		return errors.Wrapf(err, "upload %s", key)
	}
	return nil
}

func (s *GCSArtifactStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	operation := func() error {
		reader, err := s.object(key).NewReader(ctx)
		if errors.Is(err, storage.ErrObjectNotExist) {
			return backoff.Permanent(errors.Wrapf(ErrArtifactNotFound, "%s", key))
		}
		if err != nil {
			return err
		}
		defer reader.Close()
		data, err = io.ReadAll(reader)
		return err
	}
	if err := s.retry(ctx, operation); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *GCSArtifactStore) Close() error {
	return s.client.Close()
}
