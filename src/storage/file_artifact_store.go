package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"signalbot/src/utils/errors"
)

type FileArtifactStore struct {
	dir string
}

func NewFileArtifactStore(dir string) (*FileArtifactStore, error) {
	if dir == "" {
		return nil, errors.New("artifact dir is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create artifact dir")
	}
	return &FileArtifactStore{dir: dir}, nil
}

func (s *FileArtifactStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", errors.Newf("invalid artifact key %q", key)
	}
	return filepath.Join(s.dir, clean), nil
}

// Put writes through a temp file and rename so readers never see a partial artifact.
func (s *FileArtifactStore) Put(ctx context.Context, key string, data []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create artifact subdir")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*")
	if err != nil {
		return errors.Wrap(err, "create temp artifact")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "write artifact")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "close artifact")
	}
	return os.Rename(tmp.Name(), path)
}

func (s *FileArtifactStore) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrArtifactNotFound, "%s", key)
	}
	return data, err
}

func (s *FileArtifactStore) Close() error {
	return nil
}
