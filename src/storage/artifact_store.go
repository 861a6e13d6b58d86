// Package storage keeps serialized model versions outside the database so a
// promoted model can be audited or restored without a database dump.
package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"signalbot/src/datamodels"
	"signalbot/src/utils/errors"
)

var ErrArtifactNotFound = errors.New("artifact not found")

type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Close() error
}

func ModelArtifactKey(versionId int64) string {
	return fmt.Sprintf("models/v%06d.json", versionId)
}

// PutModelVersion writes the full version row, parameters included.
func PutModelVersion(ctx context.Context, store ArtifactStore, version datamodels.ModelVersion) error {
	data, err := json.MarshalIndent(version, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "marshal model version %d", version.Id)
	}
	return store.Put(ctx, ModelArtifactKey(version.Id), data)
}

func GetModelVersion(ctx context.Context, store ArtifactStore, versionId int64) (*datamodels.ModelVersion, error) {
	data, err := store.Get(ctx, ModelArtifactKey(versionId))
	if err != nil {
		return nil, err
	}
	var version datamodels.ModelVersion
	if err := json.Unmarshal(data, &version); err != nil {
		return nil, errors.Wrapf(err, "decode model version %d", versionId)
	}
	return &version, nil
}

// NewArtifactStore returns nil for the none driver.
func NewArtifactStore(ctx context.Context, config datamodels.ArtifactConfig) (ArtifactStore, error) {
	switch config.Driver {
	case datamodels.ArtifactDriverNone, "":
		return nil, nil
	case datamodels.ArtifactDriverFile:
		return NewFileArtifactStore(config.Dir)
	case datamodels.ArtifactDriverGCS:
		return NewGCSArtifactStore(ctx, config.Bucket, config.Prefix)
	default:
		return nil, errors.Newf("unknown artifact driver %q", config.Driver)
	}
}
