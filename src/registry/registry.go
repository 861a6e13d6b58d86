// Package registry owns the process-wide promoted model. There is one writer
// (retraining or a reload) and any number of readers; readers load an
// immutable snapshot and never block.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"signalbot/src/database"
	"signalbot/src/datamodels"
	"signalbot/src/metrics"
	"signalbot/src/signalmodel"
	"signalbot/src/storage"
	"signalbot/src/utils/errors"
)

// PromotedModel pairs a stored version with its decoded model.
type PromotedModel struct {
	Version datamodels.ModelVersion
	Model   signalmodel.SignalModel
}

type ModelRegistry struct {
	db              database.ModelVersionDb
	artifacts       storage.ArtifactStore
	hyperparameters signalmodel.Hyperparameters
	baselineType    string
	baselineMetric  float64
	schemaVersion   int
	clock           func() time.Time

	current  atomic.Pointer[PromotedModel]
	writeMu  sync.Mutex
	uploads  sync.WaitGroup
	listenMu sync.Mutex
	cancel   context.CancelFunc
}

func NewModelRegistry(db database.ModelVersionDb) *ModelRegistry {
	return &ModelRegistry{
		db:              db,
		hyperparameters: signalmodel.DefaultHyperparameters(),
		baselineType:    signalmodel.ModelTypeMomentum,
		baselineMetric:  0.5,
		schemaVersion:   1,
		clock:           time.Now,
	}
}

func (r *ModelRegistry) WithArtifactStore(store storage.ArtifactStore) *ModelRegistry {
	r.artifacts = store
	return r
}

func (r *ModelRegistry) WithModelConfig(config datamodels.ModelConfig) *ModelRegistry {
	r.hyperparameters = signalmodel.Hyperparameters{
		Epochs:       config.Epochs,
		LearningRate: config.LearningRate,
		L2:           config.L2,
		NeutralBand:  config.NeutralBand,
	}
	if config.BaselineType != "" {
		r.baselineType = config.BaselineType
	}
	r.baselineMetric = config.BaselineMetric
	return r
}

func (r *ModelRegistry) WithSchemaVersion(schemaVersion int) *ModelRegistry {
	r.schemaVersion = schemaVersion
	return r
}

func (r *ModelRegistry) WithClock(clock func() time.Time) *ModelRegistry {
	r.clock = clock
	return r
}

func (r *ModelRegistry) Hyperparameters() signalmodel.Hyperparameters {
	return r.hyperparameters
}

// Initialize loads the promoted version, seeding an untrained baseline when the
// store has none.
func (r *ModelRegistry) Initialize(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	version, err := r.db.GetPromotedModelVersion(ctx)
	switch {
	case err == nil:
		model, err := r.decode(*version)
		if err != nil {
			return err
		}
		r.swap(&PromotedModel{Version: *version, Model: model})
		slog.Info("Loaded promoted model", "version", version.Id, "type", version.ModelType, "metric", version.EvaluationMetric)
		return nil
	case !errors.Is(err, datamodels.ErrNoPromotedModel):
		return errors.Wrap(err, "load promoted model")
	}

	model, err := signalmodel.NewSignalModel(r.baselineType, r.schemaVersion, nil, r.hyperparameters)
	if err != nil {
		return err
	}
	params, err := model.Parameters()
	if err != nil {
		return err
	}
	seed := datamodels.ModelVersion{
		ModelType:        model.GetType(),
		SchemaVersion:    model.SchemaVersion(),
		Parameters:       params,
		TrainedAt:        r.clock(),
		EvaluationMetric: r.baselineMetric,
	}
	if err := r.promoteLocked(ctx, &seed, model); err != nil {
		return errors.Wrap(err, "seed baseline model")
	}
	slog.Info("Seeded baseline model", "version", seed.Id, "type", seed.ModelType)
	return nil
}

// Current returns the promoted snapshot. The snapshot is never mutated.
func (r *ModelRegistry) Current() (*PromotedModel, error) {
	current := r.current.Load()
	if current == nil {
		return nil, datamodels.ErrNoPromotedModel
	}
	return current, nil
}

// Promote persists version, makes it the single promoted version and swaps it in.
// version.Id is assigned by the store.
func (r *ModelRegistry) Promote(ctx context.Context, version *datamodels.ModelVersion, model signalmodel.SignalModel) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.promoteLocked(ctx, version, model)
}

func (r *ModelRegistry) promoteLocked(ctx context.Context, version *datamodels.ModelVersion, model signalmodel.SignalModel) error {
	if err := r.db.CreateModelVersion(ctx, version); err != nil {
		return errors.Wrap(err, "persist model version")
	}
	promotedAt := r.clock()
	if err := r.db.PromoteModelVersion(ctx, version.Id, promotedAt); err != nil {
		return errors.Wrap(err, "promote model version")
	}
	version.Promoted = true
	version.PromotedAt = &promotedAt

	r.swap(&PromotedModel{Version: *version, Model: model})
	r.scheduleUpload(*version)
	return nil
}

// Reject records a candidate that lost against the baseline.
func (r *ModelRegistry) Reject(ctx context.Context, version *datamodels.ModelVersion) error {
	version.Rejected = true
	if err := r.db.CreateModelVersion(ctx, version); err != nil {
		return errors.Wrap(err, "persist rejected model version")
	}
	return nil
}

// Load decodes any stored version.
func (r *ModelRegistry) Load(ctx context.Context, id int64) (*PromotedModel, error) {
	version, err := r.db.GetModelVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	model, err := r.decode(*version)
	if err != nil {
		return nil, err
	}
	return &PromotedModel{Version: *version, Model: model}, nil
}

// Reload re-reads the promoted version, picking up promotions made elsewhere.
func (r *ModelRegistry) Reload(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	version, err := r.db.GetPromotedModelVersion(ctx)
	if err != nil {
		return err
	}
	if current := r.current.Load(); current != nil && current.Version.Id == version.Id {
		return nil
	}
	model, err := r.decode(*version)
	if err != nil {
		return err
	}
	r.swap(&PromotedModel{Version: *version, Model: model})
	slog.Info("Reloaded promoted model", "version", version.Id, "type", version.ModelType)
	return nil
}

// ListenForPromotions reloads whenever another process promotes a version.
// It is a no-op for stores without notifications.
func (r *ModelRegistry) ListenForPromotions(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	promotions, err := r.db.SubscribePromotions(ctx)
	if err != nil {
		cancel()
		return err
	}
	if promotions == nil {
		cancel()
		return nil
	}

	r.listenMu.Lock()
	r.cancel = cancel
	r.listenMu.Unlock()

	go func() {
		for id := range promotions {
			if err := r.Reload(ctx); err != nil {
				slog.Warn("Failed to reload after promotion", "notified", id, "error", err)
			}
		}
	}()
	return nil
}

// Close stops listening and waits for artifact uploads.
func (r *ModelRegistry) Close(ctx context.Context) error {
	r.listenMu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.listenMu.Unlock()

	done := make(chan struct{})
	go func() {
		r.uploads.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "artifact uploads still pending")
	}
}

func (r *ModelRegistry) decode(version datamodels.ModelVersion) (signalmodel.SignalModel, error) {
	model, err := signalmodel.NewSignalModel(version.ModelType, version.SchemaVersion, version.Parameters, r.hyperparameters)
	if err != nil {
		return nil, errors.Wrapf(err, "decode model version %d", version.Id)
	}
	return model, nil
}

func (r *ModelRegistry) swap(promoted *PromotedModel) {
	r.current.Store(promoted)
	metrics.PromotedModelVersion.Set(float64(promoted.Version.Id))
	metrics.PromotedModelMetric.Set(promoted.Version.EvaluationMetric)
}

func (r *ModelRegistry) scheduleUpload(version datamodels.ModelVersion) {
	if r.artifacts == nil {
		return
	}
	r.uploads.Add(1)
	go func() {
		defer r.uploads.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := storage.PutModelVersion(ctx, r.artifacts, version); err != nil {
			slog.Error("Failed to upload model artifact", "version", version.Id, "error", err)
			return
		}
		slog.Info("Uploaded model artifact", "version", version.Id, "key", storage.ModelArtifactKey(version.Id))
	}()
}
