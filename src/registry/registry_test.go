package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbot/src/database"
	"signalbot/src/datamodels"
	"signalbot/src/signalmodel"
	"signalbot/src/storage"
	"signalbot/src/utils/testutil"
)

var fixedNow = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T) (*ModelRegistry, *database.MemoryDatabase) {
	db := database.NewMemoryDatabase()
	r := NewModelRegistry(db).
		WithModelConfig(datamodels.ModelConfig{BaselineType: signalmodel.ModelTypeMomentum, BaselineMetric: 0.5}).
		WithClock(func() time.Time { return fixedNow })
	return r, db
}

func trainedLogistic(t *testing.T) (datamodels.ModelVersion, signalmodel.SignalModel) {
	examples := testutil.SeparableExamples(100, testutil.ThreeInFive, 1)
	train, holdout := signalmodel.ChronologicalSplit(examples, 0.2)
	prototype, err := signalmodel.NewSignalModel(signalmodel.ModelTypeLogistic, 1, nil, signalmodel.DefaultHyperparameters())
	require.NoError(t, err)
	version, model, err := signalmodel.TrainCandidate(prototype, train, holdout, 42, fixedNow)
	require.NoError(t, err)
	return version, model
}

func TestCurrentBeforeInitialize(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Current()
	assert.ErrorIs(t, err, datamodels.ErrNoPromotedModel)
}

func TestInitializeSeedsBaseline(t *testing.T) {
	r, db := newTestRegistry(t)
	require.NoError(t, r.Initialize(context.Background()))

	current, err := r.Current()
	require.NoError(t, err)
	assert.Equal(t, signalmodel.ModelTypeMomentum, current.Model.GetType())
	assert.InDelta(t, 0.5, current.Version.EvaluationMetric, 1e-12)
	assert.True(t, current.Version.Promoted)

	stored, err := db.GetPromotedModelVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, current.Version.Id, stored.Id)

	// a second process finds the seeded version instead of seeding again
	other := NewModelRegistry(db)
	require.NoError(t, other.Initialize(context.Background()))
	otherCurrent, err := other.Current()
	require.NoError(t, err)
	assert.Equal(t, current.Version.Id, otherCurrent.Version.Id)

	versions, err := db.ListModelVersions(context.Background())
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestPromoteSwapsSnapshot(t *testing.T) {
	ctx := context.Background()
	r, db := newTestRegistry(t)
	require.NoError(t, r.Initialize(ctx))
	before, err := r.Current()
	require.NoError(t, err)

	version, model := trainedLogistic(t)
	require.NoError(t, r.Promote(ctx, &version, model))

	after, err := r.Current()
	require.NoError(t, err)
	assert.Greater(t, after.Version.Id, before.Version.Id)
	assert.Equal(t, signalmodel.ModelTypeLogistic, after.Model.GetType())
	// the old snapshot is untouched
	assert.Equal(t, signalmodel.ModelTypeMomentum, before.Model.GetType())

	stored, err := db.GetPromotedModelVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, after.Version.Id, stored.Id)
}

func TestRejectDoesNotSwap(t *testing.T) {
	ctx := context.Background()
	r, db := newTestRegistry(t)
	require.NoError(t, r.Initialize(ctx))
	before, _ := r.Current()

	version, _ := trainedLogistic(t)
	require.NoError(t, r.Reject(ctx, &version))

	after, _ := r.Current()
	assert.Equal(t, before.Version.Id, after.Version.Id)

	stored, err := db.GetModelVersion(ctx, version.Id)
	require.NoError(t, err)
	assert.True(t, stored.Rejected)
	assert.False(t, stored.Promoted)
}

func TestLoadDecodesStoredVersion(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)
	require.NoError(t, r.Initialize(ctx))

	version, model := trainedLogistic(t)
	require.NoError(t, r.Reject(ctx, &version))

	loaded, err := r.Load(ctx, version.Id)
	require.NoError(t, err)
	fv := datamodels.FeatureVector{SchemaVersion: 1, Values: make([]float64, 10)}
	fv.Values[testutil.InformativeFeature] = 0.5
	wantSide, wantConf := model.Score(fv)
	gotSide, gotConf := loaded.Model.Score(fv)
	assert.Equal(t, wantSide, gotSide)
	assert.InDelta(t, wantConf, gotConf, 1e-12)

	_, err = r.Load(ctx, 999)
	assert.ErrorIs(t, err, datamodels.ErrModelVersionNotFound)
}

func TestReloadPicksUpExternalPromotion(t *testing.T) {
	ctx := context.Background()
	r, db := newTestRegistry(t)
	require.NoError(t, r.Initialize(ctx))

	writer := NewModelRegistry(db)
	require.NoError(t, writer.Initialize(ctx))
	version, model := trainedLogistic(t)
	require.NoError(t, writer.Promote(ctx, &version, model))

	require.NoError(t, r.Reload(ctx))
	current, err := r.Current()
	require.NoError(t, err)
	assert.Equal(t, version.Id, current.Version.Id)
}

func TestConcurrentReadersDuringPromotion(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)
	require.NoError(t, r.Initialize(ctx))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				current, err := r.Current()
				if assert.NoError(t, err) {
					// version and model always belong together
					assert.Equal(t, current.Version.ModelType, current.Model.GetType())
				}
			}
		}()
	}

	for i := 0; i < 5; i++ {
		version, model := trainedLogistic(t)
		require.NoError(t, r.Promote(ctx, &version, model))
	}
	close(stop)
	wg.Wait()
}

func TestCloseFlushesArtifactUploads(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewFileArtifactStore(t.TempDir())
	require.NoError(t, err)

	r, _ := newTestRegistry(t)
	r.WithArtifactStore(store)
	require.NoError(t, r.Initialize(ctx))

	version, model := trainedLogistic(t)
	require.NoError(t, r.Promote(ctx, &version, model))
	require.NoError(t, r.Close(ctx))

	uploaded, err := storage.GetModelVersion(ctx, store, version.Id)
	require.NoError(t, err)
	assert.Equal(t, signalmodel.ModelTypeLogistic, uploaded.ModelType)
	assert.True(t, uploaded.Promoted)
}

func TestListenForPromotionsWithoutNotifications(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.ListenForPromotions(context.Background()))
	require.NoError(t, r.Close(context.Background()))
}
