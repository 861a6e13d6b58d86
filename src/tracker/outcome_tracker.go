// Package tracker resolves open signals into terminal outcomes and turns
// wins and losses into training examples.
package tracker

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"time"

	"signalbot/src/database"
	"signalbot/src/datamodels"
	"signalbot/src/metrics"
	"signalbot/src/utils/errors"
)

type OutcomeTracker struct {
	name          string
	db            database.SignalDb
	metricsWriter metrics.MetricsWriter
}

func NewOutcomeTracker(db database.SignalDb) *OutcomeTracker {
	return &OutcomeTracker{name: "outcome_tracker", db: db}
}

func (t *OutcomeTracker) WithMetricsWriter(writer metrics.MetricsWriter) *OutcomeTracker {
	t.metricsWriter = writer
	return t
}

// ResolveAtPrice decides the outcome of signal given an observed price at time at.
// A price observed at or after ExpiresAt expires the signal whatever its level.
// ok is false when the price is between the levels and the signal has not expired.
func ResolveAtPrice(signal *datamodels.Signal, price float64, at time.Time) (status datamodels.SignalStatus, ok bool) {
	if !at.Before(signal.ExpiresAt) {
		return datamodels.SignalStatusExpired, true
	}
	switch signal.Side {
	case datamodels.DirectionLong:
		if price >= signal.TakeProfit {
			return datamodels.SignalStatusClosedWin, true
		}
		if price <= signal.StopLoss {
			return datamodels.SignalStatusClosedLoss, true
		}
	case datamodels.DirectionShort:
		if price <= signal.TakeProfit {
			return datamodels.SignalStatusClosedWin, true
		}
		if price >= signal.StopLoss {
			return datamodels.SignalStatusClosedLoss, true
		}
	}
	return "", false
}

// EvaluateBar applies first-touch resolution against one bar. When a bar spans
// both levels the stop wins, since the order inside the bar is unknown.
// ok is false when neither level was touched; expiry is left to the caller.
func EvaluateBar(signal *datamodels.Signal, bar datamodels.Bar) (status datamodels.SignalStatus, exitPrice float64, ok bool) {
	switch signal.Side {
	case datamodels.DirectionLong:
		if bar.Low <= signal.StopLoss {
			return datamodels.SignalStatusClosedLoss, signal.StopLoss, true
		}
		if bar.High >= signal.TakeProfit {
			return datamodels.SignalStatusClosedWin, signal.TakeProfit, true
		}
	case datamodels.DirectionShort:
		if bar.High >= signal.StopLoss {
			return datamodels.SignalStatusClosedLoss, signal.StopLoss, true
		}
		if bar.Low <= signal.TakeProfit {
			return datamodels.SignalStatusClosedWin, signal.TakeProfit, true
		}
	}
	return "", 0, false
}

// RecordOutcome resolves signalId against price. Wins and losses return the
// appended training example; an expiry returns nil, nil.
func (t *OutcomeTracker) RecordOutcome(ctx context.Context, signalId string, price float64, at time.Time) (*datamodels.TrainingExample, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return nil, errors.Newf("invalid outcome price %v", price)
	}

	signal, err := t.db.GetSignal(ctx, signalId)
	if err != nil {
		return nil, err
	}
	if signal.Status.IsTerminal() {
		return nil, errors.Wrapf(datamodels.ErrAlreadyResolved, "%s is %s", signalId, signal.Status)
	}

	status, ok := ResolveAtPrice(signal, price, at)
	if !ok {
		return nil, errors.Wrapf(datamodels.ErrOutcomeUndetermined,
			"%s: price %v between stop %v and target %v", signalId, price, signal.StopLoss, signal.TakeProfit)
	}

	resolution := datamodels.SignalResolution{
		SignalId:        signalId,
		Status:          status,
		ResolutionPrice: price,
		ResolvedAt:      at,
	}

	var example *datamodels.TrainingExample
	if status != datamodels.SignalStatusExpired {
		example = exampleFor(signal, status, at)
	}

	if err := t.db.ResolveSignal(ctx, resolution, example); err != nil {
		return nil, err
	}

	slog.Info("Signal resolved", "id", signalId, "status", status, "price", price, "side", signal.Side)
	t.record(ctx, signal, resolution)
	return example, nil
}

// ExpireStale moves every OPEN signal whose expiry has passed to EXPIRED at its
// entry price. It returns how many were expired.
func (t *OutcomeTracker) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	stale, err := t.db.ListSignals(ctx, database.SignalFilter{
		Statuses:      []datamodels.SignalStatus{datamodels.SignalStatusOpen},
		ExpiresBefore: &now,
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range stale {
		signal := &stale[i]
		resolution := datamodels.SignalResolution{
			SignalId:        signal.Id,
			Status:          datamodels.SignalStatusExpired,
			ResolutionPrice: signal.EntryPrice,
			ResolvedAt:      now,
		}
		err := t.db.ResolveSignal(ctx, resolution, nil)
		if errors.Is(err, datamodels.ErrAlreadyResolved) {
			// resolved by a concurrent RecordOutcome
			continue
		}
		if err != nil {
			return expired, err
		}
		expired++
		t.record(ctx, signal, resolution)
	}
	if expired > 0 {
		slog.Info("Expired stale signals", "count", expired)
	}
	return expired, nil
}

func exampleFor(signal *datamodels.Signal, status datamodels.SignalStatus, at time.Time) *datamodels.TrainingExample {
	label := datamodels.LabelLost
	if status == datamodels.SignalStatusClosedWin {
		label = datamodels.LabelWon
	}
	return &datamodels.TrainingExample{
		SignalId:               signal.Id,
		Symbol:                 signal.Symbol,
		Timeframe:              signal.Timeframe,
		Side:                   signal.Side,
		Features:               slices.Clone(signal.Features),
		SchemaVersion:          signal.SchemaVersion,
		Label:                  label,
		ModelVersionAtEmission: signal.ModelVersion,
		CreatedAt:              at,
	}
}

func (t *OutcomeTracker) record(ctx context.Context, signal *datamodels.Signal, resolution datamodels.SignalResolution) {
	metrics.OutcomesRecorded.WithLabelValues(string(resolution.Status)).Inc()
	metrics.Emit(ctx, t.metricsWriter, t.name, datamodels.MetricGeneratorTypeTracker, "outcome", resolution.ResolvedAt, map[string]any{
		"signal_id":     resolution.SignalId,
		"symbol":        signal.Symbol,
		"side":          signal.Side,
		"status":        resolution.Status,
		"price":         resolution.ResolutionPrice,
		"return":        signal.ReturnAt(resolution.ResolutionPrice),
		"model_version": signal.ModelVersion,
	})
}
