package database

import "signalbot/src/datamodels"

var DbTables = []interface{}{
	&datamodels.Bar{},
	&datamodels.Signal{},
	&datamodels.TrainingExample{},
	&datamodels.ModelVersion{},
	&datamodels.BacktestResult{},
	&datamodels.Metric{},
	&datamodels.MetricGenerator{},
}
