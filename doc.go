// Package bookingcancel trains and serves a hotel booking cancellation
// classifier.
//
// The training pipeline reads a raw booking CSV, splits it with a fixed seed,
// encodes it, balances the training partition with SMOTE, keeps the most
// important features of a random forest and tunes a gradient boosted tree
// classifier with a randomized cross-validated search. Everything inference
// needs is written to a single msgpack artifact.
//
// # Quick Start
//
//	bookingcancel --config config/config.yaml train
//	bookingcancel --config config/config.yaml predict --record booking.json
//
// Or from Go:
//
//	cfg, err := config.LoadFromFile("config/config.yaml")
//	if err != nil {
//	    return err
//	}
//	p, err := pipeline.New(cfg)
//	if err != nil {
//	    return err
//	}
//	summary, err := p.Run(ctx)
//
//	pred, err := predict.Load(cfg.Paths.Model)
//	out, err := pred.Predict(ctx, predict.Record{"lead time": 224, "room type": "Room_Type 1", ...})
//
// # Packages
//
//   - config: typed YAML/JSON configuration with validation
//   - dataset: raw string frames, numeric tables, CSV and Parquet IO
//   - ingestion: raw loading, duplicate removal and seeded train/test split
//   - preprocessing: category mappings, forward fill, skew correction
//   - sklearn/oversampling: SMOTE
//   - sklearn/tree, sklearn/ensemble: decision tree and random forest
//   - sklearn/feature_selection: top-K importance selection
//   - sklearn/lightgbm: histogram GBDT binary classifier
//   - sklearn/model_selection: KFold, StratifiedKFold, RandomizedSearchCV
//   - metrics: classification metrics
//   - training: search, evaluation, report and importance chart
//   - artifact: persisted model, feature order and preprocessing state
//   - predict: single-record inference and the JSON response boundary
//   - pipeline: ordered stage execution
//   - core/model, core/parallel: estimator interfaces, persistence, workers
//   - pkg/errors, pkg/log: structured errors and zerolog logging
//
// # Determinism
//
// Every random draw comes from a seeded PCG source. Parallel work writes into
// fixed slots and is reduced in index order, so the same data and seeds give
// the same artifact and byte-identical reports regardless of worker count.
package bookingcancel
