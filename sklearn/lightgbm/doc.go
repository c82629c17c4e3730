// Package lightgbm provides a pure Go gradient boosted decision tree
// classifier modelled on LightGBM's binary objective.
//
// Trees are grown leaf-wise on histogram bins: at each step the leaf with
// the largest regularised gain is split, until num_leaves is reached or no
// leaf satisfies max_depth, min_child_samples and min_split_gain.
// Row bagging (subsample, subsample_freq) and per-tree feature sampling
// (colsample_bytree) draw from one generator seeded by random_state, and the
// per-feature split search writes to fixed slots, so a fitted model does not
// depend on n_jobs.
//
// # scikit-learn Compatible API
//
//	clf := lightgbm.NewLGBMClassifier(
//	    lightgbm.WithNEstimators(300),
//	    lightgbm.WithLearningRate(0.05),
//	)
//	if err := clf.Fit(X, y); err != nil {
//	    return err
//	}
//	proba, err := clf.PredictProba(Xtest) // n×2, columns ordered as clf.Classes()
//
// Hyperparameters can also be set by their Python names, which is how
// model_selection.RandomizedSearchCV drives the classifier:
//
//	err := clf.SetParams(map[string]interface{}{"num_leaves": 63, "subsample": 0.8})
//
// A fitted Model is a plain struct with MessagePack tags and is persisted as
// part of the training artifact.
package lightgbm
