package training

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"

	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
)

// reportPlaces is the number of decimal places kept for every float.
const reportPlaces = 6

// Report builds the JSON document written by WriteReport. It holds only
// values that are a function of the data and the seeds: no timestamps, run
// ids or durations, so repeated runs produce identical bytes.
func Report(res *Result) map[string]interface{} {
	cm := res.ConfusionMatrix
	importance := make(map[string]interface{}, len(res.Importances))
	for _, fi := range res.Importances {
		importance[fi.Feature] = map[string]interface{}{
			"gain":   round(fi.Gain),
			"splits": fi.Splits,
		}
	}

	doc := map[string]interface{}{
		"features":       res.Features,
		"positive_label": res.PositiveLabel,
		"scoring":        res.Scoring,
		"best_cv_score":  round(res.BestCVScore),
		"best_params":    roundParams(res.BestParams),
		"metrics": map[string]interface{}{
			"accuracy":  round(res.Metrics.Accuracy),
			"precision": round(res.Metrics.Precision),
			"recall":    round(res.Metrics.Recall),
			"f1":        round(res.Metrics.F1),
			"roc_auc":   round(res.Metrics.ROCAUC),
			"log_loss":  round(res.Metrics.LogLoss),
		},
		"confusion_matrix": map[string]interface{}{
			"tp": cm.TP, "fp": cm.FP, "tn": cm.TN, "fn": cm.FN,
		},
		"feature_importance": importance,
		"samples": map[string]interface{}{
			"train": res.TrainSamples,
			"test":  res.TestSamples,
		},
	}

	if cv := res.CVResults; cv != nil {
		params := make([]interface{}, len(cv.Params))
		for i, p := range cv.Params {
			params[i] = roundParams(p)
		}
		doc["cv_results"] = map[string]interface{}{
			"params":          params,
			"mean_test_score": roundAll(cv.MeanTestScore),
			"std_test_score":  roundAll(cv.StdTestScore),
			"rank_test_score": cv.RankTestScore,
		}
	}
	return doc
}

// WriteReport writes Report(res) as indented JSON. Map keys are sorted by
// encoding/json and floats are rounded half away from zero to six places.
func WriteReport(path string, res *Result) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Report(res)); err != nil {
		return errors.NewArtifactError("WriteReport", path, "cannot encode report", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewArtifactError("WriteReport", path, "cannot create directory", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.NewArtifactError("WriteReport", path, "cannot write report", err)
	}
	return nil
}

func round(v float64) json.Number {
	return json.Number(decimal.NewFromFloat(v).Round(reportPlaces).String())
}

func roundAll(values []float64) []json.Number {
	out := make([]json.Number, len(values))
	for i, v := range values {
		out[i] = round(v)
	}
	return out
}

func roundParams(params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		if f, ok := v.(float64); ok {
			out[k] = round(f)
			continue
		}
		out[k] = v
	}
	return out
}
