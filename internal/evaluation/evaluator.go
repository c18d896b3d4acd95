package evaluation

import (
	"fmt"

	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
	"github.com/ricesearch/greeneval/internal/pkg/logger"
)

// NDCGAt computes mean NDCG@k over the queries that appear in both results
// and qrels. Queries whose ideal DCG is zero are excluded from the mean and
// listed in the report. An empty evaluation set yields 0.
func NDCGAt(results Results, qrels Qrels, k int) Report {
	report := Report{Metric: MetricNDCG, K: k, Scores: []QueryScore{}}
	if k <= 0 {
		return report
	}

	for _, qid := range resultQueryIDs(results) {
		judged, ok := qrels[qid]
		if !ok {
			report.Unjudged = append(report.Unjudged, qid)
			continue
		}
		score, ok := NDCG(relevancesFor(results[qid], judged), gradesOf(judged), k)
		if !ok {
			report.ZeroIDCG = append(report.ZeroIDCG, qid)
			continue
		}
		report.Scores = append(report.Scores, QueryScore{QueryID: qid, Score: score})
	}

	report.Value = mean(report.Scores)
	return report
}

// PrecisionAt computes mean Precision@k over the queries that appear in both
// results and qrels. A query with fewer than k hits is still divided by k.
func PrecisionAt(results Results, qrels Qrels, k int) Report {
	report := Report{Metric: MetricPrecision, K: k, Scores: []QueryScore{}}
	if k <= 0 {
		return report
	}

	for _, qid := range resultQueryIDs(results) {
		judged, ok := qrels[qid]
		if !ok {
			report.Unjudged = append(report.Unjudged, qid)
			continue
		}
		score := Precision(relevancesFor(results[qid], judged), k)
		report.Scores = append(report.Scores, QueryScore{QueryID: qid, Score: score})
	}

	report.Value = mean(report.Scores)
	return report
}

// MeanNDCG returns only the aggregate of NDCGAt.
func MeanNDCG(results Results, qrels Qrels, k int) float64 {
	return NDCGAt(results, qrels, k).Value
}

// MeanPrecision returns only the aggregate of PrecisionAt.
func MeanPrecision(results Results, qrels Qrels, k int) float64 {
	return PrecisionAt(results, qrels, k).Value
}

// Evaluator runs a metric and logs the diagnostics of the report.
type Evaluator struct {
	log *logger.Logger
}

// NewEvaluator creates a new evaluator.
func NewEvaluator(log *logger.Logger) *Evaluator {
	if log == nil {
		log = logger.Discard()
	}
	return &Evaluator{log: log}
}

// Evaluate computes metric at k.
func (e *Evaluator) Evaluate(metric Metric, results Results, qrels Qrels, k int) (Report, error) {
	if k <= 0 {
		return Report{}, apperrors.ValidationError(fmt.Sprintf("k must be positive, got %d", k))
	}

	var report Report
	switch metric {
	case MetricNDCG:
		report = NDCGAt(results, qrels, k)
	case MetricPrecision:
		report = PrecisionAt(results, qrels, k)
	default:
		return Report{}, apperrors.ValidationError(fmt.Sprintf("unknown metric %q", metric))
	}

	if len(report.ZeroIDCG) > 0 {
		e.log.Warn("Queries excluded with zero ideal DCG",
			"metric", metric.Label(k),
			"count", len(report.ZeroIDCG),
			"query_ids", report.ZeroIDCG,
		)
	}
	if len(report.Unjudged) > 0 {
		e.log.Debug("Queries without judgments skipped",
			"metric", metric.Label(k),
			"count", len(report.Unjudged),
		)
	}
	e.log.Info("Evaluation complete",
		"metric", metric.Label(k),
		"value", report.Value,
		"evaluated", report.Evaluated(),
	)

	return report, nil
}

func resultQueryIDs(results Results) []string {
	ids := make([]string, 0, len(results))
	for qid := range results {
		ids = append(ids, qid)
	}
	sortQueryIDs(ids)
	return ids
}

func mean(scores []QueryScore) float64 {
	if len(scores) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range scores {
		sum += s.Score
	}
	return sum / float64(len(scores))
}
