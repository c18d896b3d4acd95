// Package evaluation scores ranked retrieval results against relevance judgments.
package evaluation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// RelevanceJudgment grades one document for one query.
type RelevanceJudgment struct {
	QueryID   string `json:"query_id"`
	DocID     string `json:"doc_id"`
	Relevance int    `json:"relevance"`
}

// Qrels maps query ID -> doc ID -> relevance grade.
type Qrels map[string]map[string]int

// Add records a judgment, replacing any earlier grade for the same pair.
func (q Qrels) Add(j RelevanceJudgment) {
	if q[j.QueryID] == nil {
		q[j.QueryID] = make(map[string]int)
	}
	q[j.QueryID][j.DocID] = j.Relevance
}

// Count returns the total number of judgments.
func (q Qrels) Count() int {
	n := 0
	for _, docs := range q {
		n += len(docs)
	}
	return n
}

// QrelsFromJudgments groups judgments by query.
func QrelsFromJudgments(judgments []RelevanceJudgment) Qrels {
	q := make(Qrels)
	for _, j := range judgments {
		q.Add(j)
	}
	return q
}

// Hit is one ranked result. It is encoded as a [doc_id, score] pair.
type Hit struct {
	DocID string
	Score float64
}

// MarshalJSON encodes the hit as a two element array.
func (h Hit) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{h.DocID, h.Score})
}

// UnmarshalJSON decodes a [doc_id, score] pair.
func (h *Hit) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("hit must be a [doc_id, score] pair: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("hit must have 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &h.DocID); err != nil {
		return fmt.Errorf("hit doc_id: %w", err)
	}
	if err := json.Unmarshal(pair[1], &h.Score); err != nil {
		return fmt.Errorf("hit score: %w", err)
	}
	return nil
}

// Results maps query ID -> hits in rank order.
type Results map[string][]Hit

// Metric names an aggregate ranking metric.
type Metric string

const (
	MetricNDCG      Metric = "ndcg"
	MetricPrecision Metric = "precision"
)

// ParseMetric parses a metric name.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case MetricNDCG, MetricPrecision:
		return m, nil
	default:
		return "", fmt.Errorf("unknown metric %q (must be ndcg or precision)", s)
	}
}

// Label renders the metric with its cutoff, e.g. "NDCG@10".
func (m Metric) Label(k int) string {
	switch m {
	case MetricNDCG:
		return fmt.Sprintf("NDCG@%d", k)
	case MetricPrecision:
		return fmt.Sprintf("Precision@%d", k)
	default:
		return fmt.Sprintf("%s@%d", m, k)
	}
}

// QueryScore is the metric value for a single query.
type QueryScore struct {
	QueryID string  `json:"query_id"`
	Score   float64 `json:"score"`
}

// Report is the aggregate metric together with the diagnostics gathered on the way.
type Report struct {
	Metric Metric  `json:"metric"`
	K      int     `json:"k"`
	Value  float64 `json:"value"`

	// Scores holds one entry per query that contributed to Value.
	Scores []QueryScore `json:"scores"`

	// ZeroIDCG lists queries skipped because no relevant document exists for them.
	ZeroIDCG []string `json:"zero_idcg,omitempty"`

	// Unjudged lists result queries that have no qrels entry.
	Unjudged []string `json:"unjudged,omitempty"`
}

// Evaluated returns the number of queries that contributed to Value.
func (r Report) Evaluated() int {
	return len(r.Scores)
}

// sortQueryIDs puts integer IDs first in numeric order, then the rest
// lexically. Integers equal in value ("1", "01") fall back to lexical order.
func sortQueryIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		switch {
		case errA == nil && errB == nil && a != b:
			return a < b
		case (errA == nil) != (errB == nil):
			return errA == nil
		default:
			return ids[i] < ids[j]
		}
	})
}
