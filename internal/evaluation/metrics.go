package evaluation

import (
	"math"
	"sort"
)

// DCG calculates Discounted Cumulative Gain at K with linear gain:
// sum of rel_i / log2(i+2) over the first K positions.
func DCG(relevances []int, k int) float64 {
	if k > len(relevances) {
		k = len(relevances)
	}

	dcg := 0.0
	for i := 0; i < k; i++ {
		dcg += float64(relevances[i]) / math.Log2(float64(i+2))
	}
	return dcg
}

// IdealDCG calculates DCG at K for grades sorted into the best possible order.
func IdealDCG(grades []int, k int) float64 {
	sorted := make([]int, len(grades))
	copy(sorted, grades)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))
	return DCG(sorted, k)
}

// NDCG calculates Normalized Discounted Cumulative Gain at K.
// relevances are the grades of the ranked results, grades every known grade
// for the query. Returns false when the ideal DCG is zero.
func NDCG(relevances, grades []int, k int) (float64, bool) {
	idcg := IdealDCG(grades, k)
	if idcg == 0 {
		return 0, false
	}
	return DCG(relevances, k) / idcg, true
}

// Precision calculates Precision at K: the number of results in the first K
// with a positive grade, divided by K.
func Precision(relevances []int, k int) float64 {
	if k <= 0 {
		return 0
	}

	n := k
	if n > len(relevances) {
		n = len(relevances)
	}

	relevant := 0
	for i := 0; i < n; i++ {
		if relevances[i] > 0 {
			relevant++
		}
	}

	return float64(relevant) / float64(k)
}

// relevancesFor maps ranked hits to their grades; unjudged documents grade 0.
func relevancesFor(hits []Hit, judged map[string]int) []int {
	relevances := make([]int, len(hits))
	for i, h := range hits {
		relevances[i] = judged[h.DocID]
	}
	return relevances
}

func gradesOf(judged map[string]int) []int {
	grades := make([]int, 0, len(judged))
	for _, g := range judged {
		grades = append(grades, g)
	}
	return grades
}
