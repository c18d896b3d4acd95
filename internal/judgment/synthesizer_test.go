package judgment

import (
	"context"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/ricesearch/greeneval/internal/dataset"
	"github.com/ricesearch/greeneval/internal/evaluation"
	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
)

func testCollection(t *testing.T) *dataset.Collection {
	t.Helper()
	docs, err := dataset.NewCollection([]dataset.Document{
		{ID: "d0", Contents: "The nation must defend liberty and freedom for every citizen."},
		{ID: "d1", Contents: "Economic growth depends on trade, industry and fair taxes."},
		{ID: "d2", Contents: "Liberty and freedom are the foundation of the republic."},
		{ID: "d3", Contents: "War abroad and peace at home shaped the century."},
		{ID: "d4", Contents: "Taxes on industry fund roads, schools and hospitals."},
		{ID: "d5", Contents: "Peace treaties ended the long war with honor."},
	})
	if err != nil {
		t.Fatalf("NewCollection() error = %v", err)
	}
	return docs
}

var testQueries = []string{
	"liberty freedom citizen",
	"taxes industry growth",
	"war peace",
	"quantum chromodynamics",
}

func synthesize(t *testing.T, cfg Config, docs *dataset.Collection, queries []string) []evaluation.RelevanceJudgment {
	t.Helper()
	s, err := NewSynthesizer(cfg)
	if err != nil {
		t.Fatalf("NewSynthesizer() error = %v", err)
	}
	judgments, err := s.Synthesize(context.Background(), docs, queries)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	return judgments
}

func TestTokenize(t *testing.T) {
	got := Tokenize("Hello, World! a I'm x_y 42 é café")
	want := []string{"hello", "world", "x_y", "42", "café"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokenize() = %v, want %v", got, want)
	}
}

func TestFit_SmoothedIDF(t *testing.T) {
	space, ok := Fit([]string{"apple banana", "apple cherry"})
	if !ok {
		t.Fatal("Fit() reported empty vocabulary")
	}
	if space.Dim() != 3 {
		t.Fatalf("Dim() = %d, want 3", space.Dim())
	}

	apple, _ := space.IDF("apple")
	if want := math.Log(3.0/3.0) + 1; math.Abs(apple-want) > 1e-12 {
		t.Errorf("idf(apple) = %v, want %v", apple, want)
	}
	banana, _ := space.IDF("banana")
	if want := math.Log(3.0/2.0) + 1; math.Abs(banana-want) > 1e-12 {
		t.Errorf("idf(banana) = %v, want %v", banana, want)
	}
	if _, ok := space.IDF("the"); ok {
		t.Error("stop word entered the vocabulary")
	}
}

func TestFit_StopWordsOnly(t *testing.T) {
	if _, ok := Fit([]string{"the and of", "a an"}); ok {
		t.Error("Fit() should report an empty vocabulary")
	}
}

func TestTransform_Normalised(t *testing.T) {
	space, _ := Fit([]string{"apple banana banana", "cherry"})
	v := space.Transform("apple banana banana durian")
	if math.Abs(v.Norm()-1) > 1e-12 {
		t.Errorf("Norm() = %v, want 1", v.Norm())
	}
	if v.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (unknown term dropped)", v.Len())
	}
	for i := 1; i < len(v.Indices); i++ {
		if v.Indices[i] <= v.Indices[i-1] {
			t.Fatalf("indices not increasing: %v", v.Indices)
		}
	}
}

func TestCosine_BoundedAndIdentity(t *testing.T) {
	docs := testCollection(t)
	texts := append(docs.Texts(), testQueries...)
	space, _ := Fit(texts)
	vectors := space.TransformAll(texts)

	for i := range vectors {
		for j := range vectors {
			c := Cosine(vectors[i], vectors[j])
			if c < 0 || c > 1 {
				t.Fatalf("Cosine(%d,%d) = %v, want within [0,1]", i, j, c)
			}
		}
		if vectors[i].Len() > 0 {
			if c := Cosine(vectors[i], vectors[i]); math.Abs(c-1) > 1e-9 {
				t.Errorf("Cosine(%d,%d) = %v, want 1", i, i, c)
			}
		}
	}

	if got := Cosine(SparseVector{}, vectors[0]); got != 0 {
		t.Errorf("Cosine(zero, v) = %v, want 0", got)
	}
}

func TestSynthesize_ExactTextMatchesFirst(t *testing.T) {
	docs := testCollection(t)
	d2, _ := docs.Get("d2")

	cfg := DefaultConfig()
	cfg.Threshold = 0.99
	judgments := synthesize(t, cfg, docs, []string{d2.Contents})

	if len(judgments) != 1 {
		t.Fatalf("got %d judgments, want 1: %v", len(judgments), judgments)
	}
	want := evaluation.RelevanceJudgment{QueryID: "0", DocID: "d2", Relevance: 1}
	if judgments[0] != want {
		t.Errorf("judgment = %+v, want %+v", judgments[0], want)
	}
}

func TestSynthesize_Ordering(t *testing.T) {
	docs := testCollection(t)
	cfg := DefaultConfig()
	cfg.Threshold = 0.01
	judgments := synthesize(t, cfg, docs, testQueries)

	last := -1
	for _, j := range judgments {
		if j.Relevance != 1 {
			t.Errorf("relevance = %d, want 1", j.Relevance)
		}
		qi, err := strconv.Atoi(j.QueryID)
		if err != nil {
			t.Fatalf("query id %q: %v", j.QueryID, err)
		}
		if qi < last {
			t.Fatalf("judgments not query-major: %v", judgments)
		}
		last = qi
	}

	for _, j := range judgments {
		if j.QueryID == "3" {
			t.Errorf("out-of-vocabulary query judged: %+v", j)
		}
	}
}

func TestSynthesize_TiesKeepCollectionOrder(t *testing.T) {
	docs, err := dataset.NewCollection([]dataset.Document{
		{ID: "z", Contents: "orange"},
		{ID: "a", Contents: "orange"},
		{ID: "m", Contents: "orange"},
	})
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.TopK = 2
	judgments := synthesize(t, cfg, docs, []string{"orange"})

	if len(judgments) != 2 || judgments[0].DocID != "z" || judgments[1].DocID != "a" {
		t.Errorf("judgments = %+v, want z then a", judgments)
	}
}

func TestSynthesize_ThresholdMonotone(t *testing.T) {
	docs := testCollection(t)
	thresholds := []float64{0, 0.1, 0.2, 0.3, 0.5, 0.9}

	var prev map[evaluation.RelevanceJudgment]bool
	for _, th := range thresholds {
		cfg := DefaultConfig()
		cfg.Threshold = th
		set := make(map[evaluation.RelevanceJudgment]bool)
		for _, j := range synthesize(t, cfg, docs, testQueries) {
			set[j] = true
		}
		for j := range set {
			if prev != nil && !prev[j] {
				t.Errorf("threshold %v judged %+v absent at a lower threshold", th, j)
			}
		}
		prev = set
	}
}

func TestSynthesize_TopKMonotone(t *testing.T) {
	docs := testCollection(t)

	counts := func(k int) map[string]int {
		cfg := DefaultConfig()
		cfg.Threshold = 0.05
		cfg.TopK = k
		out := make(map[string]int)
		for _, j := range synthesize(t, cfg, docs, testQueries) {
			out[j.QueryID]++
		}
		return out
	}

	prev := counts(1)
	for k := 2; k <= 6; k++ {
		cur := counts(k)
		for qid, n := range prev {
			if cur[qid] < n {
				t.Errorf("query %s: %d judgments at top_k=%d, %d at top_k=%d", qid, cur[qid], k, n, k-1)
			}
		}
		prev = cur
	}
}

func TestSynthesize_QueryIDStart(t *testing.T) {
	docs := testCollection(t)
	cfg := DefaultConfig()
	cfg.QueryIDStart = 1
	cfg.Threshold = 0.01
	judgments := synthesize(t, cfg, docs, testQueries[:1])
	if len(judgments) == 0 || judgments[0].QueryID != "1" {
		t.Errorf("judgments = %+v, want query id 1", judgments)
	}
}

func TestSynthesize_ConfigurationErrors(t *testing.T) {
	s, err := NewSynthesizer(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	empty, _ := dataset.NewCollection(nil)
	if _, err := s.Synthesize(context.Background(), empty, testQueries); !apperrors.IsConfiguration(err) {
		t.Errorf("empty collection error = %v, want configuration error", err)
	}

	stop, _ := dataset.NewCollection([]dataset.Document{{ID: "1", Contents: "the of and"}})
	if _, err := s.Synthesize(context.Background(), stop, []string{"it is"}); !apperrors.IsConfiguration(err) {
		t.Errorf("stop-word vocabulary error = %v, want configuration error", err)
	}
}

func TestSynthesize_ZeroJudgmentsIsNotAnError(t *testing.T) {
	docs := testCollection(t)
	judgments := synthesize(t, DefaultConfig(), docs, []string{"quantum chromodynamics"})
	if len(judgments) != 0 {
		t.Errorf("judgments = %v, want none", judgments)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero top_k", Config{Threshold: 0.3, TopK: 0, Mode: ModeJoint}},
		{"nan threshold", Config{Threshold: math.NaN(), TopK: 5, Mode: ModeJoint}},
		{"bad mode", Config{Threshold: 0.3, TopK: 5, Mode: "fuzzy"}},
		{"negative query start", Config{Threshold: 0.3, TopK: 5, Mode: ModeJoint, QueryIDStart: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); !apperrors.IsValidation(err) {
				t.Errorf("Validate() = %v, want validation error", err)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode(""); err != nil || m != ModeJoint {
		t.Errorf("ParseMode(\"\") = %v, %v", m, err)
	}
	if m, err := ParseMode("Projected"); err != nil || m != ModeProjected {
		t.Errorf("ParseMode(Projected) = %v, %v", m, err)
	}
	if _, err := ParseMode("x"); err == nil {
		t.Error("ParseMode(x) should fail")
	}
}

func TestSynthesize_ProjectedMemoryIndex(t *testing.T) {
	docs := testCollection(t)
	idx := NewMemoryIndex()

	cfg := DefaultConfig()
	cfg.Mode = ModeProjected
	cfg.Threshold = 0.1
	s, err := NewSynthesizer(cfg, WithIndex(idx))
	if err != nil {
		t.Fatal(err)
	}

	judgments, err := s.Synthesize(context.Background(), docs, testQueries)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if idx.Len() != docs.Len() {
		t.Errorf("index holds %d vectors, want %d", idx.Len(), docs.Len())
	}

	found := false
	for _, j := range judgments {
		if j.QueryID == "0" && (j.DocID == "d0" || j.DocID == "d2") {
			found = true
		}
		if j.QueryID == "3" {
			t.Errorf("out-of-vocabulary query judged: %+v", j)
		}
	}
	if !found {
		t.Errorf("liberty query did not match a liberty document: %v", judgments)
	}
}

func TestSynthesize_ProjectedSharedIndexConcurrent(t *testing.T) {
	base := testCollection(t)
	idx := NewMemoryIndex()

	cfg := DefaultConfig()
	cfg.Mode = ModeProjected
	cfg.Threshold = 0
	cfg.TopK = base.Len()

	const workers = 8
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		prefix := "w" + strconv.Itoa(w) + "-"
		docs := make([]dataset.Document, base.Len())
		for i := range docs {
			d := base.At(i)
			docs[i] = dataset.Document{ID: prefix + d.ID, Contents: d.Contents}
		}
		coll, err := dataset.NewCollection(docs)
		if err != nil {
			t.Fatal(err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := NewSynthesizer(cfg, WithIndex(idx))
			if err != nil {
				t.Error(err)
				return
			}
			for round := 0; round < 10; round++ {
				judgments, err := s.Synthesize(context.Background(), coll, testQueries)
				if err != nil {
					t.Errorf("Synthesize() error = %v", err)
					return
				}
				if len(judgments) != len(testQueries)*base.Len() {
					t.Errorf("got %d judgments, want %d", len(judgments), len(testQueries)*base.Len())
				}
				for _, j := range judgments {
					if !strings.HasPrefix(j.DocID, prefix) {
						t.Errorf("judgment %+v names a document outside collection %s", j, prefix)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}

func TestMemoryIndex_ZeroOverlapLast(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	idx.Upsert(ctx, []IndexedVector{
		{DocID: "a", Ordinal: 0, Vector: SparseVector{Indices: []uint32{0}, Values: []float64{1}}},
		{DocID: "b", Ordinal: 1, Vector: SparseVector{Indices: []uint32{1}, Values: []float64{1}}},
	})

	hits, err := idx.Search(ctx, SparseVector{Indices: []uint32{1}, Values: []float64{1.0000001}}, 5)
	if err != nil {
		t.Fatal(err)
	}
	want := []ScoredDoc{{DocID: "b", Ordinal: 1, Score: 1}, {DocID: "a", Ordinal: 0, Score: 0}}
	if !reflect.DeepEqual(hits, want) {
		t.Errorf("Search() = %+v, want %+v", hits, want)
	}
}

func TestMemoryIndex_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	v := SparseVector{Indices: []uint32{0}, Values: []float64{1}}

	_ = idx.Upsert(ctx, []IndexedVector{{DocID: "a", Ordinal: 0, Vector: v}})
	_ = idx.Upsert(ctx, []IndexedVector{{DocID: "a", Ordinal: 0, Vector: v}, {DocID: "b", Ordinal: 1, Vector: v}})
	if idx.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", idx.Len())
	}

	hits, err := idx.Search(ctx, v, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].DocID != "a" {
		t.Errorf("Search() = %+v, want a first on tie", hits)
	}

	_ = idx.Reset(ctx, 1)
	if idx.Len() != 0 {
		t.Errorf("Len() after Reset = %d", idx.Len())
	}
}
