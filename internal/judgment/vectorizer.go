package judgment

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// SparseVector is a term-weight vector with strictly increasing indices.
type SparseVector struct {
	Indices []uint32
	Values  []float64
}

// Len returns the number of non-zero entries.
func (v SparseVector) Len() int {
	return len(v.Indices)
}

// Dot returns the inner product of two sparse vectors.
func Dot(a, b SparseVector) float64 {
	sum := 0.0
	i, j := 0, 0
	for i < len(a.Indices) && j < len(b.Indices) {
		switch {
		case a.Indices[i] == b.Indices[j]:
			sum += a.Values[i] * b.Values[j]
			i++
			j++
		case a.Indices[i] < b.Indices[j]:
			i++
		default:
			j++
		}
	}
	return sum
}

// Norm returns the L2 norm.
func (v SparseVector) Norm() float64 {
	sum := 0.0
	for _, x := range v.Values {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Cosine returns the cosine similarity of a and b, clamped to [0, 1].
// Either vector being zero yields 0.
func Cosine(a, b SparseVector) float64 {
	na, nb := a.Norm(), b.Norm()
	if na == 0 || nb == 0 {
		return 0
	}
	return ClampUnit(Dot(a, b) / (na * nb))
}

// ClampUnit limits a similarity score to [0, 1].
func ClampUnit(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Tokenize lower-cases text and splits it into runs of two or more word
// characters (letters, digits, underscore). Stop words are kept.
func Tokenize(text string) []string {
	text = strings.ToLower(text)

	var tokens []string
	start := -1
	runes := 0
	flush := func(end int) {
		if start >= 0 && runes >= 2 {
			tokens = append(tokens, text[start:end])
		}
		start, runes = -1, 0
	}

	for i, r := range text {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			runes++
			continue
		}
		flush(i)
	}
	flush(len(text))

	return tokens
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

// terms returns the vocabulary candidates of text: tokens minus stop words.
func terms(text string) []string {
	tokens := Tokenize(text)
	out := tokens[:0]
	for _, t := range tokens {
		if !englishStopWords[t] {
			out = append(out, t)
		}
	}
	return out
}

// Space is a fitted TF-IDF term space: raw term counts, smoothed idf
// ln((1+n)/(1+df))+1 and L2-normalised rows.
type Space struct {
	vocab map[string]uint32
	idf   []float64
}

// Fit builds a term space over texts. It returns ok=false when the
// vocabulary is empty after stop-word removal.
func Fit(texts []string) (*Space, bool) {
	df := make(map[string]int)
	for _, text := range texts {
		seen := make(map[string]bool)
		for _, t := range terms(text) {
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}
	if len(df) == 0 {
		return nil, false
	}

	// Indices follow sorted term order so a fit is reproducible.
	vocabulary := make([]string, 0, len(df))
	for t := range df {
		vocabulary = append(vocabulary, t)
	}
	sort.Strings(vocabulary)

	n := float64(len(texts))
	s := &Space{
		vocab: make(map[string]uint32, len(vocabulary)),
		idf:   make([]float64, len(vocabulary)),
	}
	for i, t := range vocabulary {
		s.vocab[t] = uint32(i)
		s.idf[i] = math.Log((1+n)/(1+float64(df[t]))) + 1
	}
	return s, true
}

// Dim returns the vocabulary size.
func (s *Space) Dim() int {
	return len(s.idf)
}

// IDF returns the idf weight of term, or false when the term is not in the vocabulary.
func (s *Space) IDF(term string) (float64, bool) {
	i, ok := s.vocab[term]
	if !ok {
		return 0, false
	}
	return s.idf[i], true
}

// Transform projects text into the space. Out-of-vocabulary terms are dropped.
func (s *Space) Transform(text string) SparseVector {
	counts := make(map[uint32]int)
	for _, t := range terms(text) {
		if i, ok := s.vocab[t]; ok {
			counts[i]++
		}
	}

	v := SparseVector{
		Indices: make([]uint32, 0, len(counts)),
		Values:  make([]float64, 0, len(counts)),
	}
	for i := range counts {
		v.Indices = append(v.Indices, i)
	}
	sort.Slice(v.Indices, func(a, b int) bool { return v.Indices[a] < v.Indices[b] })

	for _, i := range v.Indices {
		v.Values = append(v.Values, float64(counts[i])*s.idf[i])
	}

	if norm := v.Norm(); norm > 0 {
		for k := range v.Values {
			v.Values[k] /= norm
		}
	}
	return v
}

// TransformAll projects every text.
func (s *Space) TransformAll(texts []string) []SparseVector {
	out := make([]SparseVector, len(texts))
	for i, t := range texts {
		out[i] = s.Transform(t)
	}
	return out
}
