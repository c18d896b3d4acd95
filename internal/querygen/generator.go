// Package querygen derives one search query per document by summarizing the
// document chunk by chunk.
package querygen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ricesearch/greeneval/internal/dataset"
	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
	"github.com/ricesearch/greeneval/internal/pkg/logger"
)

// Config holds generation parameters.
type Config struct {
	// ChunkSize is the maximum chunk length in characters.
	ChunkSize int

	// MinLength and MaxLength bound each chunk summary.
	MinLength int
	MaxLength int
}

// DefaultConfig returns the default generation parameters.
func DefaultConfig() Config {
	return Config{ChunkSize: 1000, MinLength: 25, MaxLength: 50}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ChunkSize < 1 {
		return apperrors.ValidationError("chunk size must be positive")
	}
	if c.MinLength < 1 || c.MaxLength < c.MinLength {
		return apperrors.ValidationError(fmt.Sprintf("summary lengths must satisfy 1 <= min <= max, got %d and %d", c.MinLength, c.MaxLength))
	}
	return nil
}

// Generator turns documents into queries.
type Generator struct {
	cfg        Config
	summarizer Summarizer
	log        *logger.Logger
}

// NewGenerator creates a generator.
func NewGenerator(cfg Config, summarizer Summarizer, log *logger.Logger) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Default()
	}
	return &Generator{cfg: cfg, summarizer: summarizer, log: log}, nil
}

// Query summarizes every chunk of doc and joins the summaries with spaces.
func (g *Generator) Query(ctx context.Context, doc string) (string, error) {
	chunks := Chunk(doc, g.cfg.ChunkSize)
	summaries := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		minLen, maxLen := summaryBounds(chunk, g.cfg.MinLength, g.cfg.MaxLength)
		g.log.Debug("Summarizing chunk", "chunk", i, "of", len(chunks), "min", minLen, "max", maxLen)

		summary, err := g.summarizer.Summarize(ctx, chunk, minLen, maxLen)
		if err != nil {
			return "", err
		}
		if summary = strings.TrimSpace(strings.ReplaceAll(summary, ".", "")); summary != "" {
			summaries = append(summaries, summary)
		}
	}
	return strings.Join(summaries, " "), nil
}

// Generate produces one query per document, in order.
func (g *Generator) Generate(ctx context.Context, docs []string) ([]string, error) {
	queries := make([]string, len(docs))
	for i, doc := range docs {
		q, err := g.Query(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		queries[i] = q
	}
	return queries, nil
}

// GenerateDir produces one query per *.txt file in dir, in natural file-name
// order. Tab-separated speech records contribute only their text field.
func (g *Generator) GenerateDir(ctx context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeNotFound, "document directory not found: "+dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".txt") {
			names = append(names, e.Name())
		}
	}
	dataset.SortNatural(names)

	queries := make([]string, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "read document "+name, err)
		}
		q, err := g.Query(ctx, documentText(string(data)))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		g.log.Info("Generated query", "file", name, "length", len(q))
		queries = append(queries, q)
	}
	return queries, nil
}
