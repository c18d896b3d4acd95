// Package dataset loads and writes corpora, queries, qrels and results dumps,
// and knows the on-disk layout of the registered test collections.
package dataset

import (
	"fmt"
	"path/filepath"
	"sort"

	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
	"github.com/ricesearch/greeneval/internal/pkg/security"
)

// Dataset describes one test collection on disk.
//
// Layout under DataDir/<name>:
//
//	<name>.dat            raw corpus, one document per line
//	<name>-queries.txt    one query per line
//	<name>-qrels.txt      relevance judgments
type Dataset struct {
	Name string `yaml:"name" json:"name"`

	// QueryIDStart is the ID of the first query in the queries file.
	QueryIDStart int `yaml:"query_id_start" json:"query_id_start"`

	// BaseDir overrides DataDir/<name>.
	BaseDir string `yaml:"base_dir" json:"base_dir,omitempty"`

	// CorpusDir overrides the processed corpus directory.
	CorpusDir string `yaml:"corpus_dir" json:"corpus_dir,omitempty"`

	// IndexDir overrides the engine index directory.
	IndexDir string `yaml:"index_dir" json:"index_dir,omitempty"`
}

// Builtin returns the collections known out of the box.
func Builtin() []Dataset {
	return []Dataset{
		{Name: "apnews", QueryIDStart: 0},
		{Name: "cranfield", QueryIDStart: 1},
		{Name: "new_faculty", QueryIDStart: 1},
		{Name: "inaugural_speeches", QueryIDStart: 0},
	}
}

// Registry resolves dataset names to paths.
type Registry struct {
	dataDir      string
	processedDir string
	indexDir     string
	datasets     map[string]Dataset
}

// RegistryConfig holds the roots the registry resolves against.
type RegistryConfig struct {
	DataDir      string
	ProcessedDir string
	IndexDir     string
}

// NewRegistry creates a registry with the builtin datasets plus extra,
// which override builtins of the same name.
func NewRegistry(cfg RegistryConfig, extra ...Dataset) (*Registry, error) {
	r := &Registry{
		dataDir:      cfg.DataDir,
		processedDir: cfg.ProcessedDir,
		indexDir:     cfg.IndexDir,
		datasets:     make(map[string]Dataset),
	}
	if r.dataDir == "" {
		r.dataDir = "data"
	}
	if r.processedDir == "" {
		r.processedDir = "processed_corpus"
	}
	if r.indexDir == "" {
		r.indexDir = "indexes"
	}

	for _, d := range Builtin() {
		r.datasets[d.Name] = d
	}
	for _, d := range extra {
		if err := security.ValidateName("dataset name", d.Name); err != nil {
			return nil, err
		}
		if d.QueryIDStart < 0 {
			return nil, apperrors.ValidationError(fmt.Sprintf("dataset %q: query_id_start must be non-negative", d.Name))
		}
		r.datasets[d.Name] = d
	}
	return r, nil
}

// Get returns a dataset by name.
func (r *Registry) Get(name string) (Dataset, error) {
	d, ok := r.datasets[name]
	if !ok {
		return Dataset{}, apperrors.NotFoundError("dataset " + name).WithDetail("dataset", name)
	}
	return d, nil
}

// Names returns all dataset names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.datasets))
	for n := range r.datasets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Paths are the resolved file locations of a dataset.
type Paths struct {
	Corpus    string `json:"corpus"`
	Queries   string `json:"queries"`
	Qrels     string `json:"qrels"`
	Processed string `json:"processed"`
	Index     string `json:"index"`
	Results   string `json:"results"`
}

// Paths resolves the file locations of d.
func (r *Registry) Paths(d Dataset) Paths {
	base := d.BaseDir
	if base == "" {
		base = filepath.Join(r.dataDir, d.Name)
	}
	processed := d.CorpusDir
	if processed == "" {
		processed = filepath.Join(r.processedDir, d.Name)
	}
	index := d.IndexDir
	if index == "" {
		index = filepath.Join(r.indexDir, d.Name)
	}
	return Paths{
		Corpus:    filepath.Join(base, d.Name+".dat"),
		Queries:   filepath.Join(base, d.Name+"-queries.txt"),
		Qrels:     filepath.Join(base, d.Name+"-qrels.txt"),
		Processed: processed,
		Index:     index,
		Results:   fmt.Sprintf("results_%s.json", d.Name),
	}
}
