package dataset

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/ricesearch/greeneval/internal/evaluation"
	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
)

// compressedSuffix marks results dumps written with zstd.
const compressedSuffix = ".zst"

// ResultsDump is the persisted form of a run's ranked results:
// {"results": {qid: [[doc, score], ...]}, "<metric>": value}.
type ResultsDump struct {
	Results evaluation.Results
	Metrics map[string]float64
}

// MarshalJSON flattens Metrics next to the results key.
func (d ResultsDump) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Metrics)+1)
	for name, v := range d.Metrics {
		out[name] = v
	}
	results := d.Results
	if results == nil {
		results = evaluation.Results{}
	}
	out["results"] = results
	return json.Marshal(out)
}

// UnmarshalJSON reads the results key and every numeric top-level key as a metric.
func (d *ResultsDump) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	d.Results = evaluation.Results{}
	d.Metrics = make(map[string]float64)
	for key, value := range raw {
		if key == "results" {
			if err := json.Unmarshal(value, &d.Results); err != nil {
				return fmt.Errorf("results: %w", err)
			}
			continue
		}
		var v float64
		if err := json.Unmarshal(value, &v); err != nil {
			return fmt.Errorf("metric %q: %w", key, err)
		}
		d.Metrics[key] = v
	}
	return nil
}

// SaveResults writes dump to path as indented JSON, zstd-compressed when
// path ends in .zst.
func SaveResults(path string, dump ResultsDump) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return apperrors.InternalError("create results directory", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return apperrors.InternalError("create results file", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = apperrors.InternalError("close results file", cerr)
		}
	}()

	var w io.Writer = f
	var enc *zstd.Encoder
	if strings.HasSuffix(path, compressedSuffix) {
		enc, err = zstd.NewWriter(f)
		if err != nil {
			return apperrors.InternalError("create zstd writer", err)
		}
		w = enc
	}

	je := json.NewEncoder(w)
	je.SetIndent("", "  ")
	if err := je.Encode(dump); err != nil {
		if enc != nil {
			enc.Close()
		}
		return apperrors.InternalError("encode results", err)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return apperrors.InternalError("flush zstd writer", err)
		}
	}
	return nil
}

// LoadResults reads a dump written by SaveResults.
func LoadResults(path string) (ResultsDump, error) {
	f, err := os.Open(path)
	if err != nil {
		return ResultsDump{}, apperrors.Wrap(apperrors.CodeNotFound, "results not found: "+path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, compressedSuffix) {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return ResultsDump{}, apperrors.Wrap(apperrors.CodeFormat, "open zstd stream", err)
		}
		defer dec.Close()
		r = dec
	}

	var dump ResultsDump
	if err := json.NewDecoder(r).Decode(&dump); err != nil {
		return ResultsDump{}, apperrors.FormatError(fmt.Sprintf("%s: %v", filepath.Base(path), err))
	}
	return dump, nil
}
