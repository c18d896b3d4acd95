package dataset

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ricesearch/greeneval/internal/evaluation"
	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
)

// LoadQrels reads a qrels file. See ReadQrels.
func LoadQrels(path string) (evaluation.Qrels, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeNotFound, "qrels not found: "+path, err)
	}
	defer f.Close()
	return ReadQrels(f)
}

// ReadQrels parses lines of exactly three whitespace-separated tokens
// "query_id doc_id relevance". Any other line, blank lines included, fails
// the whole read with a format error naming the line.
func ReadQrels(r io.Reader) (evaluation.Qrels, error) {
	qrels := make(evaluation.Qrels)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		parts := strings.Fields(text)
		if len(parts) != 3 {
			return nil, qrelsLineError(line, fmt.Sprintf("expected 3 fields, got %d: %q", len(parts), strings.TrimSpace(text)))
		}

		rel, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, qrelsLineError(line, fmt.Sprintf("relevance %q is not an integer", parts[2]))
		}
		if rel < 0 {
			return nil, qrelsLineError(line, fmt.Sprintf("relevance %d is negative", rel))
		}

		qrels.Add(evaluation.RelevanceJudgment{QueryID: parts[0], DocID: parts[1], Relevance: rel})
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.InternalError("read qrels", err)
	}
	return qrels, nil
}

func qrelsLineError(line int, msg string) error {
	return apperrors.FormatError(fmt.Sprintf("qrels line %d: %s", line, msg)).
		WithDetail("line", strconv.Itoa(line))
}

// WriteQrels writes judgments as "query_id doc_id relevance" lines in order.
func WriteQrels(w io.Writer, judgments []evaluation.RelevanceJudgment) error {
	bw := bufio.NewWriter(w)
	for _, j := range judgments {
		if _, err := fmt.Fprintf(bw, "%s %s %d\n", j.QueryID, j.DocID, j.Relevance); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// SaveQrels writes judgments to path, creating parent directories.
func SaveQrels(path string, judgments []evaluation.RelevanceJudgment) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return apperrors.InternalError("create qrels directory", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return apperrors.InternalError("create qrels file", err)
	}
	if err := WriteQrels(f, judgments); err != nil {
		f.Close()
		return apperrors.InternalError("write qrels", err)
	}
	return f.Close()
}
