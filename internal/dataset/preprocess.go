package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
)

// Preprocess converts a raw corpus with one document per line into one JSON
// record per file (doc<i>.json) under outputDir. The document ID is the
// zero-based line number. Returns the number of documents written.
func Preprocess(corpusPath, outputDir string) (int, error) {
	in, err := os.Open(corpusPath)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeNotFound, "corpus not found: "+corpusPath, err)
	}
	defer in.Close()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, apperrors.InternalError("create output directory", err)
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	n := 0
	for scanner.Scan() {
		doc := Document{
			ID:       strconv.Itoa(n),
			Contents: strings.TrimSpace(scanner.Text()),
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return n, apperrors.InternalError("encode document", err)
		}
		name := filepath.Join(outputDir, fmt.Sprintf("doc%d.json", n))
		if err := os.WriteFile(name, data, 0644); err != nil {
			return n, apperrors.InternalError("write document", err)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, apperrors.InternalError("read corpus", err)
	}
	return n, nil
}
