package dataset

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
)

// maxLineSize bounds a single JSONL or text line.
const maxLineSize = 16 * 1024 * 1024

// LoadDocuments loads a collection from path. A directory is read as one
// JSON document per *.json file in natural file-name order; a file is read
// as JSON Lines. Any malformed record aborts the load.
func LoadDocuments(path string) (*Collection, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeNotFound, "documents not found: "+path, err)
	}

	var docs []Document
	if info.IsDir() {
		docs, err = loadDocumentDir(path)
	} else {
		docs, err = loadDocumentLines(path)
	}
	if err != nil {
		return nil, err
	}
	return NewCollection(docs)
}

func loadDocumentDir(dir string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperrors.InternalError("read document directory", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	SortNatural(names)

	docs := make([]Document, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, apperrors.InternalError("read document "+name, err)
		}
		doc, err := parseDocument(data)
		if err != nil {
			return nil, apperrors.FormatError(fmt.Sprintf("%s: %v", name, err)).WithDetail("file", name)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func loadDocumentLines(path string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.InternalError("open documents", err)
	}
	defer f.Close()

	var docs []Document
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		doc, err := parseDocument(raw)
		if err != nil {
			return nil, apperrors.FormatError(fmt.Sprintf("%s:%d: %v", filepath.Base(path), line, err)).
				WithDetail("line", strconv.Itoa(line))
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.InternalError("read documents", err)
	}
	return docs, nil
}

// parseDocument decodes one JSON record and validates it against the document schema.
func parseDocument(data []byte) (Document, error) {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Document{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if errs := validateDocument(instance); len(errs) > 0 {
		return Document{}, fmt.Errorf("schema: %s", strings.Join(errs, "; "))
	}

	obj := instance.(map[string]any)
	return Document{
		ID:       obj["id"].(string),
		Contents: obj["contents"].(string),
	}, nil
}

// LoadQueries reads one query per line, trimmed. Line i is query i; blank
// lines are kept so positions stay stable.
func LoadQueries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeNotFound, "queries not found: "+path, err)
	}
	defer f.Close()

	var queries []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		queries = append(queries, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.InternalError("read queries", err)
	}
	return queries, nil
}

// SaveQueries writes one query per line.
func SaveQueries(path string, queries []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return apperrors.InternalError("create queries directory", err)
	}
	var buf bytes.Buffer
	for _, q := range queries {
		buf.WriteString(strings.ReplaceAll(q, "\n", " "))
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return apperrors.InternalError("write queries", err)
	}
	return nil
}

// SortNatural sorts names in natural order.
func SortNatural(names []string) {
	sort.Slice(names, func(i, j int) bool { return naturalLess(names[i], names[j]) })
}

// naturalLess compares strings with embedded numbers by numeric value,
// so doc2.json sorts before doc10.json.
func naturalLess(a, b string) bool {
	for a != "" && b != "" {
		da, db := isDigit(a[0]), isDigit(b[0])
		if da && db {
			na, ra := leadingDigits(a)
			nb, rb := leadingDigits(b)
			ia, _ := strconv.ParseUint(na, 10, 64)
			ib, _ := strconv.ParseUint(nb, 10, 64)
			if ia != ib {
				return ia < ib
			}
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			a, b = ra, rb
			continue
		}
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func leadingDigits(s string) (digits, rest string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
