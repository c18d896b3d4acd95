package dataset

import (
	"fmt"

	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
)

// Document is one corpus record.
type Document struct {
	ID       string `json:"id"`
	Contents string `json:"contents"`
}

// Collection is a document set keyed by ID that remembers load order.
// Load order is the tie-break order for equal similarity scores.
type Collection struct {
	docs  []Document
	index map[string]int
}

// NewCollection builds a collection. Duplicate or empty IDs are format errors.
func NewCollection(docs []Document) (*Collection, error) {
	c := &Collection{
		docs:  make([]Document, 0, len(docs)),
		index: make(map[string]int, len(docs)),
	}
	for i, d := range docs {
		if d.ID == "" {
			return nil, apperrors.FormatError(fmt.Sprintf("document %d has an empty id", i))
		}
		if _, dup := c.index[d.ID]; dup {
			return nil, apperrors.FormatError(fmt.Sprintf("duplicate document id %q", d.ID)).
				WithDetail("doc_id", d.ID)
		}
		c.index[d.ID] = len(c.docs)
		c.docs = append(c.docs, d)
	}
	return c, nil
}

// Len returns the number of documents.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.docs)
}

// At returns the document at load position i.
func (c *Collection) At(i int) Document {
	return c.docs[i]
}

// Get looks up a document by ID.
func (c *Collection) Get(id string) (Document, bool) {
	i, ok := c.index[id]
	if !ok {
		return Document{}, false
	}
	return c.docs[i], true
}

// IDs returns document IDs in load order.
func (c *Collection) IDs() []string {
	ids := make([]string, len(c.docs))
	for i, d := range c.docs {
		ids[i] = d.ID
	}
	return ids
}

// Texts returns document contents in load order.
func (c *Collection) Texts() []string {
	texts := make([]string, len(c.docs))
	for i, d := range c.docs {
		texts[i] = d.Contents
	}
	return texts
}
