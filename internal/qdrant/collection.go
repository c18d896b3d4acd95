package qdrant

import (
	"context"
	"slices"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// ResetCollection drops the collection if present and creates it empty with
// one named sparse vector per point and payload indexes on doc_id and ordinal.
func (c *Client) ResetCollection(ctx context.Context, cfg CollectionConfig) error {
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	name := collectionName(cfg.Name)
	existing, err := c.client.ListCollections(ctx)
	if err != nil {
		return unavailable("list collections", err)
	}
	if slices.Contains(existing, name) {
		if err := c.client.DeleteCollection(ctx, name); err != nil {
			return unavailable("delete collection "+name, err)
		}
	}

	err = c.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		SparseVectorsConfig: &qdrant.SparseVectorConfig{
			Map: map[string]*qdrant.SparseVectorParams{
				SparseVectorName: {
					Index: &qdrant.SparseIndexConfig{
						OnDisk:            qdrant.PtrOf(false),
						FullScanThreshold: qdrant.PtrOf(cfg.FullScanThreshold),
					},
				},
			},
		},
		OnDiskPayload: qdrant.PtrOf(cfg.OnDiskPayload),
	})
	if err != nil {
		return unavailable("create collection "+name, err)
	}

	fields := []struct {
		name string
		typ  qdrant.FieldType
	}{
		{"doc_id", qdrant.FieldType_FieldTypeKeyword},
		{"ordinal", qdrant.FieldType_FieldTypeInteger},
	}
	for _, f := range fields {
		_, err := c.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      f.name,
			FieldType:      qdrant.PtrOf(f.typ),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return unavailable("index payload field "+f.name, err)
		}
	}
	return nil
}

// DropCollection deletes the collection.
func (c *Client) DropCollection(ctx context.Context, name string) error {
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := c.client.DeleteCollection(ctx, collectionName(name)); err != nil {
		return unavailable("delete collection "+name, err)
	}
	return nil
}
