package memory

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"
)

// SemanticIndex is an optional embedding-backed search layer selected via
// memory_backend: "semantic" in config. It indexes long_term entries
// alongside the markdown store (which remains the source of truth) so
// SemanticContext can rank by semantic similarity when an embedding
// function is available; Store.Search itself still ranks by word overlap.
type SemanticIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedFunc  chromem.EmbeddingFunc
}

// NewSemanticIndex opens (or creates) a chromem-go collection persisted
// under baseDir/semantic. embedFunc is typically
// chromem.NewEmbeddingFuncOpenAI or chromem.NewEmbeddingFuncDefault — left
// to the caller so memory never imports a specific provider SDK.
func NewSemanticIndex(baseDir string, embedFunc chromem.EmbeddingFunc) (*SemanticIndex, error) {
	db, err := chromem.NewPersistentDB(baseDir+"/semantic", false)
	if err != nil {
		return nil, fmt.Errorf("open semantic index: %w", err)
	}
	col, err := db.GetOrCreateCollection("memory", nil, embedFunc)
	if err != nil {
		return nil, fmt.Errorf("open semantic collection: %w", err)
	}
	return &SemanticIndex{db: db, collection: col, embedFunc: embedFunc}, nil
}

// Index upserts an entry's content for semantic recall.
func (si *SemanticIndex) Index(ctx context.Context, e Entry) error {
	meta := map[string]string{"type": string(e.Type)}
	for k, v := range e.Metadata {
		meta[k] = v
	}
	return si.collection.AddDocument(ctx, chromem.Document{
		ID:       e.ID,
		Content:  e.Content,
		Metadata: meta,
	})
}

// Query returns the ids of the nMost semantically similar entries to
// query. Callers resolve ids back to Entry via Store.Get.
func (si *SemanticIndex) Query(ctx context.Context, query string, nMost int) ([]string, error) {
	if si.collection.Count() == 0 {
		return nil, nil
	}
	if nMost > si.collection.Count() {
		nMost = si.collection.Count()
	}
	results, err := si.collection.Query(ctx, query, nMost, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("semantic query: %w", err)
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids, nil
}
