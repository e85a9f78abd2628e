package knowledge

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	chromem "github.com/philippgille/chromem-go"

	"github.com/capitalize-ai/oncall-dispatch/internal/model"
)

const collectionName = "knowledge"

// SemanticIndex searches the corpus by embedding similarity.
type SemanticIndex struct {
	collection    *chromem.Collection
	minSimilarity float32
}

// NewSemanticIndex embeds every chunk of c into an in-memory vector
// collection. Hits below minSimilarity are dropped.
func NewSemanticIndex(ctx context.Context, c *Corpus, embed chromem.EmbeddingFunc, minSimilarity float32) (*SemanticIndex, error) {
	db := chromem.NewDB()
	col, err := db.GetOrCreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector collection: %w", err)
	}

	docs := make([]chromem.Document, 0, len(c.chunks))
	for _, ch := range c.chunks {
		src := c.docs[ch.doc]
		docs = append(docs, chromem.Document{
			ID:      src.Source + "#" + strconv.Itoa(ch.index),
			Content: ch.text,
			Metadata: map[string]string{
				"title":  src.Title,
				"source": src.Source,
			},
		})
	}
	if len(docs) > 0 {
		if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return nil, fmt.Errorf("failed to index knowledge base: %w", err)
		}
	}

	return &SemanticIndex{collection: col, minSimilarity: minSimilarity}, nil
}

// Search returns up to maxResults hits, one per document, most similar first.
func (s *SemanticIndex) Search(ctx context.Context, query string, maxResults int) ([]model.SearchHit, error) {
	count := s.collection.Count()
	if count == 0 || query == "" {
		return nil, nil
	}
	if maxResults <= 0 {
		maxResults = 3
	}
	// Query rejects nResults above the collection size. Ask for extra chunks
	// so several chunks of one document do not crowd out other documents.
	n := min(maxResults*3, count)

	results, err := s.collection.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}

	seen := make(map[string]bool)
	hits := make([]model.SearchHit, 0, maxResults)
	for _, r := range results {
		if r.Similarity < s.minSimilarity {
			continue
		}
		src := r.Metadata["source"]
		if seen[src] {
			continue
		}
		seen[src] = true
		hits = append(hits, model.SearchHit{
			Title:   r.Metadata["title"],
			Excerpt: excerpt(r.Content),
			Source:  src,
			Score:   float64(r.Similarity),
		})
		if len(hits) == maxResults {
			break
		}
	}
	return hits, nil
}
