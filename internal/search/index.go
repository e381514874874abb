// Package search provides full-text search over decrypted documents using Bleve.
//
// The index holds plaintext and therefore lives strictly on the local disk,
// never in the replicated store. It is rebuilt from the owner's documents and
// maintained incrementally on create, update, and delete.
package search

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/google/uuid"

	"github.com/aryanshm/foliage/internal/docs"
)

// Index wraps Bleve for full-text document search
type Index struct {
	index bleve.Index
	path  string
}

// entry is the indexed document shape
type entry struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

// NewIndex creates or opens a Bleve index at the given path
func NewIndex(dataDir string) (*Index, error) {
	indexPath := filepath.Join(dataDir, "search.bleve")

	idx, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(indexPath, buildMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	return &Index{
		index: idx,
		path:  indexPath,
	}, nil
}

// NewMemoryIndex creates an in-memory index for testing
func NewMemoryIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, err
	}
	return &Index{index: idx}, nil
}

func buildMapping() mapping.IndexMapping {
	m := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()

	titleField := bleve.NewTextFieldMapping()
	titleField.Analyzer = "standard"
	docMapping.AddFieldMappingsAt("title", titleField)

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = "standard"
	docMapping.AddFieldMappingsAt("content", contentField)

	tagsField := bleve.NewTextFieldMapping()
	tagsField.Analyzer = "keyword"
	docMapping.AddFieldMappingsAt("tags", tagsField)

	m.AddDocumentMapping("document", docMapping)
	return m
}

// IndexDocument adds or updates a decrypted document in the index
func (i *Index) IndexDocument(doc *docs.Document) error {
	return i.index.Index(doc.ID.String(), entry{
		Title:   doc.Title,
		Content: doc.Content,
		Tags:    doc.Tags,
	})
}

// DeleteDocument removes a document from the index
func (i *Index) DeleteDocument(id uuid.UUID) error {
	return i.index.Delete(id.String())
}

// SearchOptions configures a search query
type SearchOptions struct {
	Tags  []string // Require all of these tags
	Limit int      // Max results (default 50)
}

// SearchResult represents a search hit
type SearchResult struct {
	ID    uuid.UUID
	Score float64
}

// Search matches query against document titles and content
func (i *Index) Search(query string, opts SearchOptions) ([]SearchResult, error) {
	titleQuery := bleve.NewMatchQuery(query)
	titleQuery.SetField("title")
	contentQuery := bleve.NewMatchQuery(query)
	contentQuery.SetField("content")
	q := bleve.NewDisjunctionQuery(titleQuery, contentQuery)

	combined := bleve.NewConjunctionQuery(q)
	for _, tag := range opts.Tags {
		tagQuery := bleve.NewTermQuery(tag)
		tagQuery.SetField("tags")
		combined.AddQuery(tagQuery)
	}

	searchReq := bleve.NewSearchRequest(combined)
	searchReq.Size = opts.Limit
	if searchReq.Size <= 0 {
		searchReq.Size = 50
	}

	searchRes, err := i.index.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]SearchResult, 0, len(searchRes.Hits))
	for _, hit := range searchRes.Hits {
		id, err := uuid.Parse(hit.ID)
		if err != nil {
			continue
		}
		results = append(results, SearchResult{
			ID:    id,
			Score: hit.Score,
		})
	}

	return results, nil
}

// Close closes the index
func (i *Index) Close() error {
	return i.index.Close()
}

// Delete removes the index from disk
func (i *Index) Delete() error {
	i.index.Close()
	if i.path != "" {
		return os.RemoveAll(i.path)
	}
	return nil
}
