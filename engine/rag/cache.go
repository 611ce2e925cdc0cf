package rag

import (
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/WessleyAI/docqa/engine/domain"
	"github.com/WessleyAI/docqa/pkg/atomicfile"
)

type cacheMeta struct {
	Document string  `json:"document,omitempty"`
	Position int     `json:"position,omitempty"`
	Distance float32 `json:"distance"`
	Rank     int     `json:"rank,omitempty"`
}

type cacheDoc struct {
	PageContent string    `json:"page_content"`
	Metadata    cacheMeta `json:"metadata"`
}

type cacheFile struct {
	Query string     `json:"query"`
	Docs  []cacheDoc `json:"similarity_search_docs"`
}

// SaveCache writes a retrieval result to path as JSON.
func SaveCache(path string, res domain.RetrievalResult) error {
	cf := cacheFile{Query: res.Query, Docs: make([]cacheDoc, len(res.Hits))}
	for i, h := range res.Hits {
		cf.Docs[i] = cacheDoc{
			PageContent: h.Text,
			Metadata:    cacheMeta{Document: h.ID.Document, Position: h.ID.Position, Distance: h.Distance, Rank: h.Rank},
		}
	}
	err := atomicfile.Write(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(cf)
	})
	if err != nil {
		return &domain.StorageError{Op: "write cache", Path: path, Err: err}
	}
	return nil
}

// LoadCache reads a retrieval result written by SaveCache. Hits without a
// recorded rank are ranked by file order.
func LoadCache(path string) (domain.RetrievalResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.RetrievalResult{}, &domain.StorageError{Op: "read cache", Path: path, Err: err}
	}
	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return domain.RetrievalResult{}, &domain.StorageError{Op: "decode cache", Path: path, Err: err}
	}
	if cf.Query == "" {
		return domain.RetrievalResult{}, &domain.StorageError{Op: "decode cache", Path: path, Err: errors.New("missing query")}
	}

	res := domain.RetrievalResult{Query: cf.Query, Hits: make([]domain.Hit, len(cf.Docs))}
	for i, d := range cf.Docs {
		rank := d.Metadata.Rank
		if rank == 0 {
			rank = i + 1
		}
		res.Hits[i] = domain.Hit{
			ID:       domain.SegmentID{Document: d.Metadata.Document, Position: d.Metadata.Position},
			Text:     d.PageContent,
			Distance: d.Metadata.Distance,
			Rank:     rank,
		}
	}
	return res, nil
}
