// Package search keeps the Meilisearch semantic index eventually consistent
// with document content and answers search queries, falling back to
// PostgreSQL full-text search when Meilisearch is unavailable.
package search

import "context"

// DocumentRecord is the data pushed into the semantic index. RemoteID is the
// index primary key; it is derived deterministically from the document id so
// racing upserts for the same document collapse into one remote record.
type DocumentRecord struct {
	RemoteID string `json:"id"`
	OwnerID  string `json:"ownerId"`
	Title    string `json:"title"`
	Body     string `json:"body"`
}

// StableKey derives the index primary key for a document.
func StableKey(documentID string) string {
	return "idx_" + documentID
}

// Query describes a search request scoped to one owner.
type Query struct {
	Text    string
	OwnerID string
	Limit   int
	Offset  int
}

// Result is a single search hit returned to the caller.
type Result struct {
	DocumentID string `json:"documentId"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push document records into the semantic index.
type Indexer interface {
	UpsertDocument(rec DocumentRecord) error
	DeleteDocument(remoteID string) error
	Healthy() bool
}

// RecordLoader reads every indexable document, used for startup reindexing.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]DocumentRecord, error)
}
