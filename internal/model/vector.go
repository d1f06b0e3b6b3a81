package model

// VectorRecord is what the vector index stores for one embedded chunk.
type VectorRecord struct {
	ID       string    `json:"id"`
	Values   []float32 `json:"values"`
	Metadata Metadata  `json:"metadata"`
}

type VectorMatch struct {
	ID       string   `json:"id"`
	Score    float32  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

type IndexStats struct {
	Count     int64 `json:"count"`
	Dimension int   `json:"dimension"`
}

// Metadata keys written alongside every vector record.
const (
	MetaChunkID    = "chunk_id"
	MetaDocumentID = "document_id"
	MetaChunkIndex = "chunk_index"
	MetaTitle      = "title"
	MetaURL        = "url"
)
