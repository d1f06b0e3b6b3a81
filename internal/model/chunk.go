package model

type EmbeddingStatus string

const (
	EmbeddingStatusPending  EmbeddingStatus = "pending"
	EmbeddingStatusEmbedded EmbeddingStatus = "embedded"
	EmbeddingStatusFailed   EmbeddingStatus = "failed"
)

type Chunk struct {
	ID              string          `json:"id"`
	DocumentID      string          `json:"document_id"`
	Text            string          `json:"text"`
	Index           int             `json:"index"`
	Size            int             `json:"size"`
	EmbeddingStatus EmbeddingStatus `json:"embedding_status"`
	VectorID        string          `json:"vector_id,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	Metadata        Metadata        `json:"metadata,omitempty"`
	Ctime           int64           `json:"ctime"`
	Mtime           int64           `json:"mtime"`
}

// ChunkWithDocument is a chunk joined with the citation fields of its owner.
type ChunkWithDocument struct {
	Chunk
	DocumentTitle string `json:"document_title"`
	DocumentURL   string `json:"document_url"`
}
