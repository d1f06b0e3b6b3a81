package model

type DocumentStatus string

const (
	DocumentStatusPending   DocumentStatus = "pending"
	DocumentStatusProcessed DocumentStatus = "processed"
	DocumentStatusFailed    DocumentStatus = "failed"
)

type Document struct {
	ID             string         `json:"id"`
	URL            string         `json:"url"`
	Title          string         `json:"title"`
	RawContent     string         `json:"raw_content,omitempty"`
	CleanedContent string         `json:"cleaned_content,omitempty"`
	WordCount      int            `json:"word_count"`
	Status         DocumentStatus `json:"status"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	Metadata       Metadata       `json:"metadata,omitempty"`
	ScrapedAt      int64          `json:"scraped_at"`
	Mtime          int64          `json:"mtime"`
}

// Metadata is a free-form string map persisted as JSON.
type Metadata map[string]string

func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
