package model

type ItemFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BatchResult reports a batch run; individual failures never abort the batch.
type BatchResult struct {
	Successful int           `json:"successful"`
	Skipped    int           `json:"skipped"`
	Failed     []ItemFailure `json:"failed"`
}

func (r *BatchResult) Fail(id string, err error) {
	r.Failed = append(r.Failed, ItemFailure{ID: id, Error: err.Error()})
}

func (r *BatchResult) Merge(other BatchResult) {
	r.Successful += other.Successful
	r.Skipped += other.Skipped
	r.Failed = append(r.Failed, other.Failed...)
}

type IngestResult struct {
	DocumentID string `json:"document_id"`
	Skipped    bool   `json:"skipped"`
	Chunks     int    `json:"chunks"`
}

type EmbeddingCache struct {
	ModelName   string    `json:"model_name"`
	TaskType    string    `json:"task_type"`
	ContentHash string    `json:"content_hash"`
	Embedding   []float32 `json:"embedding"`
	Ctime       int64     `json:"ctime"`
}
