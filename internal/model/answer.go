package model

import "strconv"

type AnswerMetadata struct {
	ChunksUsed int     `json:"chunks_used"`
	AvgScore   float32 `json:"avg_score"`
	Augmented  bool    `json:"augmented"`
	Timestamp  int64   `json:"timestamp"`
	Cached     bool    `json:"cached,omitempty"`
}

// Answer is a generated reply with the passages it was grounded on.
type Answer struct {
	Text     string         `json:"text"`
	Sources  []Source       `json:"sources"`
	Metadata AnswerMetadata `json:"metadata"`
}

// Flatten renders the metadata for storage on a message.
func (m AnswerMetadata) Flatten() Metadata {
	out := Metadata{
		"chunks_used": strconv.Itoa(m.ChunksUsed),
		"avg_score":   strconv.FormatFloat(float64(m.AvgScore), 'f', 4, 32),
		"augmented":   strconv.FormatBool(m.Augmented),
		"timestamp":   strconv.FormatInt(m.Timestamp, 10),
	}
	if m.Cached {
		out["cached"] = "true"
	}
	return out
}
