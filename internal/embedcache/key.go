package embedcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync/atomic"
)

// Counters tracks lookups served by a cache layer.
type Counters struct {
	hits   atomic.Int64
	misses atomic.Int64
}

func (c *Counters) Hits() int64   { return c.hits.Load() }
func (c *Counters) Misses() int64 { return c.misses.Load() }

// cacheKey identifies an embedding by model, task type and a hash of the
// whitespace-trimmed text.
type cacheKey struct {
	model       string
	taskType    string
	contentHash string
}

func newCacheKey(modelName, taskType, text string) cacheKey {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = "unknown"
	}
	hash := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return cacheKey{
		model:       modelName,
		taskType:    taskType,
		contentHash: hex.EncodeToString(hash[:]),
	}
}

func (k cacheKey) String() string {
	return "embed:" + k.model + ":" + k.taskType + ":" + k.contentHash
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
