package service

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
)

func newID() string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// chunkID is stable per document position, so re-chunking a document
// reuses the same ids and therefore the same vector ids.
func chunkID(documentID string, index int) string {
	return documentID + "-" + strconv.Itoa(index)
}
