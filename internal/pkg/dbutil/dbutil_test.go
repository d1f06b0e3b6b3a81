package dbutil

import (
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func TestFinalizeRewritesLimit(t *testing.T) {
	query, args := Finalize("SELECT id FROM chunks WHERE status = ? LIMIT ?,?", []interface{}{"pending", 20, 10})
	require.Equal(t, "SELECT id FROM chunks WHERE status = $1 LIMIT $2 OFFSET $3", query)
	require.Equal(t, []interface{}{"pending", 10, 20}, args)

	query, args = Finalize("DELETE FROM chunks WHERE document_id = ?", []interface{}{"d1"})
	require.Equal(t, "DELETE FROM chunks WHERE document_id = $1", query)
	require.Equal(t, []interface{}{"d1"}, args)
}

func TestPostgresErrorCodes(t *testing.T) {
	dup := fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})
	fk := &pq.Error{Code: "23503"}
	require.True(t, IsConflict(dup))
	require.False(t, IsMissingParent(dup))
	require.True(t, IsMissingParent(fk))
	require.False(t, IsConflict(fmt.Errorf("plain")))
}
