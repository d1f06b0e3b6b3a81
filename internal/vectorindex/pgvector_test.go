package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/testutil"
)

func TestPGIndex(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	_, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS test_vectors`)
	require.NoError(t, err)

	idx, err := OpenPG(ctx, db, "test_vectors", 3)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()
	exerciseIndex(t, idx)

	_, err = OpenPG(ctx, db, "bad-name; drop", 3)
	require.Error(t, err)
}
