package repo

import (
	"context"
	"database/sql"
	"strings"
	"unicode/utf8"

	"github.com/didi/gendry/builder"
	"github.com/jmoiron/sqlx"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/dbutil"
	appErr "github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/errors"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/timeutil"
)

var chunkColumns = []string{"id", "document_id", "text", "chunk_index", "size", "embedding_status", "vector_id", "error_message", "metadata_json", "ctime", "mtime"}

type ChunkRepo struct {
	db *sql.DB
}

func NewChunkRepo(db *sql.DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// ReplaceForDocument atomically drops the chunks of documentID, inserts the
// given ones and marks the document processed.
func (r *ChunkRepo) ReplaceForDocument(ctx context.Context, documentID string, chunks []model.Chunk) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return err
	}
	if len(chunks) > 0 {
		data := make([]map[string]interface{}, 0, len(chunks))
		for _, c := range chunks {
			meta, err := encodeMetadata(c.Metadata)
			if err != nil {
				return err
			}
			data = append(data, map[string]interface{}{
				"id":               c.ID,
				"document_id":      documentID,
				"text":             c.Text,
				"chunk_index":      c.Index,
				"size":             c.Size,
				"embedding_status": string(model.EmbeddingStatusPending),
				"error_message":    "",
				"metadata_json":    meta,
				"ctime":            c.Ctime,
				"mtime":            c.Mtime,
			})
		}
		sqlStr, args, err := builder.BuildInsert("chunks", data)
		if err != nil {
			return err
		}
		sqlStr, args = dbutil.Finalize(sqlStr, args)
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			if dbutil.IsConflict(err) {
				return appErr.ErrConflict
			}
			return err
		}
	}
	res, err := tx.ExecContext(ctx, `UPDATE documents SET status = $1, error_message = '', mtime = $2 WHERE id = $3`,
		string(model.DocumentStatusProcessed), timeutil.NowUnix(), documentID)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return appErr.NotFound("document", documentID)
	}
	return tx.Commit()
}

// ListPending returns up to limit pending chunks, oldest first.
func (r *ChunkRepo) ListPending(ctx context.Context, limit uint) ([]model.Chunk, error) {
	where := map[string]interface{}{
		"embedding_status": string(model.EmbeddingStatusPending),
		"_orderby":         "ctime asc, document_id asc, chunk_index asc",
	}
	if limit > 0 {
		where["_limit"] = []uint{0, limit}
	}
	return r.list(ctx, where)
}

func (r *ChunkRepo) ListByDocument(ctx context.Context, documentID string) ([]model.Chunk, error) {
	return r.list(ctx, map[string]interface{}{
		"document_id": documentID,
		"_orderby":    "chunk_index asc",
	})
}

// ListPage pages through chunks in the given status ordered by id, starting
// after afterID.
func (r *ChunkRepo) ListPage(ctx context.Context, status model.EmbeddingStatus, afterID string, limit uint) ([]model.Chunk, error) {
	where := map[string]interface{}{
		"embedding_status": string(status),
		"_orderby":         "id asc",
		"_limit":           []uint{0, limit},
	}
	if afterID != "" {
		where["id >"] = afterID
	}
	return r.list(ctx, where)
}

func (r *ChunkRepo) GetByID(ctx context.Context, id string) (*model.Chunk, error) {
	chunks, err := r.list(ctx, map[string]interface{}{"id": id})
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, appErr.NotFound("chunk", id)
	}
	return &chunks[0], nil
}

func (r *ChunkRepo) list(ctx context.Context, where map[string]interface{}) ([]model.Chunk, error) {
	sqlStr, args, err := builder.BuildSelect("chunks", where, chunkColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	chunks := make([]model.Chunk, 0)
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *c)
	}
	return chunks, rows.Err()
}

// GetWithDocuments resolves chunk ids to chunks joined with the title and URL
// of their documents. Unknown ids are left out.
func (r *ChunkRepo) GetWithDocuments(ctx context.Context, ids []string) ([]model.ChunkWithDocument, error) {
	if len(ids) == 0 {
		return []model.ChunkWithDocument{}, nil
	}
	query, args, err := sqlx.In(`
		SELECT c.id, c.document_id, c.text, c.chunk_index, c.size, c.embedding_status,
			COALESCE(c.vector_id, ''), c.error_message, c.metadata_json, c.ctime, c.mtime,
			d.title, d.url
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.id IN (?)
	`, ids)
	if err != nil {
		return nil, err
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	items := make([]model.ChunkWithDocument, 0, len(ids))
	for rows.Next() {
		var item model.ChunkWithDocument
		var status, meta string
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.Text, &item.Index, &item.Size, &status,
			&item.VectorID, &item.ErrorMessage, &meta, &item.Ctime, &item.Mtime,
			&item.DocumentTitle, &item.DocumentURL); err != nil {
			return nil, err
		}
		item.EmbeddingStatus = model.EmbeddingStatus(status)
		md, err := decodeMetadata(meta)
		if err != nil {
			return nil, err
		}
		item.Metadata = md
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *ChunkRepo) MarkEmbedded(ctx context.Context, id, vectorID string) error {
	return r.updateOne(ctx, id, map[string]interface{}{
		"embedding_status": string(model.EmbeddingStatusEmbedded),
		"vector_id":        vectorID,
		"error_message":    "",
		"mtime":            timeutil.NowUnix(),
	})
}

func (r *ChunkRepo) MarkFailed(ctx context.Context, id, errMsg string) error {
	return r.updateOne(ctx, id, map[string]interface{}{
		"embedding_status": string(model.EmbeddingStatusFailed),
		"error_message":    truncateMessage(errMsg),
		"mtime":            timeutil.NowUnix(),
	})
}

// MarkPending clears the vector link so the chunk is embedded again.
func (r *ChunkRepo) MarkPending(ctx context.Context, id string) error {
	const query = `UPDATE chunks SET embedding_status = $1, vector_id = NULL, error_message = '', mtime = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, string(model.EmbeddingStatusPending), timeutil.NowUnix(), id)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return appErr.NotFound("chunk", id)
	}
	return nil
}

func (r *ChunkRepo) updateOne(ctx context.Context, id string, update map[string]interface{}) error {
	sqlStr, args, err := builder.BuildUpdate("chunks", map[string]interface{}{"id": id}, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.NotFound("chunk", id)
	}
	return nil
}

// ResetFailed moves failed chunks back to pending.
func (r *ChunkRepo) ResetFailed(ctx context.Context) (int64, error) {
	const query = `UPDATE chunks SET embedding_status = $1, error_message = '', mtime = $2 WHERE embedding_status = $3`
	res, err := r.db.ExecContext(ctx, query, string(model.EmbeddingStatusPending), timeutil.NowUnix(), string(model.EmbeddingStatusFailed))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ResetAll marks every chunk pending and drops its vector link.
func (r *ChunkRepo) ResetAll(ctx context.Context) (int64, error) {
	const query = `UPDATE chunks SET embedding_status = $1, vector_id = NULL, error_message = '', mtime = $2`
	res, err := r.db.ExecContext(ctx, query, string(model.EmbeddingStatusPending), timeutil.NowUnix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *ChunkRepo) CountByStatus(ctx context.Context) (map[string]int64, error) {
	const query = `SELECT embedding_status, COUNT(*) FROM chunks GROUP BY embedding_status`
	return countGrouped(ctx, r.db, query)
}

func scanChunk(row rowScanner) (*model.Chunk, error) {
	var c model.Chunk
	var status, meta string
	var vectorID sql.NullString
	if err := row.Scan(&c.ID, &c.DocumentID, &c.Text, &c.Index, &c.Size, &status, &vectorID, &c.ErrorMessage, &meta, &c.Ctime, &c.Mtime); err != nil {
		return nil, err
	}
	c.VectorID = vectorID.String
	c.EmbeddingStatus = model.EmbeddingStatus(status)
	md, err := decodeMetadata(meta)
	if err != nil {
		return nil, err
	}
	c.Metadata = md
	return &c, nil
}

// truncateMessage caps error text at 1000 runes so multi-byte messages stay
// valid UTF-8.
func truncateMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	const max = 1000
	if utf8.RuneCountInString(msg) <= max {
		return msg
	}
	return string([]rune(msg)[:max])
}
