package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/didi/gendry/builder"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/dbutil"
	appErr "github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/errors"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/timeutil"
)

var documentColumns = []string{"id", "url", "title", "raw_content", "cleaned_content", "word_count", "status", "error_message", "metadata_json", "scraped_at", "mtime"}

type DocumentRepo struct {
	db *sql.DB
}

func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// Create inserts doc. A second document with the same URL yields ErrConflict.
func (r *DocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	meta, err := encodeMetadata(doc.Metadata)
	if err != nil {
		return err
	}
	data := map[string]interface{}{
		"id":              doc.ID,
		"url":             doc.URL,
		"title":           doc.Title,
		"raw_content":     doc.RawContent,
		"cleaned_content": doc.CleanedContent,
		"word_count":      doc.WordCount,
		"status":          string(doc.Status),
		"error_message":   doc.ErrorMessage,
		"metadata_json":   meta,
		"scraped_at":      doc.ScrapedAt,
		"mtime":           doc.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("documents", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*model.Document, error) {
	return r.getOne(ctx, map[string]interface{}{"id": id})
}

func (r *DocumentRepo) GetByURL(ctx context.Context, url string) (*model.Document, error) {
	return r.getOne(ctx, map[string]interface{}{"url": url})
}

func (r *DocumentRepo) getOne(ctx context.Context, where map[string]interface{}) (*model.Document, error) {
	sqlStr, args, err := builder.BuildSelect("documents", where, documentColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return nil, appErr.ErrNotFound
	}
	return scanDocument(rows)
}

// ListByStatus returns documents in the given status, oldest first.
func (r *DocumentRepo) ListByStatus(ctx context.Context, status model.DocumentStatus, limit uint) ([]model.Document, error) {
	where := map[string]interface{}{
		"status":   string(status),
		"_orderby": "scraped_at asc",
	}
	if limit > 0 {
		where["_limit"] = []uint{0, limit}
	}
	sqlStr, args, err := builder.BuildSelect("documents", where, documentColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	docs := make([]model.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func (r *DocumentRepo) UpdateStatus(ctx context.Context, id string, status model.DocumentStatus, errMsg string) error {
	where := map[string]interface{}{"id": id}
	update := map[string]interface{}{
		"status":        string(status),
		"error_message": truncateMessage(errMsg),
		"mtime":         timeutil.NowUnix(),
	}
	sqlStr, args, err := builder.BuildUpdate("documents", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.NotFound("document", id)
	}
	return nil
}

// ResetFailed moves failed documents back to pending and returns how many moved.
func (r *DocumentRepo) ResetFailed(ctx context.Context) (int64, error) {
	const query = `UPDATE documents SET status = $1, error_message = '', mtime = $2 WHERE status = $3`
	res, err := r.db.ExecContext(ctx, query, string(model.DocumentStatusPending), timeutil.NowUnix(), string(model.DocumentStatusFailed))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *DocumentRepo) CountByStatus(ctx context.Context) (map[string]int64, error) {
	const query = `SELECT status, COUNT(*) FROM documents GROUP BY status`
	return countGrouped(ctx, r.db, query)
}

func countGrouped(ctx context.Context, db *sql.DB, query string) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	result := make(map[string]int64)
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		result[key] = count
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var doc model.Document
	var status string
	var meta string
	if err := row.Scan(&doc.ID, &doc.URL, &doc.Title, &doc.RawContent, &doc.CleanedContent, &doc.WordCount, &status, &doc.ErrorMessage, &meta, &doc.ScrapedAt, &doc.Mtime); err != nil {
		return nil, err
	}
	doc.Status = model.DocumentStatus(status)
	md, err := decodeMetadata(meta)
	if err != nil {
		return nil, err
	}
	doc.Metadata = md
	return &doc, nil
}

func encodeMetadata(m model.Metadata) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeMetadata(raw string) (model.Metadata, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var m model.Metadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}
