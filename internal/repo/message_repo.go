package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/didi/gendry/builder"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/dbutil"
	appErr "github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/errors"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

func (r *MessageRepo) Create(ctx context.Context, msg *model.Message) error {
	sources := msg.Sources
	if sources == nil {
		sources = []model.Source{}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return err
	}
	meta, err := encodeMetadata(msg.Metadata)
	if err != nil {
		return err
	}
	data := map[string]interface{}{
		"id":              msg.ID,
		"conversation_id": msg.ConversationID,
		"role":            string(msg.Role),
		"content":         msg.Content,
		"sources_json":    string(sourcesJSON),
		"metadata_json":   meta,
		"ctime":           msg.CreatedAt,
	}
	sqlStr, args, err := builder.BuildInsert("messages", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		if dbutil.IsMissingParent(err) {
			return appErr.NotFound("conversation", msg.ConversationID)
		}
		return err
	}
	return nil
}

// ListRecent returns the last limit messages of a conversation in
// chronological order. limit 0 returns all of them.
func (r *MessageRepo) ListRecent(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, sources_json, metadata_json, feedback, ctime
		FROM (
			SELECT seq, id, conversation_id, role, content, sources_json, metadata_json, feedback, ctime
			FROM messages
			WHERE conversation_id = $1
			ORDER BY seq DESC
	`
	args := []interface{}{conversationID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	query += `) recent ORDER BY seq ASC`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	msgs := make([]model.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	return msgs, rows.Err()
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*model.Message, error) {
	const query = `
		SELECT id, conversation_id, role, content, sources_json, metadata_json, feedback, ctime
		FROM messages WHERE id = $1
	`
	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return nil, appErr.NotFound("message", id)
	}
	return scanMessage(rows)
}

func (r *MessageRepo) SetFeedback(ctx context.Context, id, feedback string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET feedback = $1 WHERE id = $2`, feedback, id)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return appErr.NotFound("message", id)
	}
	return nil
}

func (r *MessageRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

func scanMessage(row rowScanner) (*model.Message, error) {
	var msg model.Message
	var role, sourcesJSON, meta string
	var feedback sql.NullString
	if err := row.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &sourcesJSON, &meta, &feedback, &msg.CreatedAt); err != nil {
		return nil, err
	}
	msg.Role = model.Role(role)
	if sourcesJSON != "" {
		if err := json.Unmarshal([]byte(sourcesJSON), &msg.Sources); err != nil {
			return nil, err
		}
	}
	if msg.Sources == nil {
		msg.Sources = []model.Source{}
	}
	md, err := decodeMetadata(meta)
	if err != nil {
		return nil, err
	}
	msg.Metadata = md
	if feedback.Valid {
		fb := feedback.String
		msg.Feedback = &fb
	}
	return &msg, nil
}
