package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/dbutil"
	appErr "github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/errors"
)

var conversationColumns = []string{"id", "session_id", "title", "status", "started_at", "last_message_at"}

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

func (r *ConversationRepo) Create(ctx context.Context, conv *model.Conversation) error {
	data := map[string]interface{}{
		"id":              conv.ID,
		"session_id":      conv.SessionID,
		"title":           conv.Title,
		"status":          string(conv.Status),
		"started_at":      conv.StartedAt,
		"last_message_at": conv.LastMessageAt,
	}
	sqlStr, args, err := builder.BuildInsert("conversations", []map[string]interface{}{data})
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

func (r *ConversationRepo) GetBySession(ctx context.Context, sessionID string) (*model.Conversation, error) {
	return r.getOne(ctx, map[string]interface{}{"session_id": sessionID})
}

func (r *ConversationRepo) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	return r.getOne(ctx, map[string]interface{}{"id": id})
}

func (r *ConversationRepo) getOne(ctx context.Context, where map[string]interface{}) (*model.Conversation, error) {
	sqlStr, args, err := builder.BuildSelect("conversations", where, conversationColumns)
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
	var conv model.Conversation
	var status string
	if err := rows.Scan(&conv.ID, &conv.SessionID, &conv.Title, &status, &conv.StartedAt, &conv.LastMessageAt); err != nil {
		return nil, err
	}
	conv.Status = model.ConversationStatus(status)
	return &conv, nil
}

// Touch bumps last_message_at and fills the title if it is still empty.
func (r *ConversationRepo) Touch(ctx context.Context, id, title string, at int64) error {
	const query = `
		UPDATE conversations
		SET last_message_at = $1,
			title = CASE WHEN title = '' THEN $2 ELSE title END
		WHERE id = $3
	`
	res, err := r.db.ExecContext(ctx, query, at, title, id)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return appErr.NotFound("conversation", id)
	}
	return nil
}

func (r *ConversationRepo) UpdateStatus(ctx context.Context, id string, status model.ConversationStatus) error {
	sqlStr, args, err := builder.BuildUpdate("conversations", map[string]interface{}{"id": id}, map[string]interface{}{
		"status": string(status),
	})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return appErr.NotFound("conversation", id)
	}
	return nil
}

func (r *ConversationRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&n)
	return n, err
}
