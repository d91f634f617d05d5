package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/zenlist/notifier/pkg/database"
)

const notificationColumns = `id, user_id, related_item_id, message, type, repeatable, read, read_at, created_at, updated_at`

// Repository handles database operations for notifications.
type Repository struct {
	db  database.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return NewTestRepository(database.Wrap(db))
}

// NewTestRepository builds a Repository over any database.DB, e.g. database.MockDB.
func NewTestRepository(db database.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func scanNotification(row database.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.UserID, &n.RelatedItemID, &n.Message, &n.Type, &n.Repeatable,
		&n.Read, &n.ReadAt, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// FindByKey returns the non-repeatable notification holding key, or ErrNotFound.
func (r *Repository) FindByKey(ctx context.Context, key Key) (*Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1 AND COALESCE(related_item_id, '') = $2 AND type = $3 AND repeatable = FALSE
	`
	n, err := scanNotification(r.db.QueryRowContext(ctx, query, key.UserID, key.related(), key.Type))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find notification %s: %w", key, err)
	}
	return n, nil
}

func (r *Repository) FindByID(ctx context.Context, userID, id string) (*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1 AND user_id = $2`
	n, err := scanNotification(r.db.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find notification %s: %w", id, err)
	}
	return n, nil
}

// Create inserts a new notification into the database.
// A unique index violation is reported as ErrDuplicateKey.
func (r *Repository) Create(ctx context.Context, n *Notification) error {
	n.ID = uuid.New().String()
	n.CreatedAt = r.now().UTC()
	n.UpdatedAt = n.CreatedAt
	n.Read = false
	n.ReadAt = nil

	query := `
		INSERT INTO notifications (id, user_id, related_item_id, message, type, repeatable, read, read_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, NULL, $7, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		n.ID, n.UserID, n.RelatedItemID, n.Message, n.Type, n.Repeatable, n.CreatedAt,
	)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("create notification %s: %w", n.Key(), ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("create notification %s: %w", n.Key(), err)
	}
	return nil
}

// UpdateByID rewrites the message of an existing notification and marks it unread again.
func (r *Repository) UpdateByID(ctx context.Context, id, message string) (*Notification, error) {
	query := `
		UPDATE notifications
		SET message = $1, read = FALSE, read_at = NULL, updated_at = $2
		WHERE id = $3
		RETURNING ` + notificationColumns
	n, err := scanNotification(r.db.QueryRowContext(ctx, query, message, r.now().UTC(), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update notification %s: %w", id, err)
	}
	return n, nil
}

// MarkRead marks unread notifications of userID as read and returns how many changed.
func (r *Repository) MarkRead(ctx context.Context, userID string, sel ReadSelector) (int64, error) {
	now := r.now().UTC()
	var (
		res sql.Result
		err error
	)
	switch {
	case sel.All:
		res, err = r.db.ExecContext(ctx, `
			UPDATE notifications SET read = TRUE, read_at = $1, updated_at = $1
			WHERE user_id = $2 AND read = FALSE
		`, now, userID)
	case len(sel.IDs) > 0:
		res, err = r.db.ExecContext(ctx, `
			UPDATE notifications SET read = TRUE, read_at = $1, updated_at = $1
			WHERE user_id = $2 AND read = FALSE AND id = ANY($3)
		`, now, userID, pq.Array(sel.IDs))
	default:
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("mark read for %s: %w", userID, err)
	}
	return res.RowsAffected()
}

// DeleteOldRead removes read notifications created before olderThan.
func (r *Repository) DeleteOldRead(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE read = TRUE AND created_at < $1`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete old read notifications: %w", err)
	}
	return res.RowsAffected()
}

func (r *Repository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete notifications for %s: %w", userID, err)
	}
	return res.RowsAffected()
}

// ListForUser retrieves a page of notifications for a given user, newest first.
func (r *Repository) ListForUser(ctx context.Context, userID string, opts ListOptions) ([]*Notification, error) {
	opts = opts.normalized()

	var b strings.Builder
	b.WriteString(`SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = $1`)
	if opts.UnreadOnly {
		b.WriteString(` AND read = FALSE`)
	}
	b.WriteString(` ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`)

	rows, err := r.db.QueryContext(ctx, b.String(), userID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications for %s: %w", userID, err)
	}
	defer rows.Close()

	notifications := make([]*Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (r *Repository) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read = FALSE`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread for %s: %w", userID, err)
	}
	return count, nil
}
