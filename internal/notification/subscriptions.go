package notification

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zenlist/notifier/pkg/database"
)

// SubscriptionRepository stores push subscriptions in Postgres.
type SubscriptionRepository struct {
	db  database.DB
	now func() time.Time
}

func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return NewTestSubscriptionRepository(database.Wrap(db))
}

func NewTestSubscriptionRepository(db database.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db, now: time.Now}
}

// Upsert relies on the (user_id, endpoint) unique constraint. xmax = 0 only holds for
// freshly inserted tuples, which tells a create from a refresh.
func (r *SubscriptionRepository) Upsert(ctx context.Context, sub *Subscription) (bool, error) {
	now := r.now().UTC()
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	query := `
		INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh, auth, user_agent, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (user_id, endpoint) DO UPDATE
		SET p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth, user_agent = EXCLUDED.user_agent, last_used_at = EXCLUDED.last_used_at
		RETURNING id, created_at, last_used_at, (xmax = 0)
	`
	var created bool
	err := r.db.QueryRowContext(ctx, query,
		sub.ID, sub.UserID, sub.Endpoint, sub.Keys.P256dh, sub.Keys.Auth, sub.UserAgent, now,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.LastUsedAt, &created)
	if err != nil {
		return false, fmt.Errorf("upsert subscription for %s: %w", sub.UserID, err)
	}
	return created, nil
}

func (r *SubscriptionRepository) ListForUser(ctx context.Context, userID string) ([]*Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, endpoint, p256dh, auth, user_agent, created_at, last_used_at
		FROM push_subscriptions WHERE user_id = $1 ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for %s: %w", userID, err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		var s Subscription
		if err := rows.Scan(&s.ID, &s.UserID, &s.Endpoint, &s.Keys.P256dh, &s.Keys.Auth,
			&s.UserAgent, &s.CreatedAt, &s.LastUsedAt); err != nil {
			return nil, err
		}
		subs = append(subs, &s)
	}
	return subs, rows.Err()
}

func (r *SubscriptionRepository) Delete(ctx context.Context, userID, endpoint string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE user_id = $1 AND endpoint = $2`, userID, endpoint)
	if err != nil {
		return false, fmt.Errorf("delete subscription for %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *SubscriptionRepository) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete subscription %s: %w", id, err)
	}
	return nil
}

func (r *SubscriptionRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE push_subscriptions SET last_used_at = $1 WHERE id = $2`, at.UTC(), id); err != nil {
		return fmt.Errorf("touch subscription %s: %w", id, err)
	}
	return nil
}

func (r *SubscriptionRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete subscriptions for %s: %w", userID, err)
	}
	return res.RowsAffected()
}

// DeleteUnusedSince drops subscriptions that have not delivered anything since cutoff.
func (r *SubscriptionRepository) DeleteUnusedSince(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE last_used_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete unused subscriptions: %w", err)
	}
	return res.RowsAffected()
}
