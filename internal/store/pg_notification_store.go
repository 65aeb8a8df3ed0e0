package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/dispatch/internal/domain"
)

// PgNotificationStore is a PostgreSQL-backed NotificationStore. The
// recipient, content, and attempt log are stored as JSONB; the columns the
// queries filter on (user, tenant, status, type, timing) are first-class.
type PgNotificationStore struct {
	pool *pgxpool.Pool
}

func NewPgNotificationStore(pool *pgxpool.Pool) *PgNotificationStore {
	return &PgNotificationStore{pool: pool}
}

const notificationColumns = `
	id, type, category, priority, recipient, content, status, attempts,
	max_attempts, scheduled_at, send_after, expires_at, sent_at,
	template_id, group_id, thread_id, tenant_id, created_at, updated_at`

func (s *PgNotificationStore) Create(ctx context.Context, n *domain.Notification) error {
	recipient, content, attempts, err := marshalNotification(n)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		n.ID, n.Type, n.Category, n.Priority, recipient, content, n.Status, attempts,
		n.MaxAttempts, n.ScheduledAt, n.SendAfter, n.ExpiresAt, n.SentAt,
		n.TemplateID, n.GroupID, n.ThreadID, n.TenantID, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PgNotificationStore) Get(ctx context.Context, id string) (*domain.Notification, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)
	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return n, err
}

func (s *PgNotificationStore) Update(ctx context.Context, n *domain.Notification) error {
	recipient, content, attempts, err := marshalNotification(n)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications SET
			type = $2, category = $3, priority = $4, recipient = $5,
			content = $6, status = $7, attempts = $8, max_attempts = $9,
			scheduled_at = $10, send_after = $11, expires_at = $12,
			sent_at = $13, template_id = $14, group_id = $15,
			thread_id = $16, tenant_id = $17, updated_at = $18
		WHERE id = $1`,
		n.ID, n.Type, n.Category, n.Priority, recipient, content, n.Status,
		attempts, n.MaxAttempts, n.ScheduledAt, n.SendAfter, n.ExpiresAt,
		n.SentAt, n.TemplateID, n.GroupID, n.ThreadID, n.TenantID, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *PgNotificationStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *PgNotificationStore) List(ctx context.Context, f NotificationFilter) ([]*domain.Notification, int, error) {
	where := " WHERE 1=1"
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		where += fmt.Sprintf(clause, len(args))
	}
	if f.UserID != nil {
		add(" AND recipient->>'user_id' = $%d", *f.UserID)
	}
	if f.TenantID != nil {
		add(" AND tenant_id = $%d", *f.TenantID)
	}
	if f.Status != nil {
		add(" AND status = $%d", *f.Status)
	}
	if f.Type != nil {
		add(" AND type = $%d", *f.Type)
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM notifications"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(
		`SELECT `+notificationColumns+` FROM notifications%s
		 ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifications, err := scanNotifications(rows)
	return notifications, total, err
}

func (s *PgNotificationStore) DuePending(ctx context.Context, now time.Time) ([]*domain.Notification, error) {
	// Expired pending notifications are cancelled in place first.
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications SET status = 'cancelled', updated_at = $1
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at < $1`, now)
	if err != nil {
		return nil, fmt.Errorf("cancel expired notifications: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE status = 'pending'
		  AND (scheduled_at IS NULL OR scheduled_at <= $1)
		  AND (send_after IS NULL OR send_after <= $1)
		ORDER BY created_at ASC
		LIMIT 500`, now)
	if err != nil {
		return nil, fmt.Errorf("find due pending: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// ---- helpers ----

func marshalNotification(n *domain.Notification) (recipient, content, attempts []byte, err error) {
	if recipient, err = json.Marshal(n.Recipient); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal recipient: %w", err)
	}
	if content, err = json.Marshal(n.Content); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal content: %w", err)
	}
	if attempts, err = json.Marshal(n.Attempts); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal attempts: %w", err)
	}
	return recipient, content, attempts, nil
}

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	var recipient, content, attempts []byte
	err := row.Scan(
		&n.ID, &n.Type, &n.Category, &n.Priority, &recipient, &content,
		&n.Status, &attempts, &n.MaxAttempts, &n.ScheduledAt, &n.SendAfter,
		&n.ExpiresAt, &n.SentAt, &n.TemplateID, &n.GroupID, &n.ThreadID,
		&n.TenantID, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(recipient, &n.Recipient); err != nil {
		return nil, fmt.Errorf("unmarshal recipient: %w", err)
	}
	if err := json.Unmarshal(content, &n.Content); err != nil {
		return nil, fmt.Errorf("unmarshal content: %w", err)
	}
	if err := json.Unmarshal(attempts, &n.Attempts); err != nil {
		return nil, fmt.Errorf("unmarshal attempts: %w", err)
	}
	return &n, nil
}

func scanNotifications(rows pgx.Rows) ([]*domain.Notification, error) {
	var result []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

// compile-time check that both implementations satisfy the contract
var (
	_ NotificationStore = (*PgNotificationStore)(nil)
	_ NotificationStore = (*MemoryNotificationStore)(nil)
)
