package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Notification はnotificationsテーブルの1行。作成後は変更されない。
// TargetUserID は管理者のみの通知では空、AdminRecipientIDs は作成時点の管理者ID。
type Notification struct {
	ID                string
	TargetUserID      string
	AdminRecipientIDs []string
	UserMessage       string
	AdminMessage      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CreateNotificationParams は通知作成の引数。空文字のメッセージはNULLとして保存する。
type CreateNotificationParams struct {
	ID                string
	TargetUserID      string
	AdminRecipientIDs []string
	UserMessage       string
	AdminMessage      string
}

const notificationColumns = `id, target_user_id, admin_recipient_ids, user_message, admin_message, created_at, updated_at`

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func scanNotification(r rowScanner) (Notification, error) {
	var (
		n                         Notification
		target, userMsg, adminMsg sql.NullString
		admins, created, updated  string
	)
	if err := r.Scan(&n.ID, &target, &admins, &userMsg, &adminMsg, &created, &updated); err != nil {
		return Notification{}, mapError(err)
	}
	n.TargetUserID = target.String
	n.UserMessage = userMsg.String
	n.AdminMessage = adminMsg.String
	if err := json.Unmarshal([]byte(admins), &n.AdminRecipientIDs); err != nil {
		return Notification{}, fmt.Errorf("管理者IDの解析に失敗: %w", err)
	}
	var err error
	if n.CreatedAt, err = parseTime(created); err != nil {
		return Notification{}, err
	}
	if n.UpdatedAt, err = parseTime(updated); err != nil {
		return Notification{}, err
	}
	return n, nil
}

// CreateNotification は通知を1件作成する。
func (q *Queries) CreateNotification(ctx context.Context, arg CreateNotificationParams) (Notification, error) {
	if arg.UserMessage == "" && arg.AdminMessage == "" {
		return Notification{}, fmt.Errorf("通知メッセージが空です")
	}
	admins := arg.AdminRecipientIDs
	if admins == nil {
		admins = []string{}
	}
	encoded, err := json.Marshal(admins)
	if err != nil {
		return Notification{}, fmt.Errorf("管理者IDのエンコードに失敗: %w", err)
	}

	now := q.timestamp()
	return scanNotification(q.db.QueryRowContext(ctx, `
		INSERT INTO notifications (id, target_user_id, admin_recipient_ids, user_message, admin_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING `+notificationColumns,
		arg.ID, nullString(arg.TargetUserID), string(encoded),
		nullString(arg.UserMessage), nullString(arg.AdminMessage), now, now))
}

// CreateNotifications は複数の通知を順に作成する。呼び出し側でトランザクションを張ること。
func (q *Queries) CreateNotifications(ctx context.Context, args []CreateNotificationParams) ([]Notification, error) {
	created := make([]Notification, 0, len(args))
	for _, arg := range args {
		n, err := q.CreateNotification(ctx, arg)
		if err != nil {
			return nil, err
		}
		created = append(created, n)
	}
	return created, nil
}

func (q *Queries) queryNotifications(ctx context.Context, query string, args ...any) ([]Notification, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	list := []Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

// ListAdminNotifications は管理者向けメッセージを持つ通知を新しい順に返す。
func (q *Queries) ListAdminNotifications(ctx context.Context, limit, offset int) ([]Notification, error) {
	return q.queryNotifications(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE admin_message IS NOT NULL
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`, limit, offset)
}

// CountAdminNotifications は管理者向けメッセージを持つ通知の件数を返す。
func (q *Queries) CountAdminNotifications(ctx context.Context) (int64, error) {
	var n int64
	if err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE admin_message IS NOT NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("通知数の取得に失敗: %w", err)
	}
	return n, nil
}

// ListUserNotifications は利用者宛ての通知を新しい順に返す。
func (q *Queries) ListUserNotifications(ctx context.Context, userID string, limit, offset int) ([]Notification, error) {
	return q.queryNotifications(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE target_user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`, userID, limit, offset)
}

// CountUserNotifications は利用者宛ての通知の件数を返す。
func (q *Queries) CountUserNotifications(ctx context.Context, userID string) (int64, error) {
	var n int64
	if err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE target_user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("通知数の取得に失敗: %w", err)
	}
	return n, nil
}

// CreateNotificationBatch は複数の通知を1つのトランザクションで作成する。
func (s *Store) CreateNotificationBatch(ctx context.Context, args []CreateNotificationParams) ([]Notification, error) {
	var created []Notification
	err := s.InTx(ctx, func(q *Queries) error {
		var err error
		created, err = q.CreateNotifications(ctx, args)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}
