// Package event はリアルタイムチャネルで配信するイベントの型を定義する。
//
// イベントはトピック単位で配信され、購読していないクライアントには届かない。
// 永続化は行わないため、取りこぼしたイベントは通知一覧APIで補う。
package event

import (
	"encoding/json"
	"time"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeNotificationCreated は新しい通知が作成されたことを表す。
	TypeNotificationCreated Type = "notification.created"
)

// Event はリアルタイムチャネル上を流れる配信単位。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// Topic は配信先のトピック名（例: "notification::<userId>"）。
	Topic string `json:"topic"`
	// Type はイベントの種類。
	Type Type `json:"type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントが生成された日時。
	CreatedAt time.Time `json:"createdAt"`
}

// NotificationData はnotification.createdイベントのデータ。
// 利用者向けの配信ではUserID、管理者向けの配信ではAdminIDが設定される。
type NotificationData struct {
	// NotificationID は永続化済みの通知レコードのID。
	NotificationID string `json:"notificationId"`
	// UserID は通知対象のユーザーID。
	UserID string `json:"userId,omitempty"`
	// AdminID は通知先の管理者ID。
	AdminID string `json:"adminId,omitempty"`
	// Message は表示するメッセージ。
	Message string `json:"message"`
}
