package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/pmoji/internal/realtime"
	"github.com/nao1215/pmoji/internal/store"
	"github.com/nao1215/pmoji/pkg/errno"
	"github.com/nao1215/pmoji/pkg/event"
	"github.com/nao1215/pmoji/pkg/pagination"
)

const (
	roleAdmin = "admin"
	roleUser  = "user"
)

// Repository はDispatcherが使用する永続化操作。
type Repository interface {
	ListUserIDsByRole(ctx context.Context, role string) ([]string, error)
	CreateNotification(ctx context.Context, arg store.CreateNotificationParams) (store.Notification, error)
	CreateNotificationBatch(ctx context.Context, args []store.CreateNotificationParams) ([]store.Notification, error)
	ListAdminNotifications(ctx context.Context, limit, offset int) ([]store.Notification, error)
	CountAdminNotifications(ctx context.Context) (int64, error)
	ListUserNotifications(ctx context.Context, userID string, limit, offset int) ([]store.Notification, error)
	CountUserNotifications(ctx context.Context, userID string) (int64, error)
}

// Channel はリアルタイム配信の送信口。realtime.Hub が実装する。
type Channel interface {
	Ready() bool
	Publish(ctx context.Context, ev *event.Event) error
}

// Dispatcher は通知の作成と配信を行う。
type Dispatcher struct {
	repo    Repository
	channel Channel
	log     logrus.FieldLogger
}

// NewDispatcher はDispatcherを生成する。channel は起動時に一度だけ構築したものを渡す。
func NewDispatcher(repo Repository, channel Channel, log logrus.FieldLogger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		repo:    repo,
		channel: channel,
		log:     log.WithField("component", "notification"),
	}
}

// CheckReady はリアルタイムチャネルが配信できる状態かを確認する。
// 通知を伴う書き込みの前に呼び、準備ができていなければ ErrChannelNotReady を返す。
func (d *Dispatcher) CheckReady() error {
	return d.ensureReady()
}

// ensureReady はI/Oの前にチャネルの準備状況を確認する。
func (d *Dispatcher) ensureReady() error {
	if d.channel == nil || !d.channel.Ready() {
		return errno.ErrChannelNotReady
	}
	return nil
}

// NotifyUser は1件の通知を作成し、本人と作成時点の全管理者に配信する。
// userMessage は本人だけ、adminMessage は管理者だけが閲覧できる。
func (d *Dispatcher) NotifyUser(ctx context.Context, userID, userMessage, adminMessage string) (store.Notification, error) {
	if err := d.ensureReady(); err != nil {
		return store.Notification{}, err
	}
	if userMessage == "" && adminMessage == "" {
		return store.Notification{}, errno.New(errno.ErrBadRequest, "通知メッセージが空です")
	}
	if userMessage != "" && userID == "" {
		return store.Notification{}, errno.New(errno.ErrBadRequest, "通知先の利用者が指定されていません")
	}

	admins, err := d.repo.ListUserIDsByRole(ctx, roleAdmin)
	if err != nil {
		return store.Notification{}, errno.Wrap(errno.ErrInternal, "", err)
	}

	rec, err := d.repo.CreateNotification(ctx, store.CreateNotificationParams{
		ID:                uuid.NewString(),
		TargetUserID:      userID,
		AdminRecipientIDs: admins,
		UserMessage:       userMessage,
		AdminMessage:      adminMessage,
	})
	if err != nil {
		return store.Notification{}, errno.Wrap(errno.ErrInternal, "", err)
	}

	if userMessage != "" {
		d.push(ctx, realtime.Topic(userID), event.NotificationData{
			NotificationID: rec.ID,
			UserID:         userID,
			Message:        userMessage,
		})
	}
	if adminMessage != "" {
		for _, adminID := range admins {
			d.push(ctx, realtime.Topic(adminID), event.NotificationData{
				NotificationID: rec.ID,
				UserID:         userID,
				AdminID:        adminID,
				Message:        adminMessage,
			})
		}
	}
	return rec, nil
}

// NotifyAllUsers は一般利用者全員にそれぞれ1件ずつ通知を作成して配信する。
// 作成は1つのトランザクションで行う。
func (d *Dispatcher) NotifyAllUsers(ctx context.Context, userMessage string) ([]store.Notification, error) {
	if err := d.ensureReady(); err != nil {
		return nil, err
	}
	if userMessage == "" {
		return nil, errno.New(errno.ErrBadRequest, "通知メッセージが空です")
	}

	userIDs, err := d.repo.ListUserIDsByRole(ctx, roleUser)
	if err != nil {
		return nil, errno.Wrap(errno.ErrInternal, "", err)
	}
	if len(userIDs) == 0 {
		return []store.Notification{}, nil
	}

	params := make([]store.CreateNotificationParams, 0, len(userIDs))
	for _, id := range userIDs {
		params = append(params, store.CreateNotificationParams{
			ID:           uuid.NewString(),
			TargetUserID: id,
			UserMessage:  userMessage,
		})
	}
	recs, err := d.repo.CreateNotificationBatch(ctx, params)
	if err != nil {
		return nil, errno.Wrap(errno.ErrInternal, "", err)
	}

	for _, rec := range recs {
		d.push(ctx, realtime.Topic(rec.TargetUserID), event.NotificationData{
			NotificationID: rec.ID,
			UserID:         rec.TargetUserID,
			Message:        userMessage,
		})
	}
	return recs, nil
}

// NotifyRoleChange はロール変更を本人にだけ通知する。管理者には配信しない。
func (d *Dispatcher) NotifyRoleChange(ctx context.Context, userID, userMessage string) (store.Notification, error) {
	if err := d.ensureReady(); err != nil {
		return store.Notification{}, err
	}
	if userID == "" || userMessage == "" {
		return store.Notification{}, errno.New(errno.ErrBadRequest, "通知先または通知メッセージが空です")
	}

	rec, err := d.repo.CreateNotification(ctx, store.CreateNotificationParams{
		ID:           uuid.NewString(),
		TargetUserID: userID,
		UserMessage:  userMessage,
	})
	if err != nil {
		return store.Notification{}, errno.Wrap(errno.ErrInternal, "", err)
	}

	d.push(ctx, realtime.Topic(userID), event.NotificationData{
		NotificationID: rec.ID,
		UserID:         userID,
		Message:        userMessage,
	})
	return rec, nil
}

// push は配信に失敗してもログに残すだけで処理を続ける。
func (d *Dispatcher) push(ctx context.Context, topic string, data event.NotificationData) {
	log := d.log.WithFields(logrus.Fields{
		"topic":           topic,
		"notification_id": data.NotificationID,
	})
	ev, err := event.New(topic, event.TypeNotificationCreated, data)
	if err != nil {
		log.WithError(err).Error("イベントの生成に失敗")
		return
	}
	if err := d.channel.Publish(ctx, ev); err != nil {
		log.WithError(err).Warn("リアルタイム配信に失敗しました（通知は保存済み）")
	}
}

// Requester は一覧を要求した利用者。Role は保存されている現在のロール。
type Requester struct {
	ID   string
	Role string
}

// Item は一覧の1件。Message は閲覧者のロールに応じたメッセージ。
type Item struct {
	ID        string
	Message   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ListResult は一覧の1ページ分。
type ListResult struct {
	Items      []Item
	Total      int64
	TotalPages int
	Page       pagination.Page
}

// List は閲覧者のロールに応じて通知を新しい順に返す。
// 該当が無い場合は空のItemsを返し、エラーにはしない。
func (d *Dispatcher) List(ctx context.Context, who Requester, page pagination.Page) (ListResult, error) {
	var (
		recs  []store.Notification
		total int64
		err   error
	)
	isAdmin := who.Role == roleAdmin
	if isAdmin {
		if total, err = d.repo.CountAdminNotifications(ctx); err == nil {
			recs, err = d.repo.ListAdminNotifications(ctx, page.Limit, page.Offset())
		}
	} else {
		if total, err = d.repo.CountUserNotifications(ctx, who.ID); err == nil {
			recs, err = d.repo.ListUserNotifications(ctx, who.ID, page.Limit, page.Offset())
		}
	}
	if err != nil {
		return ListResult{}, errno.Wrap(errno.ErrInternal, "", err)
	}

	items := make([]Item, 0, len(recs))
	for _, r := range recs {
		msg := r.UserMessage
		if isAdmin {
			msg = r.AdminMessage
		}
		items = append(items, Item{
			ID:        r.ID,
			Message:   msg,
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		})
	}
	return ListResult{
		Items:      items,
		Total:      total,
		TotalPages: pagination.TotalPages(total, page.Limit),
		Page:       page,
	}, nil
}
