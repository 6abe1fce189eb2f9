package notification

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/pmoji/internal/realtime"
	"github.com/nao1215/pmoji/internal/store"
	"github.com/nao1215/pmoji/pkg/errno"
	"github.com/nao1215/pmoji/pkg/middleware"
	"github.com/nao1215/pmoji/pkg/pagination"
	"github.com/nao1215/pmoji/pkg/response"
)

// defaultLimit は通知一覧の1ページあたりのデフォルト件数。
const defaultLimit = 20

// UserFinder は閲覧者の現在のロールを調べるために使用する。
type UserFinder interface {
	GetUserByID(ctx context.Context, id string) (store.User, error)
}

// Handler は通知関連のHTTPハンドラ。
type Handler struct {
	dispatcher *Dispatcher
	users      UserFinder
	transport  *realtime.Transport
}

// NewHandler はHandlerを生成する。
func NewHandler(dispatcher *Dispatcher, users UserFinder, transport *realtime.Transport) *Handler {
	return &Handler{dispatcher: dispatcher, users: users, transport: transport}
}

// RegisterRoutes は /notification 配下のルートを登録する。全て認証が必要。
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, auth gin.HandlerFunc) {
	notifications := rg.Group("/notification", auth)
	{
		// 自分の通知一覧
		notifications.GET("/my-notification", h.handleMyNotifications())
		// リアルタイム配信（WebSocket / SSE）
		notifications.GET("/ws", h.transport.WebSocket(ownTopic))
		notifications.GET("/stream", h.transport.SSE(ownTopic))
	}
}

// ownTopic は認証済み利用者自身のトピックだけを購読させる。
func ownTopic(c *gin.Context) (string, error) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		return "", errno.ErrUnauthorized
	}
	return realtime.Topic(userID), nil
}

// notificationResponse は通知のJSONレスポンス構造。
type notificationResponse struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// Msg は閲覧者のロールに応じたメッセージ。
	Msg string `json:"msg"`
	// CreatedAt は作成日時（RFC3339形式）。
	CreatedAt string `json:"createdAt"`
	// UpdatedAt は更新日時（RFC3339形式）。
	UpdatedAt string `json:"updatedAt"`
}

type listResponse struct {
	Notifications      []notificationResponse `json:"notifications"`
	CurrentPage        int                    `json:"currentPage"`
	TotalPages         int                    `json:"totalPages"`
	TotalNotifications int64                  `json:"totalNotifications"`
	Limit              int                    `json:"limit"`
}

// handleMyNotifications は閲覧者の通知一覧を返す。
// ロールはトークンではなく保存済みの利用者情報から判定する。
func (h *Handler) handleMyNotifications() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		user, err := h.users.GetUserByID(ctx, middleware.GetUserID(c))
		if errors.Is(err, store.ErrNotFound) {
			response.Failed(c, errno.New(errno.ErrNotFound, "利用者が見つかりません"))
			return
		}
		if err != nil {
			response.Failed(c, errno.Wrap(errno.ErrInternal, "", err))
			return
		}

		page := pagination.FromQuery(c, defaultLimit)
		result, err := h.dispatcher.List(ctx, Requester{ID: user.ID, Role: user.Role}, page)
		if err != nil {
			response.Failed(c, err)
			return
		}

		items := make([]notificationResponse, 0, len(result.Items))
		for _, it := range result.Items {
			items = append(items, notificationResponse{
				ID:        it.ID,
				Msg:       it.Message,
				CreatedAt: it.CreatedAt.Format(time.RFC3339),
				UpdatedAt: it.UpdatedAt.Format(time.RFC3339),
			})
		}

		message := "通知を取得しました"
		if len(items) == 0 {
			message = "通知はありません"
		}
		response.OK(c, message, listResponse{
			Notifications:      items,
			CurrentPage:        page.Number,
			TotalPages:         result.TotalPages,
			TotalNotifications: result.Total,
			Limit:              page.Limit,
		})
	}
}
