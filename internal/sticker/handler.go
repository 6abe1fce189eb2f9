// Package sticker はステッカーのカタログAPIを提供する。
package sticker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/pmoji/internal/store"
	"github.com/nao1215/pmoji/pkg/errno"
	"github.com/nao1215/pmoji/pkg/middleware"
	"github.com/nao1215/pmoji/pkg/pagination"
	"github.com/nao1215/pmoji/pkg/response"
)

const defaultLimit = 10

// Repository はステッカーAPIが使用する永続化操作。
type Repository interface {
	CreateSticker(ctx context.Context, arg store.StickerParams) (store.Sticker, error)
	GetSticker(ctx context.Context, id string) (store.Sticker, error)
	GetStickerByName(ctx context.Context, name string) (store.Sticker, error)
	ListStickers(ctx context.Context, name string, limit, offset int) ([]store.Sticker, error)
	CountStickers(ctx context.Context, name string) (int64, error)
	UpdateSticker(ctx context.Context, arg store.StickerParams) (store.Sticker, error)
	DeleteSticker(ctx context.Context, id string) error
	ListOwnedStickers(ctx context.Context, userID string) ([]store.Sticker, error)
}

// Notifier は新作ステッカーを全利用者へ知らせる。
type Notifier interface {
	CheckReady() error
	NotifyAllUsers(ctx context.Context, userMessage string) ([]store.Notification, error)
}

// Handler はステッカー関連のHTTPハンドラ。
type Handler struct {
	repo     Repository
	notifier Notifier
	log      logrus.FieldLogger
}

// NewHandler はHandlerを生成する。
func NewHandler(repo Repository, notifier Notifier, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{repo: repo, notifier: notifier, log: log.WithField("component", "sticker")}
}

// RegisterRoutes は /sticker 配下のルートを登録する。
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, auth gin.HandlerFunc) {
	stickers := rg.Group("/sticker")
	{
		stickers.GET("/all", h.handleList())
		stickers.GET("/sticker-detail", h.handleDetail())
		stickers.GET("/my-sticker", auth, h.handleMine())
	}

	admin := stickers.Group("", auth, middleware.RequireRole(middleware.RoleAdmin))
	{
		admin.POST("/create", h.handleCreate())
		admin.PUT("/update", h.handleUpdate())
		admin.DELETE("/delete", h.handleDelete())
	}
}

// Response はステッカーのJSON表現。カートや決済のレスポンスでも使用する。
type Response struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Image       string  `json:"image"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
}

// ToResponse はストアのステッカーをJSON表現に変換する。
func ToResponse(s store.Sticker) Response {
	return Response{
		ID:          s.ID,
		Name:        s.Name,
		Image:       s.Image,
		Price:       s.Price,
		Description: s.Description,
		CreatedAt:   s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   s.UpdatedAt.Format(time.RFC3339),
	}
}

// ToResponses はToResponseのスライス版。nilを渡しても空配列を返す。
func ToResponses(list []store.Sticker) []Response {
	out := make([]Response, 0, len(list))
	for _, s := range list {
		out = append(out, ToResponse(s))
	}
	return out
}

type createRequest struct {
	Name        string  `json:"name" binding:"required,max=100"`
	Image       string  `json:"image" binding:"required"`
	Price       float64 `json:"price" binding:"gte=0"`
	Description string  `json:"description" binding:"max=1000"`
}

// handleCreate はステッカーを登録し、全利用者に通知するハンドラを返す。
func (h *Handler) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Failed(c, errno.New(errno.ErrBadRequest, fmt.Sprintf("リクエストが不正です: %v", err)))
			return
		}
		name := strings.TrimSpace(req.Name)

		if err := h.notifier.CheckReady(); err != nil {
			response.Failed(c, err)
			return
		}

		ctx := c.Request.Context()
		if _, err := h.repo.GetStickerByName(ctx, name); err == nil {
			response.Failed(c, errno.New(errno.ErrBadRequest, "同じ名前のステッカーが既に存在します"))
			return
		} else if !errors.Is(err, store.ErrNotFound) {
			response.Failed(c, store.AsErrno(err, "", ""))
			return
		}

		created, err := h.repo.CreateSticker(ctx, store.StickerParams{
			ID:          uuid.NewString(),
			Name:        name,
			Image:       req.Image,
			Price:       req.Price,
			Description: req.Description,
		})
		if err != nil {
			response.Failed(c, store.AsErrno(err, "", "同じ名前のステッカーが既に存在します"))
			return
		}

		msg := fmt.Sprintf("Pmoji launched a new sticker: %q. You can check it out!", created.Name)
		if _, err := h.notifier.NotifyAllUsers(ctx, msg); err != nil {
			h.log.WithError(err).WithField("sticker_id", created.ID).Error("新作ステッカーの通知に失敗")
			response.Failed(c, err)
			return
		}

		response.Created(c, "ステッカーを登録しました", ToResponse(created))
	}
}

type listResponse struct {
	Stickers      []Response `json:"stickers"`
	CurrentPage   int        `json:"currentPage"`
	TotalPages    int        `json:"totalPages"`
	TotalStickers int64      `json:"totalStickers"`
}

// handleList はステッカー一覧を新しい順に返すハンドラを返す。
// 該当が無い場合は404を返す。
func (h *Handler) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		page := pagination.FromQuery(c, defaultLimit)
		name := c.Query("name")

		ctx := c.Request.Context()
		total, err := h.repo.CountStickers(ctx, name)
		if err != nil {
			response.Failed(c, store.AsErrno(err, "", ""))
			return
		}
		list, err := h.repo.ListStickers(ctx, name, page.Limit, page.Offset())
		if err != nil {
			response.Failed(c, store.AsErrno(err, "", ""))
			return
		}
		if len(list) == 0 {
			response.Failed(c, errno.New(errno.ErrNotFound, "ステッカーが存在しません"))
			return
		}

		response.OK(c, "ステッカー一覧を取得しました", listResponse{
			Stickers:      ToResponses(list),
			CurrentPage:   page.Number,
			TotalPages:    pagination.TotalPages(total, page.Limit),
			TotalStickers: total,
		})
	}
}

// handleDetail は id で指定したステッカーを返すハンドラを返す。
func (h *Handler) handleDetail() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := requireID(c)
		if !ok {
			return
		}
		s, err := h.repo.GetSticker(c.Request.Context(), id)
		if err != nil {
			response.Failed(c, store.AsErrno(err, "ステッカーが見つかりません", ""))
			return
		}
		response.OK(c, "ステッカーを取得しました", ToResponse(s))
	}
}

func requireID(c *gin.Context) (string, bool) {
	id := c.Query("id")
	if id == "" {
		response.Failed(c, errno.New(errno.ErrBadRequest, "id を指定してください"))
		return "", false
	}
	return id, true
}

// updateRequest はステッカー更新リクエスト。省略したフィールドは変更しない。
type updateRequest struct {
	Name        *string  `json:"name" binding:"omitempty,max=100"`
	Image       *string  `json:"image"`
	Price       *float64 `json:"price" binding:"omitempty,gte=0"`
	Description *string  `json:"description" binding:"omitempty,max=1000"`
}

// handleUpdate は id で指定したステッカーを更新するハンドラを返す。
func (h *Handler) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := requireID(c)
		if !ok {
			return
		}
		var req updateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Failed(c, errno.New(errno.ErrBadRequest, fmt.Sprintf("リクエストが不正です: %v", err)))
			return
		}

		ctx := c.Request.Context()
		current, err := h.repo.GetSticker(ctx, id)
		if err != nil {
			response.Failed(c, store.AsErrno(err, "ステッカーが見つかりません", ""))
			return
		}

		arg := store.StickerParams{
			ID:          current.ID,
			Name:        current.Name,
			Image:       current.Image,
			Price:       current.Price,
			Description: current.Description,
		}
		if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
			arg.Name = strings.TrimSpace(*req.Name)
		}
		if req.Image != nil && *req.Image != "" {
			arg.Image = *req.Image
		}
		if req.Price != nil {
			arg.Price = *req.Price
		}
		if req.Description != nil {
			arg.Description = *req.Description
		}

		updated, err := h.repo.UpdateSticker(ctx, arg)
		if err != nil {
			response.Failed(c, store.AsErrno(err, "ステッカーが見つかりません", "同じ名前のステッカーが既に存在します"))
			return
		}
		response.OK(c, "ステッカーを更新しました", ToResponse(updated))
	}
}

// handleDelete は id で指定したステッカーを削除するハンドラを返す。
func (h *Handler) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := requireID(c)
		if !ok {
			return
		}
		if err := h.repo.DeleteSticker(c.Request.Context(), id); err != nil {
			response.Failed(c, store.AsErrno(err, "ステッカーが見つからないか、既に削除されています", ""))
			return
		}
		response.OK(c, "ステッカーを削除しました", nil)
	}
}

// handleMine は購入済み・ダウンロード済みのステッカーを返すハンドラを返す。
func (h *Handler) handleMine() gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := h.repo.ListOwnedStickers(c.Request.Context(), middleware.GetUserID(c))
		if err != nil {
			response.Failed(c, store.AsErrno(err, "", ""))
			return
		}
		if len(list) == 0 {
			response.Failed(c, errno.New(errno.ErrNotFound, "所有しているステッカーがありません"))
			return
		}
		response.OK(c, "所有ステッカーを取得しました", ToResponses(list))
	}
}
