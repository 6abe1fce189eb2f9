// Package cart は利用者ごとのカートAPIを提供する。
package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/pmoji/internal/sticker"
	"github.com/nao1215/pmoji/internal/store"
	"github.com/nao1215/pmoji/pkg/errno"
	"github.com/nao1215/pmoji/pkg/middleware"
	"github.com/nao1215/pmoji/pkg/response"
)

// Repository はカートAPIが使用する永続化操作。
type Repository interface {
	GetSticker(ctx context.Context, id string) (store.Sticker, error)
	AddCartItem(ctx context.Context, userID, stickerID string) error
	ListCartStickers(ctx context.Context, userID string) ([]store.Sticker, error)
	RemoveCartItem(ctx context.Context, userID, stickerID string) error
}

// Handler はカート関連のHTTPハンドラ。
type Handler struct {
	repo Repository
}

// NewHandler はHandlerを生成する。
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// RegisterRoutes は /cart 配下のルートを登録する。
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, auth gin.HandlerFunc) {
	carts := rg.Group("/cart", auth, middleware.RequireRole(middleware.RoleUser))
	{
		carts.POST("/add-to-cart", h.handleAdd())
		carts.GET("/my-cart", h.handleList())
		carts.DELETE("/delete", h.handleRemove())
	}
}

type addRequest struct {
	StickerID string `json:"stickerId" binding:"required"`
}

func (h *Handler) handleAdd() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Failed(c, errno.New(errno.ErrBadRequest, fmt.Sprintf("リクエストが不正です: %v", err)))
			return
		}

		ctx := c.Request.Context()
		userID := middleware.GetUserID(c)
		if _, err := h.repo.GetSticker(ctx, req.StickerID); err != nil {
			response.Failed(c, store.AsErrno(err, "ステッカーが見つかりません", ""))
			return
		}
		if err := h.repo.AddCartItem(ctx, userID, req.StickerID); err != nil {
			if errors.Is(err, store.ErrConflict) {
				response.Failed(c, errno.New(errno.ErrBadRequest, "このステッカーは既にカートに入っています"))
				return
			}
			response.Failed(c, store.AsErrno(err, "", ""))
			return
		}

		list, err := h.repo.ListCartStickers(ctx, userID)
		if err != nil {
			response.Failed(c, store.AsErrno(err, "", ""))
			return
		}
		response.OK(c, "カートに追加しました", sticker.ToResponses(list))
	}
}

// handleList はカートの中身を追加が新しい順に返す。空のカートは空配列になる。
func (h *Handler) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := h.repo.ListCartStickers(c.Request.Context(), middleware.GetUserID(c))
		if err != nil {
			response.Failed(c, store.AsErrno(err, "", ""))
			return
		}
		msg := "カートを取得しました"
		if len(list) == 0 {
			msg = "カートは空です"
		}
		response.OK(c, msg, sticker.ToResponses(list))
	}
}

func (h *Handler) handleRemove() gin.HandlerFunc {
	return func(c *gin.Context) {
		stickerID := c.Query("stickerId")
		if stickerID == "" {
			response.Failed(c, errno.New(errno.ErrBadRequest, "stickerId を指定してください"))
			return
		}

		ctx := c.Request.Context()
		userID := middleware.GetUserID(c)
		if err := h.repo.RemoveCartItem(ctx, userID, stickerID); err != nil {
			response.Failed(c, store.AsErrno(err, "カートにこのステッカーはありません", ""))
			return
		}
		list, err := h.repo.ListCartStickers(ctx, userID)
		if err != nil {
			response.Failed(c, store.AsErrno(err, "", ""))
			return
		}
		response.OK(c, "カートから削除しました", sticker.ToResponses(list))
	}
}
