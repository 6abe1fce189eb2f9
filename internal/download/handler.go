// Package download は無料ステッカーのダウンロード記録APIを提供する。
package download

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/pmoji/internal/store"
	"github.com/nao1215/pmoji/pkg/errno"
	"github.com/nao1215/pmoji/pkg/middleware"
	"github.com/nao1215/pmoji/pkg/response"
)

// Repository はダウンロードAPIが使用する永続化操作。
type Repository interface {
	GetSticker(ctx context.Context, id string) (store.Sticker, error)
	AddDownload(ctx context.Context, userID, stickerID string) error
	ListDownloadStickerIDs(ctx context.Context, userID string) ([]string, error)
}

// Handler はダウンロードのHTTPハンドラ。
type Handler struct {
	repo Repository
}

// NewHandler はHandlerを生成する。
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// RegisterRoutes は /download を登録する。
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, auth gin.HandlerFunc) {
	rg.POST("/download", auth, middleware.RequireRole(middleware.RoleUser), h.handleDownload())
}

type downloadRequest struct {
	StickerID string `json:"stickerId" binding:"required"`
}

type downloadResponse struct {
	UserID     string   `json:"userId"`
	StickerIDs []string `json:"stickerIds"`
}

// handleDownload はダウンロードを記録し、ダウンロード済みのステッカーID一覧を返す。
// 同じステッカーを何度ダウンロードしても記録は1件になる。
func (h *Handler) handleDownload() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req downloadRequest
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
		if err := h.repo.AddDownload(ctx, userID, req.StickerID); err != nil {
			response.Failed(c, store.AsErrno(err, "", ""))
			return
		}
		ids, err := h.repo.ListDownloadStickerIDs(ctx, userID)
		if err != nil {
			response.Failed(c, store.AsErrno(err, "", ""))
			return
		}
		response.OK(c, "ステッカーをダウンロードしました", downloadResponse{UserID: userID, StickerIDs: ids})
	}
}
