// Package promocode はプロモーションコードの管理と利用APIを提供する。
//
// コードを適用した利用者は以後の購入が無料になる。1つのコードは1人だけが使用できる。
package promocode

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
	"github.com/nao1215/pmoji/pkg/response"
)

// Repository はプロモーションコードAPIが使用する永続化操作。
type Repository interface {
	CreatePromoCode(ctx context.Context, id, code string) (store.PromoCode, error)
	GetPromoCodeByCode(ctx context.Context, code string) (store.PromoCode, error)
	ListPromoCodes(ctx context.Context) ([]store.PromoCodeListRow, error)
	UpdatePromoCode(ctx context.Context, arg store.UpdatePromoCodeParams) (store.PromoCode, error)
	DeletePromoCode(ctx context.Context, id string) error
	GetUserByID(ctx context.Context, id string) (store.User, error)
	InTx(ctx context.Context, fn func(q *store.Queries) error) error
}

// Handler はプロモーションコード関連のHTTPハンドラ。
type Handler struct {
	repo Repository
	log  logrus.FieldLogger
}

// NewHandler はHandlerを生成する。
func NewHandler(repo Repository, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{repo: repo, log: log.WithField("component", "promocode")}
}

// RegisterRoutes は /promo-code 配下のルートを登録する。
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, auth gin.HandlerFunc) {
	codes := rg.Group("/promo-code", auth)
	{
		codes.POST("/use-promo", middleware.RequireRole(middleware.RoleUser), h.handleUse())
	}

	admin := codes.Group("", middleware.RequireRole(middleware.RoleAdmin))
	{
		admin.POST("/create", h.handleCreate())
		admin.GET("", h.handleList())
		admin.PUT("/update", h.handleUpdate())
		admin.DELETE("", h.handleDelete())
	}
}

type promoCodeResponse struct {
	Serial    int64  `json:"serial,omitempty"`
	ID        string `json:"id"`
	Code      string `json:"code"`
	Status    string `json:"status"`
	UserID    string `json:"userId,omitempty"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func toResponse(p store.PromoCode) promoCodeResponse {
	return promoCodeResponse{
		ID:        p.ID,
		Code:      p.Code,
		Status:    p.Status,
		UserID:    p.UserID,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
		UpdatedAt: p.UpdatedAt.Format(time.RFC3339),
	}
}

func badRequest(err error) error {
	return errno.New(errno.ErrBadRequest, fmt.Sprintf("リクエストが不正です: %v", err))
}

type createRequest struct {
	Code string `json:"code" binding:"required,max=64"`
}

func (h *Handler) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Failed(c, badRequest(err))
			return
		}
		code := strings.TrimSpace(req.Code)

		ctx := c.Request.Context()
		if _, err := h.repo.GetPromoCodeByCode(ctx, code); err == nil {
			response.Failed(c, errno.New(errno.ErrBadRequest, "このプロモーションコードは既に存在します"))
			return
		} else if !errors.Is(err, store.ErrNotFound) {
			response.Failed(c, store.AsErrno(err, "", ""))
			return
		}

		created, err := h.repo.CreatePromoCode(ctx, uuid.NewString(), code)
		if err != nil {
			response.Failed(c, store.AsErrno(err, "", "このプロモーションコードは既に存在します"))
			return
		}
		response.Created(c, "プロモーションコードを作成しました", toResponse(created))
	}
}

// handleList は全てのコードを新しい順に通し番号付きで返す。
func (h *Handler) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := h.repo.ListPromoCodes(c.Request.Context())
		if err != nil {
			response.Failed(c, store.AsErrno(err, "", ""))
			return
		}
		out := make([]promoCodeResponse, 0, len(rows))
		for _, r := range rows {
			p := toResponse(r.PromoCode)
			p.Serial = r.Serial
			out = append(out, p)
		}
		response.OK(c, "プロモーションコード一覧を取得しました", out)
	}
}

type updateRequest struct {
	Code   string `json:"code" binding:"max=64"`
	Status string `json:"status" binding:"omitempty,oneof=new used"`
}

func (h *Handler) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Query("id")
		if id == "" {
			response.Failed(c, errno.New(errno.ErrBadRequest, "id を指定してください"))
			return
		}
		var req updateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Failed(c, badRequest(err))
			return
		}

		updated, err := h.repo.UpdatePromoCode(c.Request.Context(), store.UpdatePromoCodeParams{
			ID:     id,
			Code:   strings.TrimSpace(req.Code),
			Status: req.Status,
		})
		if err != nil {
			response.Failed(c, store.AsErrno(err, "プロモーションコードが見つかりません", "このプロモーションコードは既に存在します"))
			return
		}
		response.OK(c, "プロモーションコードを更新しました", toResponse(updated))
	}
}

func (h *Handler) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Query("id")
		if id == "" {
			response.Failed(c, errno.New(errno.ErrBadRequest, "id を指定してください"))
			return
		}
		if err := h.repo.DeletePromoCode(c.Request.Context(), id); err != nil {
			response.Failed(c, store.AsErrno(err, "プロモーションコードが見つからないか、既に削除されています", ""))
			return
		}
		response.OK(c, "プロモーションコードを削除しました", nil)
	}
}

type useRequest struct {
	PromoCode string `json:"promoCode" binding:"required"`
}

// handleUse はコードを使用済みにして利用者に適用する。
// 未知のコード、使用済みのコード、既に別のコードを適用済みの利用者は400になる。
func (h *Handler) handleUse() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req useRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Failed(c, badRequest(err))
			return
		}

		ctx := c.Request.Context()
		user, err := h.repo.GetUserByID(ctx, middleware.GetUserID(c))
		if err != nil {
			response.Failed(c, store.AsErrno(err, "利用者が見つかりません", ""))
			return
		}
		if user.PromoCode != "" {
			response.Failed(c, errno.New(errno.ErrBadRequest, "既にプロモーションコードを適用済みです"))
			return
		}

		code := strings.TrimSpace(req.PromoCode)
		err = h.repo.InTx(ctx, func(q *store.Queries) error {
			_, err := q.RedeemPromoCode(ctx, code, user.ID)
			return err
		})
		switch {
		case errors.Is(err, store.ErrNotFound):
			response.Failed(c, errno.New(errno.ErrBadRequest, "プロモーションコードが存在しません"))
			return
		case errors.Is(err, store.ErrPromoCodeUsed):
			response.Failed(c, errno.New(errno.ErrBadRequest, "このプロモーションコードは既に他の利用者が使用しています"))
			return
		case err != nil:
			response.Failed(c, store.AsErrno(err, "", ""))
			return
		}

		h.log.WithField("user_id", user.ID).Info("プロモーションコードを適用しました")
		response.OK(c, "プロモーションコードを適用しました", gin.H{"userId": user.ID, "promoCode": code})
	}
}
