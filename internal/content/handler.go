// Package content は利用規約・プライバシーポリシー・運営者情報の本文APIを提供する。
//
// 種別ごとに同じ形のエンドポイントを持つ。本文は保存前にHTMLを無害化する。
package content

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/nao1215/pmoji/internal/store"
	"github.com/nao1215/pmoji/pkg/errno"
	"github.com/nao1215/pmoji/pkg/middleware"
	"github.com/nao1215/pmoji/pkg/response"
)

// Kinds は提供する本文の種別。
var Kinds = []string{store.ContentTerms, store.ContentPrivacy, store.ContentAbout}

// Repository は本文APIが使用する永続化操作。
type Repository interface {
	CreateContent(ctx context.Context, id, kind, description string) (store.Content, error)
	ListContents(ctx context.Context, kind string) ([]store.Content, error)
	DeleteContent(ctx context.Context, kind, id string) error
	InTx(ctx context.Context, fn func(q *store.Queries) error) error
}

// Handler は1つの種別の本文を扱うHTTPハンドラ。
type Handler struct {
	repo   Repository
	kind   string
	policy *bluemonday.Policy
}

// NewHandler は種別kindのHandlerを生成する。
func NewHandler(repo Repository, kind string) *Handler {
	return &Handler{repo: repo, kind: kind, policy: newPolicy()}
}

// RegisterRoutes は /<kind> 配下のルートを登録する。
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, auth gin.HandlerFunc) {
	g := rg.Group("/" + h.kind)
	{
		g.GET("/all", h.handleList())
	}

	admin := g.Group("", auth, middleware.RequireRole(middleware.RoleAdmin))
	{
		admin.POST("/create", h.handleCreate())
		admin.PUT("/update", h.handleUpdate())
		admin.DELETE("/delete", h.handleDelete())
	}
}

type contentResponse struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

func toResponse(c store.Content) contentResponse {
	return contentResponse{
		ID:          c.ID,
		Kind:        c.Kind,
		Description: c.Description,
		CreatedAt:   c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   c.UpdatedAt.Format(time.RFC3339),
	}
}

type descriptionRequest struct {
	Description string `json:"description" binding:"required"`
}

// bindDescription は本文を読み取り無害化する。無害化後に空になった本文は拒否する。
func (h *Handler) bindDescription(c *gin.Context) (string, bool) {
	var req descriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Failed(c, errno.New(errno.ErrBadRequest, fmt.Sprintf("リクエストが不正です: %v", err)))
		return "", false
	}
	clean := strings.TrimSpace(h.policy.Sanitize(req.Description))
	if clean == "" {
		response.Failed(c, errno.New(errno.ErrBadRequest, "description を入力してください"))
		return "", false
	}
	return clean, true
}

func (h *Handler) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		desc, ok := h.bindDescription(c)
		if !ok {
			return
		}
		created, err := h.repo.CreateContent(c.Request.Context(), uuid.NewString(), h.kind, desc)
		if err != nil {
			response.Failed(c, store.AsErrno(err, "", ""))
			return
		}
		response.Created(c, fmt.Sprintf("%s を作成しました", h.kind), toResponse(created))
	}
}

func (h *Handler) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := h.repo.ListContents(c.Request.Context(), h.kind)
		if err != nil {
			response.Failed(c, store.AsErrno(err, "", ""))
			return
		}
		out := make([]contentResponse, 0, len(list))
		for _, item := range list {
			out = append(out, toResponse(item))
		}
		response.OK(c, fmt.Sprintf("%s を取得しました", h.kind), out)
	}
}

// handleUpdate は最新の本文を書き換える。まだ無ければ作成する。
func (h *Handler) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		desc, ok := h.bindDescription(c)
		if !ok {
			return
		}

		ctx := c.Request.Context()
		var saved store.Content
		err := h.repo.InTx(ctx, func(q *store.Queries) error {
			var err error
			saved, err = q.UpsertLatestContent(ctx, uuid.NewString(), h.kind, desc)
			return err
		})
		if err != nil {
			response.Failed(c, store.AsErrno(err, "", ""))
			return
		}
		response.OK(c, fmt.Sprintf("%s を更新しました", h.kind), toResponse(saved))
	}
}

func (h *Handler) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Query("id")
		if id == "" {
			response.Failed(c, errno.New(errno.ErrBadRequest, "id を指定してください"))
			return
		}
		if err := h.repo.DeleteContent(c.Request.Context(), h.kind, id); err != nil {
			response.Failed(c, store.AsErrno(err, "対象が見つからないか、既に削除されています", ""))
			return
		}
		response.OK(c, fmt.Sprintf("%s を削除しました", h.kind), nil)
	}
}
