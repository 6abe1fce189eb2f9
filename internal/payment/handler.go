// Package payment はステッカー購入と管理者向けの決済照会APIを提供する。
package payment

import (
	"context"
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

const defaultLimit = 5

// Repository は決済APIが使用する永続化操作。
type Repository interface {
	GetUserByID(ctx context.Context, id string) (store.User, error)
	GetStickersByIDs(ctx context.Context, ids []string) ([]store.Sticker, error)
	GetPayment(ctx context.Context, id string) (store.Payment, error)
	ListPayments(ctx context.Context, f store.PaymentFilter, limit, offset int) ([]store.PaymentWithUser, error)
	CountPayments(ctx context.Context, f store.PaymentFilter) (int64, error)
	ListAllPayments(ctx context.Context) ([]store.PaymentWithUser, error)
	InTx(ctx context.Context, fn func(q *store.Queries) error) error
}

// Notifier は購入完了を本人と管理者へ知らせる。
type Notifier interface {
	CheckReady() error
	NotifyUser(ctx context.Context, userID, userMessage, adminMessage string) (store.Notification, error)
}

// Handler は決済関連のHTTPハンドラ。
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
	return &Handler{repo: repo, notifier: notifier, log: log.WithField("component", "payment")}
}

// RegisterRoutes は /transaction 配下のルートを登録する。
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, auth gin.HandlerFunc) {
	tx := rg.Group("/transaction", auth)
	{
		tx.POST("/purchase", middleware.RequireRole(middleware.RoleUser), h.handlePurchase())
	}

	admin := tx.Group("", middleware.RequireRole(middleware.RoleAdmin))
	{
		admin.GET("/all", h.handleList())
		admin.GET("/all-payment", h.handleListAll())
		admin.GET("/detail", h.handleDetail())
	}
}

// paymentResponse は決済のJSON表現。
type paymentResponse struct {
	ID            string   `json:"id"`
	TransactionID string   `json:"transactionId"`
	UserID        string   `json:"userId"`
	UserName      string   `json:"userName,omitempty"`
	StickerIDs    []string `json:"stickerIds"`
	Amount        float64  `json:"amount"`
	Date          string   `json:"date"`
	Status        string   `json:"status"`
	IsCompleted   bool     `json:"isCompleted"`
	CreatedAt     string   `json:"createdAt"`
}

func toPaymentResponse(p store.Payment, userName string) paymentResponse {
	ids := p.StickerIDs
	if ids == nil {
		ids = []string{}
	}
	return paymentResponse{
		ID:            p.ID,
		TransactionID: p.TransactionID,
		UserID:        p.UserID,
		UserName:      userName,
		StickerIDs:    ids,
		Amount:        p.Amount,
		Date:          p.Date,
		Status:        p.Status,
		IsCompleted:   p.IsCompleted,
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
	}
}

func toPaymentResponses(list []store.PaymentWithUser) []paymentResponse {
	out := make([]paymentResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toPaymentResponse(p.Payment, p.UserName))
	}
	return out
}

// purchaseRequest は購入リクエストのJSON構造。
// 決済代行で確定した transactionId を受け取り、記録だけを行う。
type purchaseRequest struct {
	StickerIDs    []string `json:"stickerIds"`
	Amount        float64  `json:"amount" binding:"gte=0"`
	TransactionID string   `json:"transactionId"`
}

// handlePurchase はステッカー購入を記録するハンドラを返す。
//
// プロモーションコードを適用済みの利用者は記録せずに成功を返す。
// 決済の作成とカートの整理は同じトランザクションで行う。
func (h *Handler) handlePurchase() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req purchaseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Failed(c, errno.New(errno.ErrBadRequest, fmt.Sprintf("リクエストが不正です: %v", err)))
			return
		}
		if strings.TrimSpace(req.TransactionID) == "" {
			response.Failed(c, errno.New(errno.ErrUnauthorized, "購入に失敗しました"))
			return
		}

		ctx := c.Request.Context()
		user, err := h.repo.GetUserByID(ctx, middleware.GetUserID(c))
		if err != nil {
			response.Failed(c, store.AsErrno(err, "利用者が見つかりません", ""))
			return
		}
		if user.PromoCode != "" {
			response.OK(c, "プロモーションコード適用済みのため、全てのステッカーは無料です", nil)
			return
		}
		if len(req.StickerIDs) == 0 {
			response.Failed(c, errno.New(errno.ErrBadRequest, "stickerIds を1件以上指定してください"))
			return
		}

		ids := unique(req.StickerIDs)
		stickers, err := h.repo.GetStickersByIDs(ctx, ids)
		if err != nil {
			response.Failed(c, store.AsErrno(err, "", ""))
			return
		}
		if len(stickers) != len(ids) {
			response.Failed(c, errno.New(errno.ErrNotFound, "存在しないステッカーが含まれています"))
			return
		}

		if err := h.notifier.CheckReady(); err != nil {
			response.Failed(c, err)
			return
		}

		var created store.Payment
		err = h.repo.InTx(ctx, func(q *store.Queries) error {
			p, err := q.CreatePayment(ctx, store.CreatePaymentParams{
				ID:            uuid.NewString(),
				TransactionID: req.TransactionID,
				UserID:        user.ID,
				StickerIDs:    ids,
				Amount:        req.Amount,
				Status:        store.PaymentCompleted,
			})
			if err != nil {
				return err
			}
			created = p
			return q.ClearCartItems(ctx, user.ID, ids)
		})
		if err != nil {
			response.Failed(c, store.AsErrno(err, "", "この取引IDは既に記録されています"))
			return
		}

		names := make([]string, 0, len(stickers))
		for _, s := range stickers {
			names = append(names, s.Name)
		}
		joined := strings.Join(names, ", ")
		if _, err := h.notifier.NotifyUser(ctx, user.ID,
			fmt.Sprintf("You successfully purchased the stickers: %q!", joined),
			fmt.Sprintf("%s purchased the stickers: %q and the transaction ID is: %q.", user.Name, joined, req.TransactionID),
		); err != nil {
			h.log.WithError(err).WithField("payment_id", created.ID).Error("購入通知の作成に失敗")
			response.Failed(c, err)
			return
		}

		h.log.WithFields(logrus.Fields{
			"payment_id":     created.ID,
			"user_id":        user.ID,
			"sticker_count":  len(ids),
			"transaction_id": req.TransactionID,
		}).Info("決済を記録しました")
		response.OK(c, "決済が完了しました", toPaymentResponse(created, user.Name))
	}
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

type listResponse struct {
	Payments      []paymentResponse `json:"payments"`
	CurrentPage   int               `json:"currentPage"`
	TotalPages    int               `json:"totalPages"`
	TotalPayments int64             `json:"totalPayments"`
}

// handleList は決済一覧を返すハンドラを返す。name は購入者名、date は決済日で絞り込む。
func (h *Handler) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		page := pagination.FromQuery(c, defaultLimit)
		filter := store.PaymentFilter{UserName: c.Query("name"), Date: c.Query("date")}
		if filter.Date != "" {
			if _, err := time.Parse(time.DateOnly, filter.Date); err != nil {
				response.Failed(c, errno.New(errno.ErrBadRequest, "date は YYYY-MM-DD 形式で指定してください"))
				return
			}
		}

		ctx := c.Request.Context()
		total, err := h.repo.CountPayments(ctx, filter)
		if err != nil {
			response.Failed(c, store.AsErrno(err, "", ""))
			return
		}
		list, err := h.repo.ListPayments(ctx, filter, page.Limit, page.Offset())
		if err != nil {
			response.Failed(c, store.AsErrno(err, "", ""))
			return
		}

		msg := "決済一覧を取得しました"
		if len(list) == 0 {
			msg = "条件に一致する決済はありません"
		}
		response.OK(c, msg, listResponse{
			Payments:      toPaymentResponses(list),
			CurrentPage:   page.Number,
			TotalPages:    pagination.TotalPages(total, page.Limit),
			TotalPayments: total,
		})
	}
}

// handleListAll はページングせずに全ての決済を返すハンドラを返す。
func (h *Handler) handleListAll() gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := h.repo.ListAllPayments(c.Request.Context())
		if err != nil {
			response.Failed(c, store.AsErrno(err, "", ""))
			return
		}
		response.OK(c, "全ての決済を取得しました", gin.H{
			"payments":      toPaymentResponses(list),
			"totalPayments": len(list),
		})
	}
}

type detailResponse struct {
	Name          string   `json:"name"`
	Email         string   `json:"email"`
	Address       string   `json:"address"`
	Phone         string   `json:"phone"`
	StickerNames  []string `json:"stickerNames"`
	Date          string   `json:"date"`
	TransactionID string   `json:"transactionId"`
	Amount        float64  `json:"amount"`
}

// handleDetail は id で指定した決済の購入者とステッカー名を返すハンドラを返す。
func (h *Handler) handleDetail() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Query("id")
		if id == "" {
			response.Failed(c, errno.New(errno.ErrBadRequest, "id を指定してください"))
			return
		}

		ctx := c.Request.Context()
		p, err := h.repo.GetPayment(ctx, id)
		if err != nil {
			response.Failed(c, store.AsErrno(err, "決済が見つかりません", ""))
			return
		}
		u, err := h.repo.GetUserByID(ctx, p.UserID)
		if err != nil {
			response.Failed(c, store.AsErrno(err, "購入者が見つかりません", ""))
			return
		}
		stickers, err := h.repo.GetStickersByIDs(ctx, p.StickerIDs)
		if err != nil {
			response.Failed(c, store.AsErrno(err, "", ""))
			return
		}
		names := make([]string, 0, len(stickers))
		for _, s := range stickers {
			names = append(names, s.Name)
		}

		response.OK(c, "決済を取得しました", detailResponse{
			Name:          u.Name,
			Email:         u.Email,
			Address:       u.Address,
			Phone:         u.Phone,
			StickerNames:  names,
			Date:          p.Date,
			TransactionID: p.TransactionID,
			Amount:        p.Amount,
		})
	}
}
