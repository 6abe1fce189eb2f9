// Package user は利用者アカウントと管理者向けの集計APIを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/nao1215/pmoji/internal/store"
	"github.com/nao1215/pmoji/pkg/errno"
	"github.com/nao1215/pmoji/pkg/middleware"
	"github.com/nao1215/pmoji/pkg/pagination"
	"github.com/nao1215/pmoji/pkg/response"
)

// defaultLimit は利用者一覧の1ページあたりのデフォルト件数。
const defaultLimit = 10

var monthNames = [12]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// Repository は利用者APIが使用する永続化操作。
type Repository interface {
	CreateUser(ctx context.Context, arg store.CreateUserParams) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	UpdateUserProfile(ctx context.Context, arg store.UpdateUserProfileParams) (store.User, error)
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
	UpdateUserRole(ctx context.Context, id, role string) error
	ListUsers(ctx context.Context, f store.UserFilter, limit, offset int) ([]store.UserListRow, error)
	CountUsers(ctx context.Context, f store.UserFilter) (int64, error)
	GetDashboardStats(ctx context.Context) (store.DashboardStats, error)
	MonthlyEarnings(ctx context.Context, year int) ([12]float64, error)
}

// Notifier は登録とロール変更の通知に使用する。
type Notifier interface {
	CheckReady() error
	NotifyUser(ctx context.Context, userID, userMessage, adminMessage string) (store.Notification, error)
	NotifyRoleChange(ctx context.Context, userID, userMessage string) (store.Notification, error)
}

// Handler は利用者関連のHTTPハンドラ。
type Handler struct {
	repo      Repository
	notifier  Notifier
	jwtSecret string
	tokenTTL  time.Duration
	log       logrus.FieldLogger
}

// NewHandler はHandlerを生成する。
func NewHandler(repo Repository, notifier Notifier, jwtSecret string, tokenTTL time.Duration, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		repo:      repo,
		notifier:  notifier,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		log:       log.WithField("component", "user"),
	}
}

// RegisterRoutes は /user 配下のルートを登録する。
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, auth gin.HandlerFunc) {
	users := rg.Group("/user")
	{
		users.POST("/register", h.handleRegister())
		users.POST("/login", h.handleLogin())
	}

	authed := users.Group("", auth)
	{
		authed.POST("/change-password", h.handleChangePassword())
		authed.POST("/update", h.handleUpdate())
		authed.GET("/information", h.handleInformation())
	}

	admin := users.Group("", auth, middleware.RequireRole(middleware.RoleAdmin))
	{
		admin.GET("/user-list", h.handleList())
		admin.PUT("/change-role", h.handleChangeRole())
		admin.GET("/dashboard-stats", h.handleDashboardStats())
		admin.GET("/earnings", h.handleEarnings())
	}
}

// userResponse は利用者のJSONレスポンス構造。パスワードハッシュは含めない。
type userResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	Image     string `json:"image"`
	Role      string `json:"role"`
	PromoCode string `json:"promoCode"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func toUserResponse(u store.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Phone:     u.Phone,
		Address:   u.Address,
		Image:     u.Image,
		Role:      u.Role,
		PromoCode: u.PromoCode,
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
		UpdatedAt: u.UpdatedAt.Format(time.RFC3339),
	}
}

func badRequest(err error) error {
	return errno.New(errno.ErrBadRequest, fmt.Sprintf("リクエストが不正です: %v", err))
}

// hashPassword はbcryptでパスワードをハッシュ化する。
func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
	}
	return string(hash), nil
}

// registerRequest は利用者登録リクエストのJSON構造。
type registerRequest struct {
	Name            string `json:"name" binding:"required,max=100"`
	Email           string `json:"email" binding:"required,email"`
	Password        string `json:"password" binding:"required,min=6,max=72"`
	ConfirmPassword string `json:"confirmPassword" binding:"required"`
	Phone           string `json:"phone"`
}

// handleRegister は利用者登録を処理するハンドラを返す。
// 登録後に本人へ歓迎メッセージ、管理者へ登録の知らせを通知する。
func (h *Handler) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Failed(c, badRequest(err))
			return
		}
		if req.Password != req.ConfirmPassword {
			response.Failed(c, errno.New(errno.ErrBadRequest, "パスワードが一致しません"))
			return
		}

		ctx := c.Request.Context()
		_, err := h.repo.GetUserByEmail(ctx, req.Email)
		if err == nil {
			response.Failed(c, errno.New(errno.ErrBadRequest, "既にアカウントが登録されています"))
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			response.Failed(c, store.AsErrno(err, "", ""))
			return
		}

		if err := h.notifier.CheckReady(); err != nil {
			response.Failed(c, err)
			return
		}
		hash, err := hashPassword(req.Password)
		if err != nil {
			response.Failed(c, errno.Wrap(errno.ErrInternal, "", err))
			return
		}
		created, err := h.repo.CreateUser(ctx, store.CreateUserParams{
			ID:           uuid.NewString(),
			Name:         strings.TrimSpace(req.Name),
			Email:        req.Email,
			PasswordHash: hash,
			Phone:        req.Phone,
			Role:         middleware.RoleUser,
		})
		if err != nil {
			response.Failed(c, store.AsErrno(err, "", "既にアカウントが登録されています"))
			return
		}

		if _, err := h.notifier.NotifyUser(ctx, created.ID,
			fmt.Sprintf("Welcome to Pmoji, %s!", created.Name),
			fmt.Sprintf("%s has successfully registered.", created.Name),
		); err != nil {
			h.log.WithError(err).WithField("user_id", created.ID).Error("登録通知の作成に失敗")
			response.Failed(c, err)
			return
		}

		response.Created(c, "登録が完了しました", toUserResponse(created))
	}
}

// loginRequest はログインリクエストのJSON構造。
type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	User  userResponse `json:"user"`
	Token string       `json:"token"`
}

// handleLogin はログインを処理し、JWTトークンを発行するハンドラを返す。
func (h *Handler) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Failed(c, badRequest(err))
			return
		}

		u, err := h.repo.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil {
			response.Failed(c, store.AsErrno(err, "アカウントが存在しません", ""))
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
			response.Failed(c, errno.New(errno.ErrUnauthorized, "パスワードが違います"))
			return
		}

		token, err := middleware.GenerateJWT(h.jwtSecret, h.tokenTTL, middleware.Identity{
			UserID: u.ID,
			Name:   u.Name,
			Email:  u.Email,
			Role:   u.Role,
		})
		if err != nil {
			response.Failed(c, errno.Wrap(errno.ErrInternal, "", err))
			return
		}
		response.OK(c, "ログインしました", loginResponse{User: toUserResponse(u), Token: token})
	}
}

// changePasswordRequest はパスワード変更リクエストのJSON構造。
type changePasswordRequest struct {
	OldPassword     string `json:"oldPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=6,max=72"`
	ConfirmPassword string `json:"confirmPassword" binding:"required"`
}

// handleChangePassword はパスワード変更を処理するハンドラを返す。
func (h *Handler) handleChangePassword() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req changePasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Failed(c, badRequest(err))
			return
		}
		if req.NewPassword != req.ConfirmPassword {
			response.Failed(c, errno.New(errno.ErrBadRequest, "新しいパスワードが一致しません"))
			return
		}

		ctx := c.Request.Context()
		u, err := h.repo.GetUserByID(ctx, middleware.GetUserID(c))
		if err != nil {
			response.Failed(c, store.AsErrno(err, "利用者が見つかりません", ""))
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.OldPassword)); err != nil {
			response.Failed(c, errno.New(errno.ErrUnauthorized, "現在のパスワードが違います"))
			return
		}

		hash, err := hashPassword(req.NewPassword)
		if err != nil {
			response.Failed(c, errno.Wrap(errno.ErrInternal, "", err))
			return
		}
		if err := h.repo.UpdateUserPassword(ctx, u.ID, hash); err != nil {
			response.Failed(c, store.AsErrno(err, "利用者が見つかりません", ""))
			return
		}
		response.OK(c, "パスワードを変更しました", nil)
	}
}

// updateRequest はプロフィール更新リクエストのJSON構造。空のフィールドは変更しない。
type updateRequest struct {
	Name    string `json:"name" binding:"max=100"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Image   string `json:"image" binding:"omitempty,url"`
}

// handleUpdate はプロフィール更新を処理するハンドラを返す。
func (h *Handler) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Failed(c, badRequest(err))
			return
		}

		ctx := c.Request.Context()
		u, err := h.repo.GetUserByID(ctx, middleware.GetUserID(c))
		if err != nil {
			response.Failed(c, store.AsErrno(err, "利用者が見つかりません", ""))
			return
		}

		updated, err := h.repo.UpdateUserProfile(ctx, store.UpdateUserProfileParams{
			ID:      u.ID,
			Name:    orDefault(strings.TrimSpace(req.Name), u.Name),
			Phone:   orDefault(req.Phone, u.Phone),
			Address: orDefault(req.Address, u.Address),
			Image:   orDefault(req.Image, u.Image),
		})
		if err != nil {
			response.Failed(c, store.AsErrno(err, "利用者が見つかりません", ""))
			return
		}
		response.OK(c, "プロフィールを更新しました", toUserResponse(updated))
	}
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// handleInformation は自分の利用者情報を返すハンドラを返す。
func (h *Handler) handleInformation() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := h.repo.GetUserByID(c.Request.Context(), middleware.GetUserID(c))
		if err != nil {
			response.Failed(c, store.AsErrno(err, "利用者が見つかりません", ""))
			return
		}
		response.OK(c, "利用者情報を取得しました", toUserResponse(u))
	}
}

type userListItem struct {
	Serial    int64  `json:"serial"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	PromoCode string `json:"promoCode"`
	// CreatedAt は登録日（YYYY-MM-DD）。
	CreatedAt string `json:"createdAt"`
}

type userListResponse struct {
	Users       []userListItem `json:"users"`
	CurrentPage int            `json:"currentPage"`
	TotalPages  int            `json:"totalPages"`
	TotalUsers  int64          `json:"totalUsers"`
}

// handleList は管理者向けの利用者一覧を返すハンドラを返す。
// 管理者とリクエストした本人は一覧に含めない。
func (h *Handler) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		page := pagination.FromQuery(c, defaultLimit)
		filter := store.UserFilter{
			ExcludeID: middleware.GetUserID(c),
			Name:      c.Query("name"),
			Email:     c.Query("email"),
			Date:      c.Query("date"),
		}
		if filter.Date != "" {
			if _, err := time.Parse(time.DateOnly, filter.Date); err != nil {
				response.Failed(c, errno.New(errno.ErrBadRequest, "date は YYYY-MM-DD 形式で指定してください"))
				return
			}
		}

		ctx := c.Request.Context()
		total, err := h.repo.CountUsers(ctx, filter)
		if err != nil {
			response.Failed(c, store.AsErrno(err, "", ""))
			return
		}
		rows, err := h.repo.ListUsers(ctx, filter, page.Limit, page.Offset())
		if err != nil {
			response.Failed(c, store.AsErrno(err, "", ""))
			return
		}

		items := make([]userListItem, 0, len(rows))
		for _, r := range rows {
			items = append(items, userListItem{
				Serial:    r.Serial,
				ID:        r.ID,
				Name:      r.Name,
				Email:     r.Email,
				Phone:     r.Phone,
				Address:   r.Address,
				PromoCode: r.PromoCode,
				CreatedAt: r.CreatedAt.Format(time.DateOnly),
			})
		}
		response.OK(c, "利用者一覧を取得しました", userListResponse{
			Users:       items,
			CurrentPage: page.Number,
			TotalPages:  pagination.TotalPages(total, page.Limit),
			TotalUsers:  total,
		})
	}
}

// changeRoleRequest はロール変更リクエストのJSON構造。
type changeRoleRequest struct {
	UserID  string `json:"userId" binding:"required"`
	NewRole string `json:"newRole" binding:"required,oneof=admin user"`
}

// handleChangeRole は利用者のロール変更を処理するハンドラを返す。
// 変更後、本人にだけ通知する。
func (h *Handler) handleChangeRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req changeRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Failed(c, badRequest(err))
			return
		}

		ctx := c.Request.Context()
		target, err := h.repo.GetUserByID(ctx, req.UserID)
		if err != nil {
			response.Failed(c, store.AsErrno(err, "利用者が見つかりません", ""))
			return
		}
		if target.Role == req.NewRole {
			response.Failed(c, errno.New(errno.ErrBadRequest, fmt.Sprintf("既に %s ロールです", req.NewRole)))
			return
		}

		if err := h.notifier.CheckReady(); err != nil {
			response.Failed(c, err)
			return
		}
		if err := h.repo.UpdateUserRole(ctx, target.ID, req.NewRole); err != nil {
			response.Failed(c, store.AsErrno(err, "利用者が見つかりません", ""))
			return
		}

		msg := "Your role has been changed to admin."
		if req.NewRole == middleware.RoleUser {
			msg = "Your role has been changed from admin to user."
		}
		if _, err := h.notifier.NotifyRoleChange(ctx, target.ID, msg); err != nil {
			h.log.WithError(err).WithField("target_user_id", target.ID).Error("ロール変更通知の作成に失敗")
			response.Failed(c, err)
			return
		}

		h.log.WithFields(logrus.Fields{
			"target_user_id": target.ID,
			"from":           target.Role,
			"to":             req.NewRole,
			"by":             middleware.GetUserID(c),
		}).Info("ロールを変更しました")
		response.OK(c, "ロールを変更しました", gin.H{"userId": target.ID, "role": req.NewRole})
	}
}

type dashboardResponse struct {
	TotalUsers    int64   `json:"totalUsers"`
	TotalEarnings float64 `json:"totalEarnings"`
	TotalStickers int64   `json:"totalStickers"`
}

// handleDashboardStats は管理画面の集計値を返すハンドラを返す。
func (h *Handler) handleDashboardStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.repo.GetDashboardStats(c.Request.Context())
		if err != nil {
			response.Failed(c, store.AsErrno(err, "", ""))
			return
		}
		response.OK(c, "集計値を取得しました", dashboardResponse{
			TotalUsers:    stats.TotalUsers,
			TotalEarnings: stats.TotalEarnings,
			TotalStickers: stats.TotalStickers,
		})
	}
}

type monthEarning struct {
	Name string  `json:"name"`
	Earn float64 `json:"earn"`
}

type earningsResponse struct {
	Year     int            `json:"year"`
	Earnings []monthEarning `json:"earnings"`
}

// handleEarnings は指定年の月別売上を返すハンドラを返す。year の省略時は今年。
func (h *Handler) handleEarnings() gin.HandlerFunc {
	return func(c *gin.Context) {
		year := time.Now().UTC().Year()
		if raw := c.Query("year"); raw != "" {
			y, err := strconv.Atoi(raw)
			if err != nil || y < 1970 || y > 9999 {
				response.Failed(c, errno.New(errno.ErrBadRequest, "year が不正です"))
				return
			}
			year = y
		}

		months, err := h.repo.MonthlyEarnings(c.Request.Context(), year)
		if err != nil {
			response.Failed(c, store.AsErrno(err, "", ""))
			return
		}
		earnings := make([]monthEarning, 0, len(months))
		for i, v := range months {
			earnings = append(earnings, monthEarning{Name: monthNames[i], Earn: v})
		}
		response.OK(c, "月別売上を取得しました", earningsResponse{Year: year, Earnings: earnings})
	}
}
