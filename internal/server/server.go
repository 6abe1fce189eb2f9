// Package server はpmoji APIのHTTPサーバーを組み立てて起動する。
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/pmoji/internal/cart"
	"github.com/nao1215/pmoji/internal/config"
	"github.com/nao1215/pmoji/internal/content"
	"github.com/nao1215/pmoji/internal/download"
	"github.com/nao1215/pmoji/internal/notification"
	"github.com/nao1215/pmoji/internal/payment"
	"github.com/nao1215/pmoji/internal/promocode"
	"github.com/nao1215/pmoji/internal/realtime"
	"github.com/nao1215/pmoji/internal/sticker"
	"github.com/nao1215/pmoji/internal/store"
	"github.com/nao1215/pmoji/internal/user"
	"github.com/nao1215/pmoji/pkg/middleware"
)

// bridgeRetryInterval はRedisブリッジが切断されたときの再接続間隔。
const bridgeRetryInterval = 5 * time.Second

// Server はpmoji APIサーバー。
type Server struct {
	// cfg は起動時に読み込んだ設定。
	cfg *config.Config
	// router はGinのHTTPルーター。
	router *gin.Engine
	// store はSQLiteの永続化層。
	store *store.Store
	// hub は通知のリアルタイム配信先。
	hub *realtime.Hub
	// redis はRedisブリッジ用のクライアント。未設定ならnil。
	redis *redis.Client
	log   logrus.FieldLogger

	closeOnce sync.Once
}

// New は設定からサーバーを組み立てる。データベースのマイグレーションと
// スーパー管理者の作成もここで行う。
func New(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Server, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	st, err := store.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("データベースの初期化に失敗: %w", err)
	}

	created, err := user.SeedAdmin(ctx, st, user.AdminSeed{
		Name:     cfg.Admin.Name,
		Email:    cfg.Admin.Email,
		Phone:    cfg.Admin.Phone,
		Password: cfg.Admin.Password,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("スーパー管理者の作成に失敗: %w", err)
	}
	if created {
		log.WithField("email", cfg.Admin.Email).Info("スーパー管理者を作成しました")
	}

	s := &Server{
		cfg:   cfg,
		store: st,
		hub:   realtime.NewHub(log),
		log:   log.WithField("component", "server"),
	}
	if cfg.Redis.Addr != "" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	s.router = s.buildRouter(log)
	return s, nil
}

// Handler はHTTPハンドラを返す。テストから使用する。
func (s *Server) Handler() http.Handler {
	return s.router
}

// buildRouter はミドルウェアと全ドメインのルートを登録する。
func (s *Server) buildRouter(log logrus.FieldLogger) *gin.Engine {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.CORS(s.cfg.Server.CORSOrigins))

	dispatcher := notification.NewDispatcher(s.store, s.hub, log)
	transport := realtime.NewTransport(s.hub, s.cfg.Server.CORSOrigins)
	auth := middleware.JWTAuth(s.cfg.Auth.JWTSecret)

	api := router.Group("/api/v1")
	user.NewHandler(s.store, dispatcher, s.cfg.Auth.JWTSecret, s.cfg.Auth.TokenTTL, log).RegisterRoutes(api, auth)
	sticker.NewHandler(s.store, dispatcher, log).RegisterRoutes(api, auth)
	cart.NewHandler(s.store).RegisterRoutes(api, auth)
	download.NewHandler(s.store).RegisterRoutes(api, auth)
	payment.NewHandler(s.store, dispatcher, log).RegisterRoutes(api, auth)
	promocode.NewHandler(s.store, log).RegisterRoutes(api, auth)
	for _, kind := range content.Kinds {
		content.NewHandler(s.store, kind).RegisterRoutes(api, auth)
	}
	notification.NewHandler(dispatcher, s.store, transport).RegisterRoutes(api, auth)

	router.GET("/health", s.handleHealth())
	return router
}

// healthResponse はヘルスチェックのレスポンス。
type healthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Database string `json:"database"`
	Realtime string `json:"realtime"`
}

// handleHealth はデータベースとリアルタイム配信の状態を返す。
// どちらかが使えなければ503になる。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		res := healthResponse{Status: "ok", Service: "pmoji", Database: "ok", Realtime: "ok"}
		if err := s.store.DB().PingContext(c.Request.Context()); err != nil {
			res.Status, res.Database = "degraded", "unavailable"
		}
		if !s.hub.Ready() {
			res.Status, res.Realtime = "degraded", "unavailable"
		}
		code := http.StatusOK
		if res.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, res)
	}
}

// Run はHTTPサーバーを起動し、ctxが終了するとグレースフルシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+s.cfg.Server.Port)
	if err != nil {
		return fmt.Errorf("ポート %s のリッスンに失敗: %w", s.cfg.Server.Port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve は指定のリスナーでHTTPサーバーを起動する。
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if s.redis != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runBridge(ctx)
		}()
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", ln.Addr().String()).Info("pmoji APIを起動します")
		errCh <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	// 接続中のSSE・WebSocketを先に終わらせる。配信の受付はClose()まで続ける
	s.hub.Drain()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.WithError(err).Warn("グレースフルシャットダウンがタイムアウトしました")
	}
	cancel()
	wg.Wait()

	closeErr := s.Close()
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return fmt.Errorf("HTTPサーバーが異常終了しました: %w", serveErr)
	}
	s.log.Info("pmoji APIを停止しました")
	return closeErr
}

// runBridge はRedisブリッジを動かし続ける。切断されたら間隔を空けて再接続する。
// 接続していない間はプロセス内配信に戻る。
func (s *Server) runBridge(ctx context.Context) {
	bridge := realtime.NewRedisBridge(s.redis, s.cfg.Redis.Channel, s.hub)
	for {
		err := bridge.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		s.log.WithError(err).Warn("Redisブリッジが停止しました。再接続します")
		select {
		case <-ctx.Done():
			return
		case <-time.After(bridgeRetryInterval):
		}
	}
}

// Close はHubとデータベース、Redis接続を閉じる。複数回呼んでもよい。
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.hub.Close()
		var errs []error
		if s.redis != nil {
			errs = append(errs, s.redis.Close())
		}
		errs = append(errs, s.store.Close())
		err = errors.Join(errs...)
	})
	return err
}
