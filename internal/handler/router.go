package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/postdeck/internal/metrics"
	"github.com/hitoshi/postdeck/internal/middleware"
)

// MediaFilesPrefix はローカルバックエンドのファイル配信パス。
const MediaFilesPrefix = "/media/files/"

// UploadPathPrefix はローカルバックエンドのアップロード受付パス。
// 署名付きトークンで認可するためCSRF検証の対象外とする。
const UploadPathPrefix = "/api/media/upload/"

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionResolver    middleware.SessionResolver
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter // nilの場合はレート制限なし
	CSRF               *middleware.CSRFConfig  // nilの場合はCSRF検証なし
	TrustProxyHeaders  bool                    // trueの場合のみRealIPでRemoteAddrを書き換える
	SecureCookie       bool
	Logger             *slog.Logger
	Metrics            metrics.MetricsCollector

	// 認証
	AuthService AuthServiceInterface
	Sessions    SessionIssuer

	// 投稿・コメント・クライアント
	PostService    PostServiceInterface
	CommentService CommentServiceInterface
	ClientService  ClientServiceInterface

	// メディア
	MediaService MediaServiceInterface
	UploadStore  UploadStore  // ローカルバックエンドのみ
	MediaFiles   http.Handler // ローカルバックエンドのみ

	// 運用
	DB             Pinger
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RealIP（TrustProxyHeaders時のみ） → SecurityHeaders → CORS → Session → Logging → RateLimit → CSRF
//
// /health と /metrics はAPIのミドルウェアチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	if deps.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.SecureCookie))

	if deps.DB != nil {
		r.Method(http.MethodGet, "/health", NewHealthHandler(deps.DB))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	if deps.MediaFiles != nil {
		r.Method(http.MethodGet, MediaFilesPrefix+"*", deps.MediaFiles)
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.Sessions)
	postHandler := NewPostHandler(deps.PostService)
	commentHandler := NewCommentHandler(deps.CommentService)
	clientHandler := NewClientHandler(deps.ClientService)
	mediaHandler := NewMediaHandler(deps.MediaService, deps.UploadStore)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))
		r.Use(middleware.NewSessionMiddleware(deps.SessionResolver))
		r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		if deps.CSRF != nil {
			r.Use(middleware.NewCSRFMiddleware(*deps.CSRF))
			r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(*deps.CSRF))
		}

		r.Route("/api/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
			r.Post("/setup-admin", authHandler.SetupAdmin)
			r.With(middleware.RequireAdmin).Post("/create-user", authHandler.CreateUser)
		})

		r.Route("/api/posts", func(r chi.Router) {
			r.With(middleware.RequireUser).Get("/", postHandler.ListPosts)
			r.With(middleware.RequireAdmin).Post("/", postHandler.CreatePost)

			r.Route("/{id}", func(r chi.Router) {
				// 担当クライアントの確認はサービス層で行う
				r.With(middleware.RequireUser).Patch("/", postHandler.UpdatePostStatus)
				r.With(middleware.RequireAdmin).Delete("/", postHandler.DeletePost)
			})
		})

		r.With(middleware.RequireUser).Post("/api/comments", commentHandler.CreateComment)
		r.With(middleware.RequireAdmin).Get("/api/clients", clientHandler.ListClients)

		r.Route("/api/media", func(r chi.Router) {
			r.With(middleware.RequireUser).Post("/upload-url", mediaHandler.CreateUploadURL)
			r.Put("/upload/{token}", mediaHandler.Upload)
		})
	})

	return r
}
