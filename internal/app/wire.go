package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/postdeck/internal/auth"
	"github.com/hitoshi/postdeck/internal/comment"
	"github.com/hitoshi/postdeck/internal/config"
	"github.com/hitoshi/postdeck/internal/handler"
	"github.com/hitoshi/postdeck/internal/media"
	"github.com/hitoshi/postdeck/internal/metrics"
	"github.com/hitoshi/postdeck/internal/middleware"
	"github.com/hitoshi/postdeck/internal/notify"
	"github.com/hitoshi/postdeck/internal/post"
	"github.com/hitoshi/postdeck/internal/repository"
	"github.com/hitoshi/postdeck/internal/security"
	"github.com/hitoshi/postdeck/internal/storage"
	"github.com/hitoshi/postdeck/internal/user"
)

const redisPingTimeout = 2 * time.Second

// api はserveモードのHTTPハンドラーと、停止時に解放するリソース。
type api struct {
	handler     http.Handler
	rateLimiter *middleware.RateLimiter
	closers     []io.Closer
}

// Close はレート制限のクリーンアップを止め、外部接続を閉じる。
func (a *api) Close() {
	a.rateLimiter.Stop()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			slog.Warn("failed to close resource", slog.String("error", err.Error()))
		}
	}
}

// newAPI は設定とDB接続から全依存関係を組み立てる。
func newAPI(ctx context.Context, cfg *config.Config, db *sql.DB) (*api, error) {
	a := &api{}

	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 2. リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	postRepo := repository.NewPostgresPostRepo(db)
	commentRepo := repository.NewPostgresCommentRepo(db)

	// 3. 外部接続（Redis / AMQP / Storage）
	limiter, redisClient, err := newLoginLimiter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if redisClient != nil {
		a.closers = append(a.closers, redisClient)
	}

	publisher := newPublisher(cfg)
	a.closers = append(a.closers, publisher)

	backend, local := newStorageBackend(cfg)

	// 4. ドメインサービス
	sessions := auth.NewManager(sessionRepo, auth.ManagerConfig{
		MaxAge:       time.Duration(cfg.SessionMaxAge) * time.Second,
		SecureCookie: cfg.CookieSecure,
		CookieDomain: cfg.CookieDomain,
	}, collector)
	authService := auth.NewService(userRepo, limiter, collector, auth.ServiceConfig{
		AdminSetupCode: cfg.AdminSetupCode,
		BcryptCost:     cfg.BcryptCost,
	})

	sanitizer := security.NewTextSanitizer()
	events := notify.NewDispatcher(publisher, collector)

	userService := user.NewService(userRepo)
	postService := post.NewService(postRepo, userService, sanitizer, events)
	commentService := comment.NewService(commentRepo, postService, sanitizer, events)
	mediaService := media.NewService(backend)

	// 5. ルーター
	a.rateLimiter = middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitGeneral))

	deps := &handler.RouterDeps{
		SessionResolver:    sessions,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        a.rateLimiter,
		TrustProxyHeaders:  cfg.TrustProxyHeaders,
		SecureCookie:       cfg.CookieSecure,
		Logger:             slog.Default(),
		Metrics:            collector,

		AuthService: authService,
		Sessions:    sessions,

		PostService:    postService,
		CommentService: commentService,
		ClientService:  userService,

		MediaService: mediaService,

		DB:             db,
		MetricsHandler: metrics.Handler(reg),
	}
	if cfg.CSRFEnabled {
		deps.CSRF = &middleware.CSRFConfig{
			CookieSecure:   cfg.CookieSecure,
			CookieDomain:   cfg.CookieDomain,
			ExemptPrefixes: []string{handler.UploadPathPrefix},
		}
	}
	if local != nil {
		deps.UploadStore = local
		deps.MediaFiles = local.FileHandler(handler.MediaFilesPrefix)
	}

	a.handler = handler.NewRouter(deps)
	return a, nil
}

// newLoginLimiter はREDIS_URLが設定されていればRedis版、なければインメモリ版のLoginLimiterを返す。
// 起動時にRedisへ到達できない場合はインメモリ版に切り替える。
func newLoginLimiter(ctx context.Context, cfg *config.Config) (security.LoginLimiter, *redis.Client, error) {
	limiterCfg := security.LoginLimiterConfig{
		MaxAttempts: cfg.LoginMaxAttempts,
		Window:      cfg.LoginLockout,
	}
	if cfg.RedisURL == "" {
		return security.NewMemoryLoginLimiter(limiterCfg), nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		slog.Warn("redis unavailable, using in-memory login limiter",
			slog.String("error", err.Error()),
		)
		_ = client.Close()
		return security.NewMemoryLoginLimiter(limiterCfg), nil, nil
	}

	slog.Info("login limiter backed by redis", slog.String("addr", opts.Addr))
	return security.NewRedisLoginLimiter(client, limiterCfg), client, nil
}

// newPublisher はAMQP_URLが設定されていればRabbitMQへのPublisherを返す。
// 未設定または接続できない場合はイベントを捨てるPublisherを返す。
func newPublisher(cfg *config.Config) notify.Publisher {
	if cfg.AMQPURL == "" {
		return notify.NoopPublisher{}
	}
	p, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		slog.Warn("amqp unavailable, domain events are disabled",
			slog.String("error", err.Error()),
		)
		return notify.NoopPublisher{}
	}
	slog.Info("publishing domain events", slog.String("exchange", cfg.AMQPExchange))
	return p
}

// newStorageBackend はSTORAGE_BACKENDに応じたBackendを返す。
// ローカルバックエンドの場合はアップロード受付とファイル配信用に2つ目の戻り値も返す。
func newStorageBackend(cfg *config.Config) (storage.Backend, *storage.LocalBackend) {
	if cfg.StorageBackend == config.StorageBackendSupabase {
		return storage.NewSupabaseBackend(
			&http.Client{Timeout: 15 * time.Second},
			slog.Default(),
			storage.SupabaseConfig{
				URL:        cfg.SupabaseURL,
				ServiceKey: cfg.SupabaseServiceKey,
				Bucket:     cfg.StorageBucket,
			},
		), nil
	}

	local := storage.NewLocalBackend(storage.LocalConfig{
		Dir:      cfg.LocalStorageDir,
		BaseURL:  cfg.PublicBaseURL,
		Secret:   cfg.UploadTokenSecret,
		TokenTTL: cfg.UploadURLTTL,
	})
	return local, local
}
