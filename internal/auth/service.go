// Package auth はパスワード認証、管理者ブートストラップ、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/postdeck/internal/authz"
	"github.com/hitoshi/postdeck/internal/metrics"
	"github.com/hitoshi/postdeck/internal/model"
	"github.com/hitoshi/postdeck/internal/repository"
	"github.com/hitoshi/postdeck/internal/security"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	AdminSetupCode string // 空の場合は管理者ブートストラップを無効化する
	BcryptCost     int
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo  repository.UserRepository
	limiter   security.LoginLimiter
	metrics   metrics.MetricsCollector
	config    ServiceConfig
	dummyHash string
	now       func() time.Time
}

// NewService はServiceを生成する。limiterがnilの場合はログイン試行を制限しない。
func NewService(
	userRepo repository.UserRepository,
	limiter security.LoginLimiter,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = DefaultBcryptCost
	}
	if collector == nil {
		collector = metrics.Noop{}
	}

	// 存在しないユーザーでも照合時間を揃えるためのハッシュ
	dummyHash, err := HashPassword(uuid.NewString(), config.BcryptCost)
	if err != nil {
		slog.Warn("failed to prepare dummy password hash", slog.String("error", err.Error()))
	}

	return &Service{
		userRepo:  userRepo,
		limiter:   limiter,
		metrics:   collector,
		config:    config,
		dummyHash: dummyHash,
		now:       time.Now,
	}
}

// Login はユーザー名とパスワードを照合し、成功時にユーザーを返す。
// ユーザーの存在有無にかかわらず失敗時は同じエラーを返す。
func (s *Service) Login(ctx context.Context, username, password, clientIP string) (*model.SessionUser, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, model.NewValidationError("Missing credentials")
	}

	keys := throttleKeys(username, clientIP)
	if !s.allowed(ctx, keys) {
		s.metrics.RecordLoginAttempt(metrics.LoginResultThrottled)
		slog.Warn("login throttled",
			slog.String("username", username),
			slog.String("client_ip", clientIP),
		)
		return nil, model.NewRateLimitedError()
	}

	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, model.NewStorageError(err)
	}

	if user == nil {
		VerifyPassword(s.dummyHash, password)
		return nil, s.loginFailed(ctx, keys, username, clientIP)
	}
	if !VerifyPassword(user.PasswordHash, password) {
		return nil, s.loginFailed(ctx, keys, username, clientIP)
	}

	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, keys[0]); err != nil {
			slog.Warn("failed to reset login throttle", slog.String("error", err.Error()))
		}
	}
	s.metrics.RecordLoginAttempt(metrics.LoginResultSuccess)
	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	return user.ToSessionUser(), nil
}

// SetupAdmin は最初の管理者を作成する。
// 管理者が既に存在する場合はセットアップコードの正否にかかわらずConflictを返す。
func (s *Service) SetupAdmin(ctx context.Context, username, password, setupCode string) (*model.SessionUser, error) {
	exists, err := s.userRepo.AdminExists(ctx)
	if err != nil {
		return nil, model.NewStorageError(err)
	}
	if exists {
		return nil, model.NewAdminAlreadyExistsError()
	}

	if !s.setupCodeMatches(setupCode) {
		slog.Warn("invalid admin setup code presented")
		return nil, model.NewInvalidSetupCodeError()
	}

	if strings.TrimSpace(username) == "" || password == "" {
		return nil, model.NewValidationError("Missing fields")
	}

	user, err := s.newUser(username, password, model.RoleAdmin)
	if err != nil {
		return nil, err
	}

	created, err := s.userRepo.CreateFirstAdmin(ctx, user)
	if errors.Is(err, repository.ErrUsernameTaken) {
		return nil, model.NewUsernameTakenError()
	}
	if err != nil {
		return nil, model.NewStorageError(err)
	}
	if !created {
		// 存在確認の後に別リクエストが先に作成した
		return nil, model.NewAdminAlreadyExistsError()
	}

	slog.Info("admin bootstrapped",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return user.ToSessionUser(), nil
}

// CreateUser は管理者がユーザーを作成する。
func (s *Service) CreateUser(ctx context.Context, caller *model.SessionUser, username, password string, role model.Role) (*model.SessionUser, error) {
	if err := authz.RequireAdmin(caller); err != nil {
		return nil, err
	}

	if strings.TrimSpace(username) == "" || password == "" || role == "" {
		return nil, model.NewValidationError("Missing fields")
	}
	if !role.Valid() {
		return nil, model.NewValidationError("Invalid role")
	}

	user, err := s.newUser(username, password, role)
	if err != nil {
		return nil, err
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUsernameTaken) {
			return nil, model.NewUsernameTakenError()
		}
		return nil, model.NewStorageError(err)
	}

	slog.Info("user created",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
		slog.String("created_by", caller.ID),
	)
	return user.ToSessionUser(), nil
}

func (s *Service) newUser(username, password string, role model.Role) (*model.User, error) {
	hash, err := HashPassword(password, s.config.BcryptCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, model.NewValidationError("Password too long")
	}
	if err != nil {
		return nil, err
	}
	return &model.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    s.now(),
	}, nil
}

func (s *Service) setupCodeMatches(code string) bool {
	expected := s.config.AdminSetupCode
	if expected == "" || code == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(code), []byte(expected)) == 1
}

// allowed はすべてのキーが試行可能かどうかを返す。
// バックエンドエラー時は警告ログを出して許可する。
func (s *Service) allowed(ctx context.Context, keys []string) bool {
	if s.limiter == nil {
		return true
	}
	for _, key := range keys {
		ok, err := s.limiter.Check(ctx, key)
		if err != nil {
			slog.Warn("login throttle unavailable", slog.String("error", err.Error()))
			continue
		}
		if !ok {
			return false
		}
	}
	return true
}

func (s *Service) loginFailed(ctx context.Context, keys []string, username, clientIP string) error {
	if s.limiter != nil {
		for _, key := range keys {
			if err := s.limiter.Fail(ctx, key); err != nil {
				slog.Warn("failed to record login failure", slog.String("error", err.Error()))
			}
		}
	}
	s.metrics.RecordLoginAttempt(metrics.LoginResultFailure)
	slog.Warn("login failed",
		slog.String("username", username),
		slog.String("client_ip", clientIP),
	)
	return model.NewInvalidCredentialsError()
}

// throttleKeys はログイン制限のキーを返す。先頭は常にユーザー名のキー。
func throttleKeys(username, clientIP string) []string {
	keys := []string{"user:" + strings.ToLower(username)}
	if clientIP != "" {
		keys = append(keys, "ip:"+clientIP)
	}
	return keys
}
