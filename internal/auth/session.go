package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/postdeck/internal/metrics"
	"github.com/hitoshi/postdeck/internal/model"
)

// SessionCookieName はセッショントークンを運ぶCookie名。
const SessionCookieName = "session"

// DefaultSessionMaxAge はセッションの既定の有効期間（30日）。
const DefaultSessionMaxAge = 30 * 24 * time.Hour

// SessionStore はセッションマネージャーが必要とする永続化操作。
// repository.SessionRepositoryの部分集合として定義する。
type SessionStore interface {
	Create(ctx context.Context, session *model.Session) error
	FindByToken(ctx context.Context, token string) (*model.SessionWithUser, error)
	DeleteByToken(ctx context.Context, token string) error
}

// ManagerConfig はセッションマネージャーの設定。
type ManagerConfig struct {
	MaxAge       time.Duration // セッション有効期間
	SecureCookie bool          // Secure属性を付与するか
	CookieDomain string        // 空の場合はDomain属性を付与しない
}

// Manager はセッショントークンの発行・検証・破棄とCookieの読み書きを行う。
type Manager struct {
	store   SessionStore
	config  ManagerConfig
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewManager はManagerを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewManager(store SessionStore, config ManagerConfig, collector metrics.MetricsCollector) *Manager {
	if config.MaxAge <= 0 {
		config.MaxAge = DefaultSessionMaxAge
	}
	if collector == nil {
		collector = metrics.Noop{}
	}
	return &Manager{
		store:   store,
		config:  config,
		metrics: collector,
		now:     time.Now,
	}
}

// SetClock は現在時刻の取得関数を差し替える。テスト用。
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// CreateToken は暗号的に安全なセッショントークンを生成する。
func CreateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Issue は新しいセッションを作成し永続化する。
func (m *Manager) Issue(ctx context.Context, userID string) (*model.Session, error) {
	token, err := CreateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := m.now()
	session := &model.Session{
		Token:     token,
		UserID:    userID,
		ExpiresAt: now.Add(m.config.MaxAge),
		CreatedAt: now,
	}
	if err := m.store.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	m.metrics.RecordSessionIssued()
	return session, nil
}

// IssueSession はセッションを発行してCookieに書き込む。
// トークンはCookie以外の経路では返さない。
func (m *Manager) IssueSession(ctx context.Context, w http.ResponseWriter, userID string) error {
	session, err := m.Issue(ctx, userID)
	if err != nil {
		return err
	}
	http.SetCookie(w, m.cookie(session.Token, int(m.config.MaxAge.Seconds())))
	return nil
}

// Resolve はトークンから呼び出し元のユーザーを特定する。
// トークンが空・存在しない・ユーザーが存在しない・期限切れの場合はnil（匿名）を返す。
// 期限切れのセッションはその場で削除する。ストレージエラーも匿名として扱う。
func (m *Manager) Resolve(ctx context.Context, token string) *model.SessionUser {
	if token == "" {
		return nil
	}

	session, err := m.store.FindByToken(ctx, token)
	if err != nil {
		slog.Error("failed to resolve session",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if session == nil || session.User == nil {
		return nil
	}

	if session.Expired(m.now()) {
		m.metrics.RecordSessionExpired()
		if err := m.store.DeleteByToken(ctx, token); err != nil {
			slog.Warn("failed to delete expired session",
				slog.String("user_id", session.UserID),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}

	return session.User
}

// ClearSession はセッションを削除し、Cookieを即時失効させる。
// 削除に失敗してもログ出力のみ行い、Cookieは必ず失効させる。
func (m *Manager) ClearSession(ctx context.Context, w http.ResponseWriter, token string) {
	if token != "" {
		if err := m.store.DeleteByToken(ctx, token); err != nil {
			slog.Warn("failed to delete session on logout",
				slog.String("error", err.Error()),
			)
		}
	}
	http.SetCookie(w, m.cookie("", -1))
}

// TokenFromRequest はリクエストのCookieからセッショントークンを取り出す。
func TokenFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// cookie はセッションCookieを組み立てる。maxAgeが負の場合はMax-Age=0で出力される。
func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   m.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.config.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	}
}
