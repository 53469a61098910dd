// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"

	"github.com/hitoshi/postdeck/internal/auth"
	"github.com/hitoshi/postdeck/internal/authz"
	"github.com/hitoshi/postdeck/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストにセッションユーザーを格納するためのキー。
var userContextKey = contextKey("session_user")

// SessionResolver はセッショントークンからユーザーを解決するインターフェース。
// auth.Managerが実装する。
type SessionResolver interface {
	Resolve(ctx context.Context, token string) *model.SessionUser
}

// NewSessionMiddleware はCookieのセッショントークンをリクエストごとに1回だけ解決し、
// 結果をリクエストコンテキストに注入するミドルウェアを返す。
// 匿名リクエストも通過させる。拒否はRequireUser/RequireAdminまたはサービス層で行う。
func NewSessionMiddleware(resolver SessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.TokenFromRequest(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			user := resolver.Resolve(r.Context(), token)
			if user == nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// RequireUser はログインしていないリクエストを401で拒否する。
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := authz.RequireUser(UserFromContext(r.Context())); err != nil {
			WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin は未ログインを401、管理者以外を403で拒否する。
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := authz.RequireAdmin(UserFromContext(r.Context())); err != nil {
			WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UserFromContext はリクエストコンテキストからセッションユーザーを取得する。
// 匿名リクエストの場合はnilを返す。
func UserFromContext(ctx context.Context) *model.SessionUser {
	user, _ := ctx.Value(userContextKey).(*model.SessionUser)
	return user
}

// ContextWithUser はコンテキストにセッションユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user *model.SessionUser) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}
