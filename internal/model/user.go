// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーのロールを表す。
type Role string

const (
	// RoleAdmin は投稿の作成・削除とユーザー作成ができる管理者。
	RoleAdmin Role = "admin"
	// RoleClient は自分に割り当てられた投稿のみ閲覧・承認できるクライアント。
	RoleClient Role = "client"
)

// Valid はロールが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleClient
}

// User はポータルの利用ユーザーを表す。
// 作成後に更新・削除されることはない。
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

// SessionUser はセッションから解決された呼び出し元のユーザーを表す。
// パスワードハッシュを含まないため、そのままレスポンスに使える。
type SessionUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// IsAdmin は管理者ロールかどうかを返す。
func (u *SessionUser) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// ToSessionUser はUserからSessionUserを生成する。
func (u *User) ToSessionUser() *SessionUser {
	return &SessionUser{ID: u.ID, Username: u.Username, Role: u.Role}
}

// Session はユーザーのログインセッションを表す。
// Tokenは推測不能な不透明文字列で、構造を持たない。
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired は指定時刻の時点でセッションが期限切れかどうかを返す。
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}

// SessionWithUser はセッションと所有ユーザーを結合した構造体。
// ユーザーが存在しない場合はUserがnilになる。
type SessionWithUser struct {
	Session
	User *SessionUser
}
