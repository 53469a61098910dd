// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hitoshi/postdeck/internal/model"
)

// ErrUsernameTaken はユーザー名の一意制約違反を表す。
var ErrUsernameTaken = errors.New("username already exists")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByUsername はユーザー名でユーザーを取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Create はユーザーを作成する。ユーザー名が重複する場合はErrUsernameTakenを返す。
	Create(ctx context.Context, user *model.User) error

	// CreateFirstAdmin は管理者が1人も存在しない場合に限り管理者を作成する。
	// 管理者の存在確認と作成は同一トランザクション内でアドバイザリロックを取得して行う。
	// 既に管理者が存在する場合はfalseを返す。
	CreateFirstAdmin(ctx context.Context, user *model.User) (bool, error)

	// AdminExists は管理者ロールのユーザーが存在するかどうかを返す。
	AdminExists(ctx context.Context) (bool, error)

	// ListByRole は指定ロールのユーザー一覧をユーザー名昇順で返す。
	ListByRole(ctx context.Context, role model.Role) ([]*model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// FindByToken は指定トークンのセッションを所有ユーザーと共に取得する。
	// 期限切れのセッションも返す（期限判定は呼び出し側で行う）。見つからない場合はnilを返す。
	FindByToken(ctx context.Context, token string) (*model.SessionWithUser, error)

	// DeleteByToken は指定トークンのセッションを削除する。存在しなくてもエラーにしない。
	DeleteByToken(ctx context.Context, token string) error

	// DeleteExpired は期限切れのセッションを一括削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// PostRepository は投稿データの永続化インターフェース。
type PostRepository interface {
	// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Post, error)

	// List は投稿一覧をコメント付きでscheduled_at昇順に返す。
	// clientIDがnilでない場合はそのクライアントに割り当てられた投稿のみを返す。
	List(ctx context.Context, clientID *string) ([]model.PostWithComments, error)

	// Create は投稿を作成する。
	Create(ctx context.Context, post *model.Post) error

	// UpdateStatus は投稿のステータスを更新する。該当行がない場合はfalseを返す。
	UpdateStatus(ctx context.Context, id string, status model.PostStatus) (bool, error)

	// Delete は投稿を削除する。コメントはCASCADE削除される。該当行がない場合はfalseを返す。
	Delete(ctx context.Context, id string) (bool, error)
}

// CommentRepository はコメントデータの永続化インターフェース。
type CommentRepository interface {
	// Create はコメントを作成する。
	Create(ctx context.Context, comment *model.Comment) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
