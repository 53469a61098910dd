// Package authz はロールと担当クライアントに基づく認可判定を提供する。
// すべての判定はストレージ操作の前に行う。
package authz

import "github.com/hitoshi/postdeck/internal/model"

// RequireUser は呼び出し元が認証済みであることを要求する。
func RequireUser(u *model.SessionUser) error {
	if u == nil {
		return model.NewUnauthorizedError()
	}
	return nil
}

// RequireAdmin は呼び出し元が管理者であることを要求する。
// 匿名の場合は401、管理者以外の場合は403相当のエラーを返す。
func RequireAdmin(u *model.SessionUser) error {
	if err := RequireUser(u); err != nil {
		return err
	}
	if !u.IsAdmin() {
		return model.NewForbiddenError()
	}
	return nil
}

// RequirePostAccess は呼び出し元が投稿を参照・変更できることを要求する。
// 管理者はすべての投稿にアクセスできる。それ以外のユーザーは自分が担当する投稿のみ。
func RequirePostAccess(u *model.SessionUser, clientID *string) error {
	if err := RequireUser(u); err != nil {
		return err
	}
	if u.IsAdmin() {
		return nil
	}
	if clientID == nil || *clientID != u.ID {
		return model.NewForbiddenError()
	}
	return nil
}

// ListScope は投稿一覧の絞り込み対象となるクライアントIDを返す。
// 管理者の場合はnil（全件）を返す。
func ListScope(u *model.SessionUser) *string {
	if u == nil || u.IsAdmin() {
		return nil
	}
	id := u.ID
	return &id
}
