// Package user はクライアントユーザーの参照を提供する。
// ユーザーの作成はauth.Serviceが担当する。
package user

import (
	"context"

	"github.com/google/uuid"

	"github.com/hitoshi/postdeck/internal/authz"
	"github.com/hitoshi/postdeck/internal/model"
	"github.com/hitoshi/postdeck/internal/repository"
)

// Service はユーザー参照のサービス層。
type Service struct {
	userRepo repository.UserRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository) *Service {
	return &Service{userRepo: userRepo}
}

// ListClients はクライアントロールのユーザー一覧をユーザー名昇順で返す。管理者のみ。
func (s *Service) ListClients(ctx context.Context, caller *model.SessionUser) ([]*model.SessionUser, error) {
	if err := authz.RequireAdmin(caller); err != nil {
		return nil, err
	}

	users, err := s.userRepo.ListByRole(ctx, model.RoleClient)
	if err != nil {
		return nil, model.NewStorageError(err)
	}

	clients := make([]*model.SessionUser, len(users))
	for i, u := range users {
		clients[i] = u.ToSessionUser()
	}
	return clients, nil
}

// ValidateClient は指定IDがクライアントロールの既存ユーザーであることを確認する。
func (s *Service) ValidateClient(ctx context.Context, clientID string) error {
	if _, err := uuid.Parse(clientID); err != nil {
		return model.NewValidationError("Unknown client")
	}

	u, err := s.userRepo.FindByID(ctx, clientID)
	if err != nil {
		return model.NewStorageError(err)
	}
	if u == nil || u.Role != model.RoleClient {
		return model.NewValidationError("Unknown client")
	}
	return nil
}
